package gateway

import "errors"

// Custom WebSocket close codes used by the hub. Standard codes (1000, 1001)
// are defined by RFC 6455; the 4000 range is reserved for application use.
const (
	CloseUnknownError       = 4000
	CloseDecodeError        = 4002
	CloseNotAuthenticated   = 4003
	CloseAuthFailed         = 4004
	CloseTooManyConnections = 4009
)

// ErrTooManyConnections is returned when an address has exhausted its
// connection budget. It maps to CloseTooManyConnections.
var ErrTooManyConnections = errors.New("connection limit per address reached")
