package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/papo-chat/papo-hub/internal/auth"
	"github.com/papo-chat/papo-hub/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time hub.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler creates a gateway handler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /ws. It upgrades the HTTP connection to a WebSocket and
// hands it to the hub. A bearer token in the Authorization header or the token
// query parameter authenticates the connection at upgrade time; without one
// the client's first frame must be an auth event.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// The fiber context is recycled once this handler returns; everything the
	// connection needs must be captured before the upgrade callback runs.
	token := upgradeToken(c)
	remoteAddr := c.IP()

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, token, remoteAddr)
	})(c)
}

// upgradeToken extracts a token from the upgrade request, preferring the
// Authorization header over the token query parameter.
func upgradeToken(c fiber.Ctx) string {
	if token := auth.BearerToken(c.Get(fiber.HeaderAuthorization)); token != "" {
		return token
	}
	return c.Query("token")
}
