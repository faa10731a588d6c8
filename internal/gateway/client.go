package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound
	// WebSocket message. Text content tops out at 4000 runes, so the cap
	// leaves room for worst-case UTF-8 plus the frame envelope.
	maxMessageSize = 32768

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// authTimeout is how long a client has to authenticate after connecting
	// when no token was supplied at upgrade time.
	authTimeout = 30 * time.Second

	// floodRate is the sustained inbound events per second allowed on one
	// connection. It sits in front of the per-user message rate limit and
	// also covers events that limit does not count, like typing.
	floodRate = 10
)

// Client represents a single WebSocket connection. Each client runs two
// goroutines (readPump and writePump) and talks to the Hub via its send
// channel and callback methods.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID uuid.UUID
	ip     string
	send   chan []byte
	flood  *rate.Limiter
	log    zerolog.Logger

	// ctx is the connection's lifetime; unregister cancels it so in-flight
	// handler work stops when the socket goes away.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	// Identity, written once on successful authentication.
	mu     sync.RWMutex
	userID uuid.UUID
	authed bool
}

func newClient(hub *Hub, conn *websocket.Conn, ip string, logger zerolog.Logger) *Client {
	connID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		connID: connID,
		ip:     ip,
		send:   make(chan []byte, 256),
		flood:  rate.NewLimiter(rate.Limit(floodRate), 2*hub.cfg.MaxMessagesPerMinute),
		log:    logger.With().Stringer("connection_id", connID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ConnectionID returns the server-assigned connection identifier.
func (c *Client) ConnectionID() uuid.UUID {
	return c.connID
}

// UserID returns the authenticated user ID, or uuid.Nil before auth.
func (c *Client) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Authenticated returns whether the connection has completed authentication.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Client) setIdentity(userID uuid.UUID) {
	c.mu.Lock()
	c.userID = userID
	c.authed = true
	c.mu.Unlock()
}

// readPump reads frames from the connection and routes them by event name.
// It runs in its own goroutine and is responsible for tearing the connection
// down when the read loop exits. A non-empty token authenticates the
// connection up front; otherwise the client must open with an auth frame.
func (c *Client) readPump(token string) {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingTimeout))
		c.hub.keepalive(c)
		return nil
	})

	var authTimer *time.Timer
	if token != "" {
		if !c.authenticate(token) {
			return
		}
	} else {
		authTimer = time.AfterFunc(authTimeout, func() {
			if !c.Authenticated() {
				c.log.Debug().Msg("Client did not authenticate in time")
				c.closeWithCode(CloseNotAuthenticated, "authentication timeout")
			}
		})
		defer authTimer.Stop()
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if !c.flood.Allow() {
			c.sendError("Too many events")
			continue
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.closeWithCode(CloseDecodeError, "invalid JSON")
			return
		}

		if !c.Authenticated() {
			if frame.Event != EventAuth {
				c.closeWithCode(CloseNotAuthenticated, "not authenticated")
				return
			}
			if authTimer != nil {
				authTimer.Stop()
			}
			if !c.handleAuth(frame.Data) {
				return
			}
			continue
		}

		c.hub.dispatch(c, frame)
	}
}

// writePump writes frames from the send channel to the connection and pings
// the peer on a fixed interval. It runs in its own goroutine and exits when
// the send channel is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleAuth processes the first frame of a connection opened without an
// upgrade-time token. Returns false when the connection must close.
func (c *Client) handleAuth(data json.RawMessage) bool {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		c.closeWithCode(CloseDecodeError, "invalid auth payload")
		return false
	}
	if p.Token == "" {
		c.closeWithCode(CloseAuthFailed, "token required")
		return false
	}
	return c.authenticate(p.Token)
}

// authenticate verifies the token with the hub and closes the connection on
// failure. Authentication is the only event whose failure severs the
// connection.
func (c *Client) authenticate(token string) bool {
	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	if err := c.hub.authenticate(ctx, c, token); err != nil {
		c.log.Debug().Err(err).Msg("Authentication failed")
		c.closeWithCode(CloseAuthFailed, "invalid token")
		return false
	}
	return true
}

// enqueue hands a frame to the write pump. If the send buffer is full the
// frame is dropped and the connection is closed so backpressure cannot stall
// the Hub.
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.hub.unregister(c)
		_ = c.conn.Close()
	}
}

// sendEvent marshals and enqueues a server event for this connection only.
func (c *Client) sendEvent(event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}
	c.enqueue(frame)
}

// sendError enqueues an error event carrying a client-facing message.
func (c *Client) sendError(message string) {
	c.sendEvent(EventError, errorPayload{Message: message})
}

// closeSend closes the send channel exactly once, releasing the write pump.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// closeWithCode sends a WebSocket close frame with the given code and
// reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
