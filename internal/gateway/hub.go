package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/auth"
	"github.com/papo-chat/papo-hub/internal/config"
	"github.com/papo-chat/papo-hub/internal/fanout"
	"github.com/papo-chat/papo-hub/internal/member"
	"github.com/papo-chat/papo-hub/internal/message"
	"github.com/papo-chat/papo-hub/internal/presence"
	"github.com/papo-chat/papo-hub/internal/ratelimit"
	"github.com/papo-chat/papo-hub/internal/session"
)

// Hub is the central WebSocket connection registry and event router. It owns
// the connection and room indexes, authenticates new sockets, and fans events
// out to the connections that should see them.
type Hub struct {
	cfg      *config.Config
	registry *session.Registry
	sessions *session.Store
	presence *presence.Service
	members  *member.Service
	messages *message.Service
	limiter  *ratelimit.Limiter
	notifier *fanout.Engine
	queue    *fanout.Queue
	log      zerolog.Logger

	mu      sync.RWMutex
	conns   map[uuid.UUID]*Client
	rooms   map[uuid.UUID]map[uuid.UUID]*Client
	ipConns map[string]int
}

// NewHub creates a gateway hub.
func NewHub(
	cfg *config.Config,
	registry *session.Registry,
	sessions *session.Store,
	presenceSvc *presence.Service,
	members *member.Service,
	messages *message.Service,
	limiter *ratelimit.Limiter,
	notifier *fanout.Engine,
	queue *fanout.Queue,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		presence: presenceSvc,
		members:  members,
		messages: messages,
		limiter:  limiter,
		notifier: notifier,
		queue:    queue,
		conns:    make(map[uuid.UUID]*Client),
		rooms:    make(map[uuid.UUID]map[uuid.UUID]*Client),
		ipConns:  make(map[string]int),
		log:      logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket runs a new client over an upgraded WebSocket connection. A
// non-empty token, captured from the upgrade request, authenticates the
// connection before the first frame. The call blocks until the connection
// closes.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, token, remoteAddr string) {
	client := newClient(h, conn, remoteAddr, h.log)

	if err := h.track(client); err != nil {
		h.log.Warn().Str("remote_addr", remoteAddr).Msg("Connection limit per address reached")
		client.closeWithCode(CloseTooManyConnections, "too many connections")
		return
	}

	go client.writePump()
	client.readPump(token)
}

// track admits a connection into the hub's indexes, enforcing the per-address
// connection budget before authentication gets a chance to run.
func (h *Hub) track(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ipConns[client.ip] >= h.cfg.MaxConnectionsPerIP {
		return ErrTooManyConnections
	}
	h.ipConns[client.ip]++
	h.conns[client.connID] = client
	return nil
}

// authenticate verifies a JWT, binds the connection to its user, mirrors the
// session, marks the user online, replays queued messages, and announces the
// user to everyone else. Only token problems fail the call; ephemeral store
// trouble is logged and the connection proceeds.
func (h *Hub) authenticate(ctx context.Context, client *Client, token string) error {
	claims, err := auth.Verify(token, h.cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return fmt.Errorf("parse token subject: %w", err)
	}

	client.setIdentity(userID)
	h.registry.Attach(userID, client.connID)

	if err := h.sessions.Save(ctx, client.connID, session.Session{
		UserID:      userID,
		Email:       claims.Email,
		Role:        claims.Role,
		ConnectedAt: time.Now().UTC(),
	}); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to save session")
	}

	if err := h.presence.SetOnline(ctx, userID, presence.StatusOnline); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to set initial presence")
	}

	h.deliverQueued(ctx, client, userID)
	h.broadcastAll(EventUserOnline, presencePayload{UserID: userID}, client.connID)

	h.log.Info().Stringer("user_id", userID).Int("connections", h.registry.CountOf(userID)).Msg("Client authenticated")
	return nil
}

// deliverQueued drains the user's offline queue onto this connection, oldest
// message first.
func (h *Hub) deliverQueued(ctx context.Context, client *Client, userID uuid.UUID) {
	queued, err := h.queue.Drain(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to drain message queue")
		return
	}
	for i := range queued {
		client.sendEvent(EventMessage, &queued[i])
	}
	if len(queued) > 0 {
		h.log.Debug().Stringer("user_id", userID).Int("count", len(queued)).Msg("Delivered queued messages")
	}
}

// unregister tears a connection down: it leaves every room, releases the
// address slot, and, when this was the user's last connection anywhere, marks
// the user offline and tells the others. Safe to call more than once.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.conns[client.connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, client.connID)
	for roomID, members := range h.rooms {
		delete(members, client.connID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.ipConns[client.ip]--
	if h.ipConns[client.ip] <= 0 {
		delete(h.ipConns, client.ip)
	}
	h.mu.Unlock()

	client.cancel()
	client.closeSend()

	userID, remaining, ok := h.registry.Detach(client.connID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.sessions.Delete(ctx, userID, client.connID); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to delete session")
	}

	if remaining > 0 {
		return
	}

	// Another instance may still hold connections for this user; the shared
	// session mirror is the authority on that.
	if others, err := h.sessions.Connections(ctx, userID); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to check sessions elsewhere")
	} else if len(others) > 0 {
		return
	}

	if err := h.presence.SetOffline(ctx, userID); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to mark user offline")
	}
	h.broadcastAll(EventUserOffline, presencePayload{UserID: userID}, uuid.Nil)

	h.log.Debug().Stringer("user_id", userID).Msg("Client unregistered")
}

// keepalive refreshes the presence and session TTLs for a live connection.
// Driven by pong responses from the client.
func (h *Hub) keepalive(client *Client) {
	if !client.Authenticated() {
		return
	}
	userID := client.UserID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.presence.Refresh(ctx, userID)
	if err := h.sessions.Refresh(ctx, userID, client.connID); err != nil {
		h.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to refresh session TTL")
	}
}

// joinRoom adds a connection to a room's routing set.
func (h *Hub) joinRoom(roomID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]*Client)
		h.rooms[roomID] = members
	}
	members[client.connID] = client
}

// leaveRoom removes a connection from a room's routing set.
func (h *Hub) leaveRoom(roomID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, client.connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// broadcastRoom sends an event to every connection joined to the room. skip
// names a connection to exclude; pass uuid.Nil to reach everyone.
func (h *Hub) broadcastRoom(roomID uuid.UUID, event string, data any, skip uuid.UUID) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for connID, c := range h.rooms[roomID] {
		if connID == skip {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// broadcastAll sends an event to every authenticated connection. skip names
// a connection to exclude; pass uuid.Nil to reach everyone.
func (h *Hub) broadcastAll(event string, data any, skip uuid.UUID) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for connID, c := range h.conns {
		if connID == skip || !c.Authenticated() {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// Shutdown closes every active connection with a Going Away status. Normal
// teardown runs for each connection, so sessions and presence clean up the
// same way they would on an ordinary disconnect.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		h.unregister(client)
		_ = client.conn.Close()
	}
	h.log.Info().Int("connections", len(clients)).Msg("Gateway hub shut down")
}

// ClientCount returns the number of tracked connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
