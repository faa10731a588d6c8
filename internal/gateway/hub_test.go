package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/papo-chat/papo-hub/internal/auth"
	"github.com/papo-chat/papo-hub/internal/config"
	"github.com/papo-chat/papo-hub/internal/fanout"
	"github.com/papo-chat/papo-hub/internal/member"
	"github.com/papo-chat/papo-hub/internal/message"
	"github.com/papo-chat/papo-hub/internal/presence"
	"github.com/papo-chat/papo-hub/internal/ratelimit"
	"github.com/papo-chat/papo-hub/internal/session"
	"github.com/papo-chat/papo-hub/internal/store"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// fakeRepo implements store.Repository for testing.
type fakeRepo struct {
	mu        sync.Mutex
	members   map[uuid.UUID][]uuid.UUID
	messages  map[uuid.UUID]*store.Message
	notifs    []store.NewNotification
	profiles  map[uuid.UUID]*store.SenderProfile
	statuses  map[uuid.UUID]string
	memberErr error
	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		members:  make(map[uuid.UUID][]uuid.UUID),
		messages: make(map[uuid.UUID]*store.Message),
		profiles: make(map[uuid.UUID]*store.SenderProfile),
		statuses: make(map[uuid.UUID]string),
	}
}

func (f *fakeRepo) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return false, f.memberErr
	}
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListRoomMembers(_ context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return append([]uuid.UUID(nil), f.members[roomID]...), nil
}

func (f *fakeRepo) InsertMessage(_ context.Context, params store.NewMessage) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	now := time.Now().UTC()
	msg := &store.Message{
		ID:          uuid.New(),
		RoomID:      params.RoomID,
		SenderID:    params.SenderID,
		Content:     params.Content,
		MessageType: params.MessageType,
		ReplyTo:     params.ReplyTo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.messages[msg.ID] = msg
	copied := *msg
	return &copied, nil
}

func (f *fakeRepo) InsertAttachment(_ context.Context, messageID uuid.UUID, params store.NewAttachment) (*store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &store.Attachment{
		ID:            uuid.New(),
		MessageID:     messageID,
		FileName:      params.FileName,
		FileType:      params.FileType,
		FileSize:      params.FileSize,
		StoragePath:   params.StoragePath,
		MimeType:      params.MimeType,
		ThumbnailPath: params.ThumbnailPath,
		Width:         params.Width,
		Height:        params.Height,
		Duration:      params.Duration,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeRepo) UpdateMessageContent(_ context.Context, messageID, senderID uuid.UUID, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.SenderID != senderID || msg.IsDeleted {
		return nil, store.ErrNotFound
	}
	msg.Content = &content
	msg.IsEdited = true
	msg.UpdatedAt = time.Now().UTC()
	copied := *msg
	return &copied, nil
}

func (f *fakeRepo) SoftDeleteMessage(_ context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.SenderID != senderID {
		return uuid.Nil, store.ErrNotFound
	}
	msg.IsDeleted = true
	return msg.RoomID, nil
}

func (f *fakeRepo) FetchSenderProfile(_ context.Context, userID uuid.UUID) (*store.SenderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpdateProfileStatus(_ context.Context, userID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[userID] = status
	return nil
}

func (f *fakeRepo) FetchProfileStatus(_ context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) InsertNotification(_ context.Context, params store.NewNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifs = append(f.notifs, params)
	return nil
}

func (f *fakeRepo) status(userID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[userID]
}

func (f *fakeRepo) notifications() []store.NewNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.NewNotification(nil), f.notifs...)
}

func (f *fakeRepo) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:             "test-secret-for-gateway",
		MaxMessagesPerMinute:  30,
		MaxConnectionsPerIP:   5,
		MessageQueueRetention: time.Minute,
		PingTimeout:           60 * time.Second,
		PingInterval:          25 * time.Second,
		TypingTimeout:         10 * time.Second,
	}
}

// testHub bundles a hub with the stores its tests poke at directly.
type testHub struct {
	hub   *Hub
	repo  *fakeRepo
	queue *fanout.Queue
	mr    *miniredis.Miniredis
	rdb   *redis.Client
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	mr, rdb := newTestRedis(t)
	repo := newFakeRepo()
	cfg := testConfig()

	presStore := presence.NewStore(rdb, cfg.TypingTimeout)
	queue := fanout.NewQueue(rdb, cfg.MessageQueueRetention)
	hub := NewHub(
		cfg,
		session.NewRegistry(),
		session.NewStore(rdb),
		presence.NewService(presStore, repo, zerolog.Nop()),
		member.NewService(repo, member.NewCache(rdb), zerolog.Nop()),
		message.NewService(repo, zerolog.Nop()),
		ratelimit.NewLimiter(rdb, cfg.MaxMessagesPerMinute, time.Minute, zerolog.Nop()),
		fanout.NewEngine(repo, repo, presStore, queue, zerolog.Nop()),
		queue,
		zerolog.Nop(),
	)
	return &testHub{hub: hub, repo: repo, queue: queue, mr: mr, rdb: rdb}
}

// token mints an HS256 token the way the identity provider would.
func (th *testHub) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Email: "user@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(th.hub.cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// addClient tracks and authenticates a connection without a real socket,
// producing the state ServeWebSocket plus a valid token would.
func (th *testHub) addClient(t *testing.T, userID uuid.UUID) *Client {
	t.Helper()
	client := newClient(th.hub, nil, "127.0.0.1", zerolog.Nop())
	if err := th.hub.track(client); err != nil {
		t.Fatalf("track() error = %v", err)
	}
	if err := th.hub.authenticate(context.Background(), client, th.token(t, userID)); err != nil {
		t.Fatalf("authenticate() error = %v", err)
	}
	return client
}

// recvFrame pops the next frame from a client's send buffer.
func recvFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case msg := <-c.send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

// wantNoFrame asserts the client's send buffer is empty. Dispatch and
// broadcast run synchronously, so anything owed is already buffered.
func wantNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame: %s", msg)
	default:
	}
}

func decodePayload[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("unmarshal %s payload: %v", f.Event, err)
	}
	return v
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestAuthenticateRegistersAndAnnounces(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	bobID := uuid.New()
	bob := th.addClient(t, bobID)
	drain(bob)

	aliceID := uuid.New()
	alice := th.addClient(t, aliceID)

	if got := th.hub.registry.CountOf(aliceID); got != 1 {
		t.Errorf("CountOf(alice) = %d, want 1", got)
	}
	if got, err := th.mr.Get("presence:" + aliceID.String()); err != nil || got != presence.StatusOnline {
		t.Errorf("presence key = %q, %v, want %q", got, err, presence.StatusOnline)
	}
	if !th.mr.Exists("session:" + aliceID.String() + ":" + alice.connID.String()) {
		t.Error("session mirror key was not written")
	}
	if got := th.repo.status(aliceID); got != presence.StatusOnline {
		t.Errorf("durable status = %q, want %q", got, presence.StatusOnline)
	}

	online := recvFrame(t, bob)
	if online.Event != EventUserOnline {
		t.Fatalf("bob received %q, want %q", online.Event, EventUserOnline)
	}
	if p := decodePayload[presencePayload](t, online); p.UserID != aliceID {
		t.Errorf("user_online for %s, want %s", p.UserID, aliceID)
	}

	// The announcement skips the connection that caused it.
	wantNoFrame(t, alice)
}

func TestAuthenticateDeliversQueuedMessagesOldestFirst(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)
	ctx := context.Background()

	aliceID := uuid.New()
	first := "while you were away"
	second := "still here?"
	for _, content := range []string{first, second} {
		body := content
		msg := &store.Message{ID: uuid.New(), RoomID: uuid.New(), SenderID: uuid.New(), Content: &body, MessageType: "text"}
		if err := th.queue.Push(ctx, aliceID, msg); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	alice := th.addClient(t, aliceID)

	for i, want := range []string{first, second} {
		f := recvFrame(t, alice)
		if f.Event != EventMessage {
			t.Fatalf("frame %d event = %q, want %q", i, f.Event, EventMessage)
		}
		msg := decodePayload[store.Message](t, f)
		if msg.Content == nil || *msg.Content != want {
			t.Errorf("frame %d content = %v, want %q", i, msg.Content, want)
		}
	}
	wantNoFrame(t, alice)

	if th.mr.Exists("queue:" + aliceID.String()) {
		t.Error("queue key survived the drain")
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	client := newClient(th.hub, nil, "127.0.0.1", zerolog.Nop())
	if err := th.hub.track(client); err != nil {
		t.Fatalf("track() error = %v", err)
	}

	if err := th.hub.authenticate(context.Background(), client, "not-a-token"); err == nil {
		t.Fatal("authenticate() accepted a garbage token")
	}
	if client.Authenticated() {
		t.Error("client marked authenticated after failed verify")
	}
	if got := th.hub.registry.TotalConnections(); got != 0 {
		t.Errorf("registry connections = %d, want 0", got)
	}
}

func TestTrackEnforcesPerAddressLimit(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)
	th.hub.cfg.MaxConnectionsPerIP = 2

	for i := 0; i < 2; i++ {
		c := newClient(th.hub, nil, "10.0.0.1", zerolog.Nop())
		if err := th.hub.track(c); err != nil {
			t.Fatalf("track() #%d error = %v", i, err)
		}
	}

	over := newClient(th.hub, nil, "10.0.0.1", zerolog.Nop())
	if err := th.hub.track(over); err != ErrTooManyConnections {
		t.Errorf("track() error = %v, want ErrTooManyConnections", err)
	}

	other := newClient(th.hub, nil, "10.0.0.2", zerolog.Nop())
	if err := th.hub.track(other); err != nil {
		t.Errorf("track() from another address error = %v", err)
	}
}

func TestUnregisterLastConnectionMarksOffline(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	aliceID := uuid.New()
	bobID := uuid.New()
	alice := th.addClient(t, aliceID)
	bob := th.addClient(t, bobID)
	drain(bob)

	th.hub.unregister(alice)

	if th.mr.Exists("presence:" + aliceID.String()) {
		t.Error("presence key survived the last disconnect")
	}
	if th.mr.Exists("session:" + aliceID.String() + ":" + alice.connID.String()) {
		t.Error("session mirror survived the disconnect")
	}
	if got := th.repo.status(aliceID); got != presence.StatusOffline {
		t.Errorf("durable status = %q, want %q", got, presence.StatusOffline)
	}
	if got := th.hub.registry.CountOf(aliceID); got != 0 {
		t.Errorf("CountOf(alice) = %d, want 0", got)
	}

	offline := recvFrame(t, bob)
	if offline.Event != EventUserOffline {
		t.Fatalf("bob received %q, want %q", offline.Event, EventUserOffline)
	}
	if p := decodePayload[presencePayload](t, offline); p.UserID != aliceID {
		t.Errorf("user_offline for %s, want %s", p.UserID, aliceID)
	}
}

func TestUnregisterKeepsUserOnlineWhileConnectionsRemain(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	aliceID := uuid.New()
	bobID := uuid.New()
	laptop := th.addClient(t, aliceID)
	phone := th.addClient(t, aliceID)
	bob := th.addClient(t, bobID)
	drain(bob)
	drain(laptop)
	drain(phone)

	th.hub.unregister(laptop)

	if !th.mr.Exists("presence:" + aliceID.String()) {
		t.Error("presence key deleted while another connection remains")
	}
	if got := th.hub.registry.CountOf(aliceID); got != 1 {
		t.Errorf("CountOf(alice) = %d, want 1", got)
	}
	wantNoFrame(t, bob)
}

func TestUnregisterHonorsSessionsElsewhere(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)
	ctx := context.Background()

	aliceID := uuid.New()
	bobID := uuid.New()
	alice := th.addClient(t, aliceID)
	bob := th.addClient(t, bobID)
	drain(bob)

	// A mirror written by another instance keeps the user online here.
	sessions := session.NewStore(th.rdb)
	if err := sessions.Save(ctx, uuid.New(), session.Session{UserID: aliceID, ConnectedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	th.hub.unregister(alice)

	if !th.mr.Exists("presence:" + aliceID.String()) {
		t.Error("presence key deleted despite a session on another instance")
	}
	wantNoFrame(t, bob)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	aliceID := uuid.New()
	alice := th.addClient(t, aliceID)

	th.hub.unregister(alice)
	th.hub.unregister(alice)

	if got := th.hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestKeepaliveRefreshesTTLs(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	aliceID := uuid.New()
	alice := th.addClient(t, aliceID)

	th.mr.FastForward(4 * time.Minute)
	th.hub.keepalive(alice)

	if got := th.mr.TTL("presence:" + aliceID.String()); got != 5*time.Minute {
		t.Errorf("presence TTL = %s, want %s", got, 5*time.Minute)
	}
	if got := th.mr.TTL("session:" + aliceID.String() + ":" + alice.connID.String()); got != 24*time.Hour {
		t.Errorf("session TTL = %s, want %s", got, 24*time.Hour)
	}
}

func TestBroadcastRoomSkipsConnection(t *testing.T) {
	t.Parallel()
	th := newTestHub(t)

	aliceID, bobID, carolID := uuid.New(), uuid.New(), uuid.New()
	alice := th.addClient(t, aliceID)
	bob := th.addClient(t, bobID)
	carol := th.addClient(t, carolID)

	roomID := uuid.New()
	th.hub.joinRoom(roomID, alice)
	th.hub.joinRoom(roomID, bob)
	drain(alice)
	drain(bob)
	drain(carol)

	th.hub.broadcastRoom(roomID, EventUserTyping, roomMemberPayload{UserID: aliceID, RoomID: roomID}, alice.connID)

	f := recvFrame(t, bob)
	if f.Event != EventUserTyping {
		t.Errorf("bob received %q, want %q", f.Event, EventUserTyping)
	}
	wantNoFrame(t, alice)
	wantNoFrame(t, carol)
}
