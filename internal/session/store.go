package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// sessionTTL is the lifetime of a session mirror key. Pongs refresh this TTL
// so keys outlive any realistic connection; the 24h cap only reaps mirrors
// whose hub died without cleaning up.
const sessionTTL = 24 * time.Hour

// Session is the claims snapshot mirrored to redis for each live connection.
type Session struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Store mirrors sessions to redis under session:{user_id}:{connection_id} so
// a user's connections can be enumerated across hub instances.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a session store backed by the given redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func sessionKey(userID, connID uuid.UUID) string {
	return "session:" + userID.String() + ":" + connID.String()
}

// Save writes the session mirror with the standard TTL.
func (s *Store) Save(ctx context.Context, connID uuid.UUID, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.UserID, connID), data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("save session for %s: %w", sess.UserID, err)
	}
	return nil
}

// Load reads a session mirror back. Missing keys return redis.Nil wrapped
// with context.
func (s *Store) Load(ctx context.Context, userID, connID uuid.UUID) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(userID, connID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load session for %s: %w", userID, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Refresh extends the TTL of an existing session mirror.
func (s *Store) Refresh(ctx context.Context, userID, connID uuid.UUID) error {
	if err := s.rdb.Expire(ctx, sessionKey(userID, connID), sessionTTL).Err(); err != nil {
		return fmt.Errorf("refresh session for %s: %w", userID, err)
	}
	return nil
}

// Delete removes a single session mirror.
func (s *Store) Delete(ctx context.Context, userID, connID uuid.UUID) error {
	if err := s.rdb.Del(ctx, sessionKey(userID, connID)).Err(); err != nil {
		return fmt.Errorf("delete session for %s: %w", userID, err)
	}
	return nil
}

// Connections enumerates the user's session mirrors across all hub instances
// and returns their connection IDs. Keys are walked with SCAN; KEYS would
// block the redis event loop on large keyspaces.
func (s *Store) Connections(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	prefix := "session:" + userID.String() + ":"

	var ids []uuid.UUID
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		connID, err := uuid.Parse(iter.Val()[len(prefix):])
		if err != nil {
			continue
		}
		ids = append(ids, connID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions for %s: %w", userID, err)
	}
	return ids, nil
}

// DeleteAll removes every session mirror the user holds. Used when tearing
// down a user entirely rather than a single connection.
func (s *Store) DeleteAll(ctx context.Context, userID uuid.UUID) error {
	conns, err := s.Connections(ctx, userID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}
	keys := make([]string, len(conns))
	for i, connID := range conns {
		keys[i] = sessionKey(userID, connID)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete sessions for %s: %w", userID, err)
	}
	return nil
}
