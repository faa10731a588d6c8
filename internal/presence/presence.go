// Package presence provides ephemeral presence and typing state backed by
// redis. Presence keys expire after 5 minutes and are refreshed by the
// gateway's keepalive pongs; a missing key means the user is offline. Typing
// indicators live in a per-room set whose TTL is re-armed on every
// typing_start.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// presenceTTL is the lifetime of a presence key. Keepalive pongs refresh this
// TTL so keys expire only when every connection stops responding.
const presenceTTL = 5 * time.Minute

const (
	// StatusOnline indicates the user has at least one active connection.
	StatusOnline = "online"
	// StatusAway indicates the user is connected but idle.
	StatusAway = "away"
	// StatusBusy indicates the user does not want to be disturbed.
	StatusBusy = "busy"
	// StatusOffline is the implicit status when no presence key exists. It is
	// never stored; going offline deletes the key.
	StatusOffline = "offline"
)

// ValidStatus returns true for the statuses a client may request via
// update_status. Offline is valid there because it routes to the offline
// path rather than being written verbatim.
func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	default:
		return false
	}
}

// Store reads and writes ephemeral presence and typing state in redis.
type Store struct {
	rdb       *redis.Client
	typingTTL time.Duration
}

// NewStore creates a presence store. typingTTL bounds how long a user stays
// in a room's typing set without an explicit typing_stop.
func NewStore(rdb *redis.Client, typingTTL time.Duration) *Store {
	return &Store{rdb: rdb, typingTTL: typingTTL}
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

func typingKey(roomID uuid.UUID) string {
	return "typing:" + roomID.String()
}

// Set stores the user's presence status with the standard TTL.
func (s *Store) Set(ctx context.Context, userID uuid.UUID, status string) error {
	if err := s.rdb.Set(ctx, presenceKey(userID), status, presenceTTL).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's current presence status. A missing key means the
// user is offline.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (string, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("get presence for %s: %w", userID, err)
	}
	return val, nil
}

// GetMany returns the stored status for each user whose presence key exists,
// in a single MGET. Users absent from the result are offline.
func (s *Store) GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}

	result := make(map[uuid.UUID]string, len(userIDs))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if status, ok := v.(string); ok {
			result[userIDs[i]] = status
		}
	}
	return result, nil
}

// Refresh extends the TTL of an existing presence key without changing the
// stored status.
func (s *Store) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("refresh presence for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's presence key. After deletion the user is
// considered offline.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

// AddTyping adds the user to the room's typing set and re-arms the set's
// TTL, so the indicator self-expires when the client never sends
// typing_stop.
func (s *Store) AddTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	key := typingKey(roomID)
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, key, userID.String())
	pipe.Expire(ctx, key, s.typingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add typing for %s in %s: %w", userID, roomID, err)
	}
	return nil
}

// RemoveTyping removes the user from the room's typing set.
func (s *Store) RemoveTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := s.rdb.SRem(ctx, typingKey(roomID), userID.String()).Err(); err != nil {
		return fmt.Errorf("remove typing for %s in %s: %w", userID, roomID, err)
	}
	return nil
}

// TypingUsers returns the users currently typing in the room.
func (s *Store) TypingUsers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.rdb.SMembers(ctx, typingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("typing users for %s: %w", roomID, err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
