package member

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// Cache holds per-room member sets under room_members:{room_id}.
type Cache struct {
	rdb *redis.Client
}

// NewCache creates a membership cache over the given Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func membersKey(roomID uuid.UUID) string {
	return "room_members:" + roomID.String()
}

// Members returns the cached member set for the room. ok is false when the
// room has no cache entry, which callers must treat differently from an
// empty set.
func (c *Cache) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, bool, error) {
	key := membersKey(roomID)

	pipe := c.rdb.TxPipeline()
	existsCmd := pipe.Exists(ctx, key)
	membersCmd := pipe.SMembers(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("read membership cache for %s: %w", roomID, err)
	}
	if existsCmd.Val() == 0 {
		return nil, false, nil
	}

	raw := membersCmd.Val()
	ids := make([]uuid.UUID, 0, len(raw))
	for _, m := range raw {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, true, nil
}

// Put replaces the room's cached member set and restarts its TTL. An empty
// member list clears the entry entirely so Members reports a miss.
func (c *Cache) Put(ctx context.Context, roomID uuid.UUID, memberIDs []uuid.UUID) error {
	key := membersKey(roomID)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(memberIDs) > 0 {
		vals := make([]any, len(memberIDs))
		for i, id := range memberIDs {
			vals[i] = id.String()
		}
		pipe.SAdd(ctx, key, vals...)
		pipe.Expire(ctx, key, cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put membership cache for %s: %w", roomID, err)
	}
	return nil
}

// Invalidate drops the room's cache entry. The next membership check will
// rebuild it from the repository.
func (c *Cache) Invalidate(ctx context.Context, roomID uuid.UUID) error {
	if err := c.rdb.Del(ctx, membersKey(roomID)).Err(); err != nil {
		return fmt.Errorf("invalidate membership cache for %s: %w", roomID, err)
	}
	return nil
}
