package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/papo-chat/papo-hub/internal/store"
)

// Queue holds message envelopes for users with no live connection. Each
// user's queue is a Redis list under queue:{user_id}; the envelope is the
// same JSON the message event broadcasts, so draining replays exactly what
// the user would have received live.
type Queue struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewQueue creates an offline queue whose entries survive for retention
// after the last push.
func NewQueue(rdb *redis.Client, retention time.Duration) *Queue {
	return &Queue{rdb: rdb, retention: retention}
}

func queueKey(userID uuid.UUID) string {
	return "queue:" + userID.String()
}

// Push appends the message to the user's queue and re-arms the retention
// TTL.
func (q *Queue) Push(ctx context.Context, userID uuid.UUID, msg *store.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", userID, err)
	}

	key := queueKey(userID)
	pipe := q.rdb.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.Expire(ctx, key, q.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue message for %s: %w", userID, err)
	}
	return nil
}

// Drain reads and clears the user's queue in one transaction, so two
// connections draining at once cannot both deliver the same envelope.
// Messages come back oldest-first: LPUSH prepends, so the list is stored
// newest-first and the walk below reverses it.
func (q *Queue) Drain(ctx context.Context, userID uuid.UUID) ([]store.Message, error) {
	key := queueKey(userID)

	pipe := q.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain queue for %s: %w", userID, err)
	}

	raw := rangeCmd.Val()
	msgs := make([]store.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg store.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			// The list is already deleted; skip the corrupt envelope and
			// keep the rest.
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
