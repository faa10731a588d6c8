// Package redis provides the shared client for the ephemeral store. Every
// hub-side key space (sessions, presence, typing, queues, rate counters,
// membership cache) lives on the client returned by Connect.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Connect parses the Redis URL, applies the optional password override, and
// pings to verify the connection before returning the client.
func Connect(ctx context.Context, rawURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
