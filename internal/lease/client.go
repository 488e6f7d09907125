package lease

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings for the Redis lease store.
type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// NewClient connects to Redis and verifies the connection with a PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lease.NewClient: ping redis: %w", err)
	}
	return client, nil
}
