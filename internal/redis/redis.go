package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/codenamespivey12/MojoCode/internal/config"
)

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner *redis.Client
}

// NewClient connects to the configured server and pings it once.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis host not configured")
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: client}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Ping(ctx).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
