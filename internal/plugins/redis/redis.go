package redis

import (
	"context"
	"fmt"
	"time"

	"pok7/internal/config"
	"pok7/internal/core/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const connectAttempts = 3

// New opens a client for presence and pub/sub and waits until the server
// answers a PING, retrying a few times so a slow redis start does not
// take the process down.
func New(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	// Presence reads carry their own short deadlines.
	opts.ContextTimeoutEnabled = true
	rdb := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, connectAttempts-1), ctx)
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}
	if err := backoff.Retry(ping, policy); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w: %w", domain.ErrPresenceUnavailable, err)
	}
	return rdb, nil
}

// HealthCheck returns a check suitable for /healthz.
func HealthCheck(rdb redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPresenceUnavailable, err)
		}
		return nil
	}
}
