// Package redis builds the shared connection pool used by the Credential
// Store and the Post Store (spec.md §5, "Shared resources").
//
// Grounded on the teacher's internal/storage/badger/connection.go pool
// construction pattern (one process-wide handle, injected as a capability
// rather than looked up through a package global — spec.md §9, "Global
// mutable state"), re-targeted at redis/go-redis/v9 since spec.md §1
// mandates Redis as the backing store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/common"
)

// Pool wraps a *redis.Client with the namespace every key is prefixed with.
type Pool struct {
	Client    *redis.Client
	Namespace string
	OpTimeout time.Duration
}

// NewPool dials Redis using the given config and verifies connectivity with
// a PING, mirroring the teacher's connection.go fail-fast-on-startup style.
func NewPool(ctx context.Context, cfg common.RedisConfig, logger arbor.ILogger) (*Pool, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	logger.Info().
		Str("address", cfg.Address).
		Int("pool_size", cfg.PoolSize).
		Int("min_idle_conns", cfg.MinIdleConns).
		Str("namespace", cfg.Namespace).
		Msg("redis connection pool established")

	return &Pool{
		Client:    client,
		Namespace: cfg.Namespace,
		OpTimeout: cfg.OpTimeout,
	}, nil
}

// Close releases pooled connections.
func (p *Pool) Close() error {
	return p.Client.Close()
}

// WithTimeout derives a context bounded by the configured per-operation
// timeout (spec.md §5: "5 s operation timeout").
func (p *Pool) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.OpTimeout)
}
