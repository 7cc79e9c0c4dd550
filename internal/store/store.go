package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// Store wraps the Postgres/Timescale pool. Connections are checked out
// per operation; nothing holds one across unrelated I/O.
type Store struct {
	pool   *pgxpool.Pool
	logger logpkg.Logger

	batchSize int
	attempts  int
}

// Option adjusts store behavior.
type Option func(*Store)

// WithBatchSize sets how many records one insert batch carries.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchAttempts sets how many times a failing batch is retried
// before it is counted as failed.
func WithBatchAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// Open connects the pool and verifies the database is reachable.
func Open(ctx context.Context, databaseURL string, logger logpkg.Logger, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		pool:      pool,
		logger:    logger.WithComponent("store"),
		batchSize: 500,
		attempts:  3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies database reachability, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// chunk splits n items into batch-sized index ranges.
func chunk(n, size int) [][2]int {
	if size <= 0 {
		size = 1
	}
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}
