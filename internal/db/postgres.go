// Package db opens the optional Postgres pool that mirrors snapshots.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMinConns = 1
	defaultMaxConns = 4
)

var (
	newPool = pgxpool.NewWithConfig
	ping    = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

// Connect creates a connection pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = defaultMinConns
	poolCfg.MaxConns = defaultMaxConns

	pool, err := newPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
