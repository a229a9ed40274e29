// Package storage opens the record store selected in the configuration,
// retrying while the backing database comes up.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/sheetsync-server/internal/config"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/store/memory"
	"github.com/stacklok/sheetsync-server/internal/store/mongostore"
	"github.com/stacklok/sheetsync-server/internal/store/sqlstore"
)

// Opener makes one attempt at opening a store
type Opener func(ctx context.Context) (store.Store, error)

// NewStore opens the store described by cfg. Network backed stores are retried
// with exponential backoff until cfg's connect timeout runs out.
func NewStore(ctx context.Context, cfg *config.StorageConfig) (store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config cannot be nil")
	}

	open, err := NewOpener(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.GetType() == config.StorageTypeMemory {
		return open(ctx)
	}
	return OpenWithRetry(ctx, cfg.GetType(), open, cfg.GetConnectTimeout())
}

// NewOpener returns the Opener for the configured storage type
func NewOpener(cfg *config.StorageConfig) (Opener, error) {
	switch cfg.GetType() {
	case config.StorageTypeMemory:
		return func(context.Context) (store.Store, error) {
			slog.Warn("Using in-memory storage, tables are lost on restart")
			return memory.New(), nil
		}, nil
	case config.StorageTypePostgres, config.StorageTypeSQLite:
		dialect := sqlstore.DialectPostgres
		if cfg.GetType() == config.StorageTypeSQLite {
			dialect = sqlstore.DialectSQLite
		}
		sqlCfg := sqlstore.Config{
			Dialect:         dialect,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.GetConnMaxLifetime(),
		}
		return func(ctx context.Context) (store.Store, error) {
			return sqlstore.Open(ctx, sqlCfg)
		}, nil
	case config.StorageTypeMongoDB:
		mongoCfg := mongostore.Config{URI: cfg.DSN, Database: cfg.Database}
		return func(ctx context.Context) (store.Store, error) {
			return mongostore.Open(ctx, mongoCfg)
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetType())
	}
}

// OpenWithRetry calls open until it succeeds, ctx ends or timeout elapses
func OpenWithRetry(ctx context.Context, kind string, open Opener, timeout time.Duration) (store.Store, error) {
	start := time.Now()
	st, err := backoff.Retry(ctx, func() (store.Store, error) {
		st, err := open(ctx)
		if err != nil && errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}
		return st, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Store not reachable yet, retrying",
				"storage", kind,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store after %s: %w", kind, time.Since(start).Round(time.Millisecond), err)
	}

	slog.Info("Record store ready", "storage", kind)
	return st, nil
}
