// Package backend opens the configured record store.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/quizimport/internal/config"
	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/store/postgres"
	"github.com/JonMunkholm/quizimport/internal/store/sqlite"
)

// Store is a record store the server and CLI can run against.
type Store interface {
	core.Store
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Count(ctx context.Context, schema *core.RecordSchema) (int, error)
	Close() error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects to the store selected by cfg.Driver and creates missing
// record tables.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		st  Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		st, err = postgres.Open(ctx, postgres.PoolConfig{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		}, logger)
	case config.DriverSQLite:
		st, err = sqlite.Open(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("record store ready", "driver", strings.ToLower(cfg.Driver), "record_types", len(core.All()))
	return st, nil
}
