// Package postgres implements the persisted record store on PostgreSQL
// using a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/store"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store provides PostgreSQL-backed record persistence.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		logger.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		logger.Info("connected to database")
	}

	return New(pool, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates a table for every registered schema that lacks one.
func (s *Store) Migrate(ctx context.Context) error {
	for _, schema := range core.All() {
		ddl := store.TableDDL(schema, "TIMESTAMPTZ", "now()")
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", schema.Table, err)
		}
		s.logger.Debug("record table ready", "table", schema.Table)
	}
	return nil
}

// FetchExisting returns stored records for keys, querying in chunks with
// natural_key = ANY($1).
func (s *Store) FetchExisting(ctx context.Context, schema *core.RecordSchema, keys []string) (map[string]core.Record, error) {
	result := make(map[string]core.Record, len(keys))

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ANY($1)",
		store.KeyColumn,
		store.SelectColumns(schema),
		store.QuoteIdent(schema.Table),
		store.KeyColumn,
	)

	for _, chunk := range store.Chunk(keys, store.LookupChunkSize) {
		rows, err := s.pool.Query(ctx, query, chunk)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", schema.Table, err)
		}

		err = scanRecords(rows, schema, result)
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func scanRecords(rows pgx.Rows, schema *core.RecordSchema, into map[string]core.Record) error {
	n := len(schema.Fields)
	for rows.Next() {
		var key string
		values := make([]string, n)
		dest := make([]any, 0, n+1)
		dest = append(dest, &key)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan %s: %w", schema.Table, err)
		}

		rec, err := store.DecodeRecord(schema, values)
		if err != nil {
			return err
		}
		into[key] = rec
	}
	return rows.Err()
}

// Insert writes rec. It writes nothing and returns an error wrapping
// core.ErrKeyExists when the key is already stored.
func (s *Store) Insert(ctx context.Context, schema *core.RecordSchema, rec core.Record) error {
	return s.write(ctx, schema, rec, false)
}

// Upsert writes rec, replacing any stored record with the same key.
func (s *Store) Upsert(ctx context.Context, schema *core.RecordSchema, rec core.Record) error {
	return s.write(ctx, schema, rec, true)
}

func (s *Store) write(ctx context.Context, schema *core.RecordSchema, rec core.Record, update bool) error {
	key, values, err := store.EncodeRecord(schema, rec)
	if err != nil {
		return err
	}

	query := store.WriteSQL(schema, func(n int) string { return fmt.Sprintf("$%d", n) }, "now()", update)
	tag, err := s.pool.Exec(ctx, query, store.Args(key, values)...)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", schema.Table, key, describe(err))
	}
	if !update && tag.RowsAffected() == 0 {
		return fmt.Errorf("write %s %s: %w", schema.Table, key, core.ErrKeyExists)
	}
	return nil
}

// describe adds the constraint detail PostgreSQL reports for write errors.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return err
}

// Count returns the number of stored records of a schema.
func (s *Store) Count(ctx context.Context, schema *core.RecordSchema) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM " + store.QuoteIdent(schema.Table)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", schema.Table, err)
	}
	return n, nil
}
