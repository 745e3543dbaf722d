// Package sqlite implements the persisted record store on SQLite.
// It backs local runs of the CLI and the store tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/store"
)

const nowExpr = "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')"

// Store provides SQLite-backed record persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at path with WAL mode and a busy timeout.
// Call Migrate to create record tables.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates a table for every registered schema that lacks one.
func (s *Store) Migrate(ctx context.Context) error {
	for _, schema := range core.All() {
		ddl := store.TableDDL(schema, "TEXT", "("+nowExpr+")")
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", schema.Table, err)
		}
		s.logger.Debug("record table ready", "table", schema.Table)
	}
	return nil
}

// FetchExisting returns stored records for keys, querying in chunks.
func (s *Store) FetchExisting(ctx context.Context, schema *core.RecordSchema, keys []string) (map[string]core.Record, error) {
	result := make(map[string]core.Record, len(keys))

	for _, chunk := range store.Chunk(keys, store.LookupChunkSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
			store.KeyColumn,
			store.SelectColumns(schema),
			store.QuoteIdent(schema.Table),
			store.KeyColumn,
			placeholders,
		)

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		if err := s.scanRecords(ctx, schema, query, args, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Store) scanRecords(ctx context.Context, schema *core.RecordSchema, query string, args []any, into map[string]core.Record) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", schema.Table, err)
	}
	defer rows.Close()

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

	query := store.WriteSQL(schema, func(int) string { return "?" }, nowExpr, update)
	res, err := s.db.ExecContext(ctx, query, store.Args(key, values)...)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", schema.Table, key, err)
	}
	if !update {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("write %s %s: %w", schema.Table, key, err)
		}
		if n == 0 {
			return fmt.Errorf("write %s %s: %w", schema.Table, key, core.ErrKeyExists)
		}
	}
	return nil
}

// Count returns the number of stored records of a schema.
func (s *Store) Count(ctx context.Context, schema *core.RecordSchema) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM " + store.QuoteIdent(schema.Table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", schema.Table, err)
	}
	return n, nil
}
