// Package sqlstore implements store.Store on database/sql, for SQLite and
// PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/maruel/ksid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/maruel/gridb/internal/store"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a relational store.Store.
type Store struct {
	db     *sql.DB
	qb     squirrel.StatementBuilderType
	driver string
	log    *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and creates the schema when missing.
//
// For SQLite, dsn is a file path; its directory is created if needed.
func Open(ctx context.Context, driver, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{driver: driver, log: log}
	var err error
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite database path is required")
		}
		path, _, _ := strings.Cut(dsn, "?")
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		if s.db, err = sql.Open("sqlite", dsn); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite has a single writer.
		s.db.SetMaxOpenConns(1)
		s.qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	case DriverPostgres:
		if s.db, err = sql.Open("pgx", dsn); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.db.SetMaxOpenConns(10)
		s.db.SetMaxIdleConns(5)
		s.db.SetConnMaxIdleTime(5 * time.Minute)
		s.qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS grid_bases (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grid_tables (
		id      TEXT PRIMARY KEY,
		base_id TEXT NOT NULL,
		name    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grid_columns (
		id         TEXT PRIMARY KEY,
		table_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		type       TEXT NOT NULL,
		position   INTEGER NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS grid_columns_table ON grid_columns (table_id, position)`,
	`CREATE TABLE IF NOT EXISTS grid_rows (
		id       TEXT PRIMARY KEY,
		table_id TEXT NOT NULL,
		seq      BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS grid_rows_table ON grid_rows (table_id, seq)`,
	`CREATE TABLE IF NOT EXISTS grid_cells (
		row_id       TEXT NOT NULL,
		column_id    TEXT NOT NULL,
		text_value   TEXT,
		number_value DOUBLE PRECISION,
		PRIMARY KEY (row_id, column_id)
	)`,
	`CREATE INDEX IF NOT EXISTS grid_cells_column ON grid_cells (column_id)`,
	`CREATE TABLE IF NOT EXISTS grid_views (
		id       TEXT PRIMARY KEY,
		table_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		position INTEGER NOT NULL,
		filters  TEXT NOT NULL DEFAULT '[]',
		sorts    TEXT NOT NULL DEFAULT '[]',
		hidden   TEXT NOT NULL DEFAULT '[]',
		search   TEXT NOT NULL DEFAULT ''
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction and classifies the returned error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.log.WarnContext(ctx, "sqlstore: rollback failed", "op", op, "err", rerr)
		}
		return classify(op, err)
	}
	return classify(op, tx.Commit())
}

func exec(ctx context.Context, q querier, b squirrel.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func scanRow(ctx context.Context, q querier, b squirrel.Sqlizer, dest ...any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func query(ctx context.Context, q querier, b squirrel.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

// affected returns a NotFound error when the statement touched no row.
func affected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.Errorf(store.NotFound, "", format, args...)
	}
	return nil
}

func newID() string {
	return ksid.NewID().String()
}
