package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/maruel/gridb/internal/store"
)

// classify converts a driver error into a *store.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *store.Error
	if errors.As(err, &se) {
		if se.Op == "" {
			se.Op = op
		}
		return se
	}
	return &store.Error{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) store.Kind {
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return store.Transient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.Internal
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return sqliteKind(liteErr.Code())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return store.Transient
	}
	return store.Internal
}

// pgKind maps a SQLSTATE code.
func pgKind(code string) store.Kind {
	switch code {
	case "23503":
		// foreign_key_violation: the referenced entity is not visible yet.
		return store.NotVisible
	case "23505":
		return store.Conflict
	case "40001", "40P01", "55P03", "57P01", "57P02", "57P03":
		return store.Transient
	}
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"):
		return store.Transient
	case strings.HasPrefix(code, "28"), code == "42501":
		return store.Unauthorized
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return store.Invalid
	}
	return store.Internal
}

// sqliteKind maps an extended result code.
func sqliteKind(code int) store.Kind {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return store.NotVisible
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return store.Conflict
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return store.Transient
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH:
		return store.Invalid
	case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY:
		return store.Unauthorized
	}
	return store.Internal
}
