// Package store defines the persistence collaborator consumed by the
// mutation engine.
package store

import (
	"context"

	"github.com/maruel/gridb/internal/grid"
)

// Store is the request/response contract of the authoritative store.
//
// Every method returns a *Error on failure so callers can classify it.
type Store interface {
	CreateRow(ctx context.Context, tableID string) (string, error)
	CreateRowWithValues(ctx context.Context, tableID string, values map[string]grid.Value) (string, error)
	DeleteRow(ctx context.Context, rowID string) error
	UpdateCell(ctx context.Context, rowID, columnID string, v grid.Value) error
	AddColumn(ctx context.Context, tableID, name string, t grid.ColumnType) (grid.Column, error)
	UpdateColumn(ctx context.Context, columnID, name string) error
	DeleteColumn(ctx context.Context, columnID string) error
	GetPage(ctx context.Context, q PageQuery) (*PageResult, error)
}

// PageQuery selects one window of rows.
type PageQuery struct {
	TableID string
	// Cursor is the opaque value returned as PageResult.NextCursor, empty for
	// the first page.
	Cursor string
	Limit  int
	Sorts  []grid.Sort
	Search string
}

// PageResult is one window of rows.
type PageResult struct {
	Rows []grid.Row
	// NextCursor is empty on the last page.
	NextCursor string
	TotalCount int
	Columns    []grid.Column
}
