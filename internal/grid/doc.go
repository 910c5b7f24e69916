// Package grid defines the spreadsheet domain model: bases, tables, typed
// columns, rows, cells and views.
//
// # Identity
//
// Identifiers are opaque strings. Server-assigned identifiers are ksid
// encodings; identifiers created by a client before the store confirms an
// entity carry the [TempPrefix] prefix until they are resolved.
//
// # Cells
//
// A [Cell] is keyed by (row, column) and holds a [Value] with at most one of
// Text or Number set. The owning column's [ColumnType] decides which one.
package grid
