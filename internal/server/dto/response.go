package dto

import "time"

// --- Common Responses ---

// OkResponse is a simple success response.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// HealthResponse is the server status.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	// PendingIdentities counts placeholders awaiting their permanent
	// identifier.
	PendingIdentities int `json:"pendingIdentities"`
}

// --- Rows ---

// ColumnResponse is a column of a snapshot or a table.
type ColumnResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	Position  int        `json:"position"`
	IsPrimary bool       `json:"isPrimary,omitempty"`
	// Pending is set while the column is a placeholder.
	Pending bool `json:"pending,omitempty"`
}

// RowResponse is a row of a snapshot. Cell values are strings, numbers or
// null, keyed by column identifier.
type RowResponse struct {
	ID      string         `json:"id"`
	Pending bool           `json:"pending,omitempty"`
	Cells   map[string]any `json:"cells"`
}

// SnapshotResponse is the cached window of a query.
type SnapshotResponse struct {
	TableID    string           `json:"tableId"`
	Sort       string           `json:"sort,omitempty"`
	Search     string           `json:"search,omitempty"`
	Columns    []ColumnResponse `json:"columns"`
	Rows       []RowResponse    `json:"rows"`
	TotalCount int              `json:"totalCount"`
	HasMore    bool             `json:"hasMore"`
}

// MutationResponse is the state of an optimistic mutation. Without wait it is
// returned as soon as the cache is patched.
type MutationResponse struct {
	Kind     string `json:"kind"`
	State    string `json:"state"`
	TempID   string `json:"tempId,omitempty"`
	ID       string `json:"id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	// RollbackError is set when part of the rollback could not be applied.
	RollbackError string `json:"rollbackError,omitempty"`
}

// --- Columns ---

// ColumnPendingResponse reports whether a column is still a placeholder.
type ColumnPendingResponse struct {
	ColumnID string `json:"columnId"`
	Pending  bool   `json:"pending"`
}

// ColumnIDResponse maps a column identifier to its permanent one.
type ColumnIDResponse struct {
	ColumnID string `json:"columnId"`
	ID       string `json:"id"`
}

// --- Bases and tables ---

// BaseResponse is a base.
type BaseResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TableResponse is a table with its columns.
type TableResponse struct {
	ID      string           `json:"id"`
	BaseID  string           `json:"baseId"`
	Name    string           `json:"name"`
	Columns []ColumnResponse `json:"columns,omitempty"`
}

// ListBasesResponse lists bases.
type ListBasesResponse struct {
	Bases []BaseResponse `json:"bases"`
}

// CreateBaseResponse is a new base and its first table.
type CreateBaseResponse struct {
	Base  BaseResponse  `json:"base"`
	Table TableResponse `json:"table"`
}

// ListTablesResponse lists the tables of a base.
type ListTablesResponse struct {
	Tables []TableResponse `json:"tables"`
}

// --- Views ---

// ViewResponse is a view.
type ViewResponse struct {
	ID      string   `json:"id"`
	TableID string   `json:"tableId"`
	Name    string   `json:"name"`
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`
	Hidden  []string `json:"hidden,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// ListViewsResponse lists views.
type ListViewsResponse struct {
	Views []ViewResponse `json:"views"`
}

// --- Journal ---

// JournalEntry is one settled mutation.
type JournalEntry struct {
	Time         time.Time `json:"time"`
	Kind         string    `json:"kind"`
	TableID      string    `json:"tableId"`
	TempID       string    `json:"tempId,omitempty"`
	ID           string    `json:"id,omitempty"`
	State        string    `json:"state"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
}

// JournalResponse lists settled mutations, newest first.
type JournalResponse struct {
	Entries []JournalEntry `json:"entries"`
}
