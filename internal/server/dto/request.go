package dto

// ColumnType is the value type of a column.
type ColumnType string

// Column types.
const (
	ColumnTypeText   ColumnType = "text"
	ColumnTypeNumber ColumnType = "number"
)

func (t ColumnType) validate() error {
	if t != ColumnTypeText && t != ColumnTypeNumber {
		return InvalidField("type", "must be text or number")
	}
	return nil
}

// Filter is a view filter condition.
type Filter struct {
	ColumnID string `json:"columnId"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Sort is a view sort entry.
type Sort struct {
	ColumnID  string `json:"columnId"`
	Direction string `json:"direction"`
}

// --- Health ---

// HealthRequest is a request to check the server status.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}

// --- Rows ---

// GetRowsRequest reads the cached window of a query, loading it on a miss.
type GetRowsRequest struct {
	TableID string `path:"tableID"`
	// Sort is "col:asc,col2:desc".
	Sort   string `query:"sort"`
	Search string `query:"search"`
	// More loads the next page when set.
	More bool `query:"more"`
}

// Validate validates the get rows request fields.
func (r *GetRowsRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	return nil
}

// AddRowRequest appends a row, optionally with initial values keyed by
// column identifier.
type AddRowRequest struct {
	TableID string         `path:"tableID"`
	Values  map[string]any `json:"values,omitempty"`
	Wait    bool           `json:"wait,omitempty" query:"wait"`
}

// Validate validates the add row request fields.
func (r *AddRowRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	for colID := range r.Values {
		if colID == "" {
			return InvalidField("values", "empty column identifier")
		}
	}
	return nil
}

// DeleteRowRequest deletes a row.
type DeleteRowRequest struct {
	TableID string `path:"tableID"`
	RowID   string `path:"rowID"`
	Wait    bool   `json:"wait,omitempty" query:"wait"`
}

// Validate validates the delete row request fields.
func (r *DeleteRowRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.RowID == "" {
		return MissingField("rowID")
	}
	return nil
}

// UpdateCellRequest sets a cell value. Value is a string, a number or null.
type UpdateCellRequest struct {
	TableID  string `path:"tableID"`
	RowID    string `path:"rowID"`
	ColumnID string `path:"columnID"`
	Value    any    `json:"value"`
	Wait     bool   `json:"wait,omitempty" query:"wait"`
}

// Validate validates the update cell request fields.
func (r *UpdateCellRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.RowID == "" {
		return MissingField("rowID")
	}
	if r.ColumnID == "" {
		return MissingField("columnID")
	}
	switch r.Value.(type) {
	case nil, string, float64, bool:
		return nil
	default:
		return InvalidField("value", "must be a string, a number or null")
	}
}

// --- Columns ---

// AddColumnRequest appends a column.
type AddColumnRequest struct {
	TableID string     `path:"tableID"`
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Wait    bool       `json:"wait,omitempty" query:"wait"`
}

// Validate validates the add column request fields.
func (r *AddColumnRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return r.Type.validate()
}

// RenameColumnRequest renames a column.
type RenameColumnRequest struct {
	TableID  string `path:"tableID"`
	ColumnID string `path:"columnID"`
	Name     string `json:"name"`
	Wait     bool   `json:"wait,omitempty" query:"wait"`
}

// Validate validates the rename column request fields.
func (r *RenameColumnRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.ColumnID == "" {
		return MissingField("columnID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// DeleteColumnRequest deletes a column.
type DeleteColumnRequest struct {
	TableID  string `path:"tableID"`
	ColumnID string `path:"columnID"`
	Wait     bool   `json:"wait,omitempty" query:"wait"`
}

// Validate validates the delete column request fields.
func (r *DeleteColumnRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.ColumnID == "" {
		return MissingField("columnID")
	}
	return nil
}

// ColumnRequest addresses a column by identifier, placeholder or permanent.
type ColumnRequest struct {
	ColumnID string `path:"columnID"`
}

// Validate validates the column request fields.
func (r *ColumnRequest) Validate() error {
	if r.ColumnID == "" {
		return MissingField("columnID")
	}
	return nil
}

// --- Bases and tables ---

// ListBasesRequest lists every base.
type ListBasesRequest struct{}

// Validate is a no-op for ListBasesRequest.
func (r *ListBasesRequest) Validate() error {
	return nil
}

// CreateBaseRequest creates a base with its first table.
type CreateBaseRequest struct {
	Name string `json:"name"`
}

// Validate validates the create base request fields.
func (r *CreateBaseRequest) Validate() error {
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// ListTablesRequest lists the tables of a base.
type ListTablesRequest struct {
	BaseID string `path:"baseID"`
}

// Validate validates the list tables request fields.
func (r *ListTablesRequest) Validate() error {
	if r.BaseID == "" {
		return MissingField("baseID")
	}
	return nil
}

// CreateTableRequest creates a table in a base.
type CreateTableRequest struct {
	BaseID string `path:"baseID"`
	Name   string `json:"name"`
}

// Validate validates the create table request fields.
func (r *CreateTableRequest) Validate() error {
	if r.BaseID == "" {
		return MissingField("baseID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// UpdateTableRequest renames a table.
type UpdateTableRequest struct {
	TableID string `path:"tableID"`
	Name    string `json:"name"`
}

// Validate validates the update table request fields.
func (r *UpdateTableRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// DeleteTableRequest deletes a table.
type DeleteTableRequest struct {
	TableID string `path:"tableID"`
}

// Validate validates the delete table request fields.
func (r *DeleteTableRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	return nil
}

// --- Views ---

// ListViewsRequest lists the views of a table.
type ListViewsRequest struct {
	TableID string `path:"tableID"`
}

// Validate validates the list views request fields.
func (r *ListViewsRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	return nil
}

// CreateViewRequest creates a view.
type CreateViewRequest struct {
	TableID string   `path:"tableID"`
	Name    string   `json:"name"`
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`
	Hidden  []string `json:"hidden,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// Validate validates the create view request fields.
func (r *CreateViewRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// UpdateViewRequest replaces the configuration of a view.
type UpdateViewRequest struct {
	TableID string   `path:"tableID"`
	ViewID  string   `path:"viewID"`
	Name    string   `json:"name"`
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`
	Hidden  []string `json:"hidden,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// Validate validates the update view request fields.
func (r *UpdateViewRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.ViewID == "" {
		return MissingField("viewID")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// DeleteViewRequest deletes a view.
type DeleteViewRequest struct {
	TableID string `path:"tableID"`
	ViewID  string `path:"viewID"`
}

// Validate validates the delete view request fields.
func (r *DeleteViewRequest) Validate() error {
	if r.TableID == "" {
		return MissingField("tableID")
	}
	if r.ViewID == "" {
		return MissingField("viewID")
	}
	return nil
}

// --- Journal ---

// JournalRequest lists the latest settled mutations.
type JournalRequest struct {
	// Limit defaults to 100.
	Limit int `query:"limit"`
}

// Validate validates the journal request fields.
func (r *JournalRequest) Validate() error {
	if r.Limit < 0 || r.Limit > 1000 {
		return InvalidField("limit", "must be between 0 and 1000")
	}
	return nil
}
