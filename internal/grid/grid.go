// Defines the core table model.

package grid

import (
	"errors"
	"fmt"
	"strings"
)

// TempPrefix marks client-generated placeholder identifiers.
const TempPrefix = "tmp-"

// IsTempID reports whether id is a client-generated placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// ColumnType defines the type of the values stored in a column.
type ColumnType string

const (
	// ColumnTypeText stores plain text values.
	ColumnTypeText ColumnType = "text"
	// ColumnTypeNumber stores numeric values.
	ColumnTypeNumber ColumnType = "number"
)

// Validate checks that the column type is known.
func (t ColumnType) Validate() error {
	switch t {
	case ColumnTypeText, ColumnTypeNumber:
		return nil
	default:
		return fmt.Errorf("invalid column type %q", string(t))
	}
}

// Base owns tables. A base must retain at least one table.
type Base struct {
	ID   string `json:"id" jsonschema:"description=Unique base identifier"`
	Name string `json:"name" jsonschema:"description=Base display name"`
}

// Table is a named, ordered set of columns owned by a base.
type Table struct {
	ID      string   `json:"id" jsonschema:"description=Unique table identifier"`
	BaseID  string   `json:"baseId" jsonschema:"description=Owning base"`
	Name    string   `json:"name" jsonschema:"description=Table display name"`
	Columns []Column `json:"columns,omitempty" jsonschema:"description=Columns ordered by position"`
}

// Column is a typed column of a table.
type Column struct {
	ID        string     `json:"id" jsonschema:"description=Unique column identifier"`
	TableID   string     `json:"tableId" jsonschema:"description=Owning table"`
	Name      string     `json:"name" jsonschema:"description=Column display name"`
	Type      ColumnType `json:"type" jsonschema:"description=Value type (text/number)"`
	Position  int        `json:"position" jsonschema:"description=Zero-based dense position"`
	IsPrimary bool       `json:"isPrimary,omitempty" jsonschema:"description=Primary column (never hidden nor deleted)"`
}

// Validate checks that the Column is valid.
func (c *Column) Validate() error {
	if c.Name == "" {
		return errNameRequired
	}
	if c.Position < 0 {
		return errors.New("column position must be non-negative")
	}
	return c.Type.Validate()
}

// Row is a row of a table.
type Row struct {
	ID      string `json:"id"`
	TableID string `json:"tableId"`
	Cells   []Cell `json:"cells"`
}

// Cell returns the cell for columnID.
func (r *Row) Cell(columnID string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.ColumnID == columnID {
			return c, true
		}
	}
	return Cell{}, false
}

// Cell is the value at the intersection of a row and a column.
type Cell struct {
	ColumnID string `json:"columnId"`
	Value    Value  `json:"value"`
}

// CheckPositions verifies that column positions are exactly 0..n-1 and that
// there is exactly one primary column.
func CheckPositions(cols []Column) error {
	primaries := 0
	for i := range cols {
		if cols[i].Position != i {
			return fmt.Errorf("column %s at index %d has position %d", cols[i].ID, i, cols[i].Position)
		}
		if cols[i].IsPrimary {
			primaries++
		}
	}
	if len(cols) != 0 && primaries != 1 {
		return fmt.Errorf("expected exactly one primary column, got %d", primaries)
	}
	return nil
}

// FindColumn returns the index of the column with the given id, or -1.
func FindColumn(cols []Column, id string) int {
	for i := range cols {
		if cols[i].ID == id {
			return i
		}
	}
	return -1
}
