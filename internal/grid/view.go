// Defines view types for saved table configurations.

package grid

import (
	"fmt"
	"slices"
	"strings"
)

// View represents a saved table view configuration.
type View struct {
	ID      string   `json:"id" jsonschema:"description=Unique view identifier"`
	TableID string   `json:"tableId" jsonschema:"description=Owning table"`
	Name    string   `json:"name" jsonschema:"description=View display name"`
	Filters []Filter `json:"filters,omitempty" jsonschema:"description=Filter conditions"`
	Sorts   []Sort   `json:"sorts,omitempty" jsonschema:"description=Sort order"`
	Hidden  []string `json:"hidden,omitempty" jsonschema:"description=Hidden column identifiers"`
	// Search is the full-text query saved with the view.
	Search string `json:"search,omitempty" jsonschema:"description=Full-text search"`
}

// Validate checks that the View is valid against the table's columns.
func (v *View) Validate(cols []Column) error {
	if v.Name == "" {
		return errNameRequired
	}
	for _, id := range v.Hidden {
		i := FindColumn(cols, id)
		if i < 0 {
			return fmt.Errorf("hidden column %s does not exist", id)
		}
		if cols[i].IsPrimary {
			return ErrPrimaryColumn
		}
	}
	for i := range v.Sorts {
		if err := v.Sorts[i].Validate(); err != nil {
			return err
		}
		if FindColumn(cols, v.Sorts[i].ColumnID) < 0 {
			return fmt.Errorf("sort column %s does not exist", v.Sorts[i].ColumnID)
		}
	}
	for i := range v.Filters {
		if !slices.Contains(filterOps, v.Filters[i].Operator) {
			return fmt.Errorf("invalid filter operator %q", string(v.Filters[i].Operator))
		}
	}
	return nil
}

// Filter defines a condition for filtering rows.
type Filter struct {
	ColumnID string   `json:"columnId" jsonschema:"description=Column to filter on"`
	Operator FilterOp `json:"operator" jsonschema:"description=Filter operator"`
	Value    any      `json:"value,omitempty" jsonschema:"description=Value to compare against"`
}

// FilterOp defines the comparison operator for a filter.
type FilterOp string

const (
	// FilterOpEquals matches if value equals the filter value.
	FilterOpEquals FilterOp = "equals"
	// FilterOpNotEquals matches if value does not equal the filter value.
	FilterOpNotEquals FilterOp = "not_equals"
	// FilterOpContains matches if value contains the filter value (text).
	FilterOpContains FilterOp = "contains"
	// FilterOpNotContains matches if value does not contain the filter value.
	FilterOpNotContains FilterOp = "not_contains"
	// FilterOpGreaterThan matches if value is greater than the filter value.
	FilterOpGreaterThan FilterOp = "gt"
	// FilterOpLessThan matches if value is less than the filter value.
	FilterOpLessThan FilterOp = "lt"
	// FilterOpIsEmpty matches if value is empty/null.
	FilterOpIsEmpty FilterOp = "is_empty"
	// FilterOpIsNotEmpty matches if value is not empty/null.
	FilterOpIsNotEmpty FilterOp = "is_not_empty"
)

var filterOps = []FilterOp{
	FilterOpEquals, FilterOpNotEquals, FilterOpContains, FilterOpNotContains,
	FilterOpGreaterThan, FilterOpLessThan, FilterOpIsEmpty, FilterOpIsNotEmpty,
}

// Sort defines the sort order for a column.
type Sort struct {
	ColumnID  string  `json:"columnId" jsonschema:"description=Column to sort by"`
	Direction SortDir `json:"direction" jsonschema:"description=Sort direction (asc/desc)"`
}

// Validate checks the sort direction.
func (s *Sort) Validate() error {
	if s.ColumnID == "" {
		return errSortColumnRequired
	}
	if s.Direction != SortAsc && s.Direction != SortDesc {
		return fmt.Errorf("invalid sort direction %q", string(s.Direction))
	}
	return nil
}

// SortDir defines the sort direction.
type SortDir string

const (
	// SortAsc sorts in ascending order (A-Z, 0-9).
	SortAsc SortDir = "asc"
	// SortDesc sorts in descending order (Z-A, 9-0).
	SortDesc SortDir = "desc"
)

// SortKey returns the canonical string form of a sort list, used as part of
// the cache key: "col:asc,col2:desc".
func SortKey(sorts []Sort) string {
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		parts = append(parts, s.ColumnID+":"+string(s.Direction))
	}
	return strings.Join(parts, ",")
}

// ParseSortKey is the reverse of SortKey.
func ParseSortKey(key string) ([]Sort, error) {
	if key == "" {
		return nil, nil
	}
	var sorts []Sort
	for part := range strings.SplitSeq(key, ",") {
		col, dir, ok := strings.Cut(part, ":")
		if !ok {
			dir = string(SortAsc)
		}
		s := Sort{ColumnID: col, Direction: SortDir(dir)}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		sorts = append(sorts, s)
	}
	return sorts, nil
}
