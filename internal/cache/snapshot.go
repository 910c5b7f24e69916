// Defines the immutable paginated snapshot of a table query.

package cache

import (
	"iter"
	"slices"

	"github.com/maruel/gridb/internal/grid"
)

// Key identifies one paginated query of a table.
type Key struct {
	TableID string `json:"tableId"`
	// Sort is the canonical sort list, see grid.SortKey.
	Sort   string `json:"sort,omitempty"`
	Search string `json:"search,omitempty"`
}

// String returns a compact representation for logs.
func (k Key) String() string {
	return k.TableID + "|" + k.Sort + "|" + k.Search
}

// Row is a cached row: one cell entry per column.
type Row struct {
	ID    string      `json:"id"`
	Cells []grid.Cell `json:"cells"`
}

// Cell returns the cell entry for columnID.
func (r *Row) Cell(columnID string) (grid.Cell, bool) {
	i := r.cellIndex(columnID)
	if i < 0 {
		return grid.Cell{}, false
	}
	return r.Cells[i], true
}

func (r *Row) cellIndex(columnID string) int {
	for i := range r.Cells {
		if r.Cells[i].ColumnID == columnID {
			return i
		}
	}
	return -1
}

// Page is one loaded window of rows, keyed by the cursor that produced it.
type Page struct {
	Cursor     string `json:"cursor"`
	NextCursor string `json:"nextCursor,omitempty"`
	Rows       []Row  `json:"rows"`
}

// Snapshot is an immutable view of every loaded page of a query.
//
// Snapshots are never modified in place. Patches return a new Snapshot that
// shares every page, row and cell slice they did not touch.
type Snapshot struct {
	Columns    []grid.Column `json:"columns"`
	Pages      []Page        `json:"pages"`
	TotalCount int           `json:"totalCount"`
}

// Rows iterates over the rows of all pages, in page order.
func (s *Snapshot) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, p := range s.Pages {
			for _, r := range p.Rows {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// RowCount returns the number of loaded rows.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, p := range s.Pages {
		n += len(p.Rows)
	}
	return n
}

// FindRow returns the page and row index of id.
func (s *Snapshot) FindRow(id string) (page, index int, ok bool) {
	for pi, p := range s.Pages {
		for ri := range p.Rows {
			if p.Rows[ri].ID == id {
				return pi, ri, true
			}
		}
	}
	return 0, 0, false
}

// Row returns the row with the given id.
func (s *Snapshot) Row(id string) (Row, bool) {
	pi, ri, ok := s.FindRow(id)
	if !ok {
		return Row{}, false
	}
	return s.Pages[pi].Rows[ri], true
}

// Column returns the column with the given id.
func (s *Snapshot) Column(id string) (grid.Column, bool) {
	i := grid.FindColumn(s.Columns, id)
	if i < 0 {
		return grid.Column{}, false
	}
	return s.Columns[i], true
}

// HasMore reports whether another page can be loaded.
func (s *Snapshot) HasMore() bool {
	return len(s.Pages) != 0 && s.Pages[len(s.Pages)-1].NextCursor != ""
}

// shallow returns a copy of s sharing its slices.
func (s *Snapshot) shallow() *Snapshot {
	c := *s
	return &c
}

// withPage returns a copy of s where page pi has rows replaced.
func (s *Snapshot) withPage(pi int, rows []Row) *Snapshot {
	c := s.shallow()
	c.Pages = slices.Clone(s.Pages)
	c.Pages[pi].Rows = rows
	return c
}

// mapRows returns a copy of s where fn rewrote rows. fn returns false when it
// leaves a row untouched so that page slices can be shared.
func (s *Snapshot) mapRows(fn func(r *Row) bool) *Snapshot {
	var pages []Page
	for pi, p := range s.Pages {
		var rows []Row
		for ri := range p.Rows {
			r := p.Rows[ri]
			if !fn(&r) {
				continue
			}
			if rows == nil {
				rows = slices.Clone(p.Rows)
			}
			rows[ri] = r
		}
		if rows == nil {
			continue
		}
		if pages == nil {
			pages = slices.Clone(s.Pages)
		}
		pages[pi].Rows = rows
	}
	c := s.shallow()
	if pages != nil {
		c.Pages = pages
	}
	return c
}

// renumber returns cols with dense positions.
func renumber(cols []grid.Column) []grid.Column {
	for i := range cols {
		cols[i].Position = i
	}
	return cols
}

// AppendPage returns a copy of s with p appended. Rows of p already present
// in s, such as rows inserted optimistically, are dropped from p.
func (s *Snapshot) AppendPage(p Page) *Snapshot {
	rows := make([]Row, 0, len(p.Rows))
	for _, r := range p.Rows {
		if _, _, ok := s.FindRow(r.ID); !ok {
			rows = append(rows, r)
		}
	}
	p.Rows = rows
	c := s.shallow()
	c.Pages = append(slices.Clip(s.Pages), p)
	return c
}
