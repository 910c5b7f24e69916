// Implements the declarative optimistic patches and their inverses.

package cache

import (
	"fmt"
	"slices"

	"github.com/maruel/gridb/internal/grid"
)

// Patch is a reversible transformation of a Snapshot.
//
// apply never mutates s. It returns ErrTargetGone when the entity the patch
// addresses is not present in s, and the inverse patch on success.
type Patch interface {
	apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error)
	String() string
}

// InsertRow appends a row to the last loaded page. Values missing from
// Values are empty.
type InsertRow struct {
	ID     string
	Values map[string]grid.Value
}

func (p InsertRow) String() string { return "insert-row " + p.ID }

func (p InsertRow) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	id := alias(p.ID)
	if _, _, ok := s.FindRow(id); ok {
		return nil, nil, fmt.Errorf("row %s: %w", id, ErrDuplicate)
	}
	row := Row{ID: id, Cells: make([]grid.Cell, 0, len(s.Columns))}
	for _, col := range s.Columns {
		c := grid.Cell{ColumnID: col.ID}
		for k, v := range p.Values {
			if alias(k) == col.ID {
				c.Value = v
			}
		}
		row.Cells = append(row.Cells, c)
	}
	var c *Snapshot
	if len(s.Pages) == 0 {
		c = s.shallow()
		c.Pages = []Page{{Rows: []Row{row}}}
	} else {
		last := len(s.Pages) - 1
		c = s.withPage(last, append(slices.Clip(s.Pages[last].Rows), row))
	}
	c.TotalCount++
	return c, RemoveRow{ID: id}, nil
}

// RemoveRow removes a row from whichever page holds it.
type RemoveRow struct {
	ID string
}

func (p RemoveRow) String() string { return "remove-row " + p.ID }

func (p RemoveRow) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	id := alias(p.ID)
	pi, ri, ok := s.FindRow(id)
	if !ok {
		return nil, nil, fmt.Errorf("row %s: %w", id, ErrTargetGone)
	}
	rows := s.Pages[pi].Rows
	removed := rows[ri]
	c := s.withPage(pi, slices.Concat(rows[:ri], rows[ri+1:]))
	c.TotalCount--
	return c, restoreRow{row: removed, page: pi, index: ri}, nil
}

// restoreRow puts back a removed row at its former position.
type restoreRow struct {
	row   Row
	page  int
	index int
}

func (p restoreRow) String() string { return "restore-row " + p.row.ID }

func (p restoreRow) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	id := alias(p.row.ID)
	if _, _, ok := s.FindRow(id); ok {
		return nil, nil, fmt.Errorf("row %s: %w", id, ErrDuplicate)
	}
	if p.page >= len(s.Pages) {
		return nil, nil, fmt.Errorf("page %d of row %s: %w", p.page, id, ErrTargetGone)
	}
	// Keep only cells of columns that still exist.
	row := Row{ID: id}
	for _, cell := range p.row.Cells {
		cell.ColumnID = alias(cell.ColumnID)
		if grid.FindColumn(s.Columns, cell.ColumnID) >= 0 {
			row.Cells = append(row.Cells, cell)
		}
	}
	rows := s.Pages[p.page].Rows
	idx := min(p.index, len(rows))
	c := s.withPage(p.page, slices.Concat(rows[:idx], []Row{row}, rows[idx:]))
	c.TotalCount++
	return c, RemoveRow{ID: id}, nil
}

// UpdateCell sets the single cell entry of (row, column).
type UpdateCell struct {
	RowID    string
	ColumnID string
	Value    grid.Value
}

func (p UpdateCell) String() string { return "update-cell " + p.RowID + "/" + p.ColumnID }

func (p UpdateCell) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	rowID, colID := alias(p.RowID), alias(p.ColumnID)
	if grid.FindColumn(s.Columns, colID) < 0 {
		return nil, nil, fmt.Errorf("column %s: %w", colID, ErrTargetGone)
	}
	pi, ri, ok := s.FindRow(rowID)
	if !ok {
		return nil, nil, fmt.Errorf("row %s: %w", rowID, ErrTargetGone)
	}
	row := s.Pages[pi].Rows[ri]
	inv := restoreCell{rowID: rowID, columnID: colID}
	ci := row.cellIndex(colID)
	cells := slices.Clone(row.Cells)
	if ci >= 0 {
		inv.old, inv.had = cells[ci], true
		cells[ci].Value = p.Value
	} else {
		cells = append(cells, grid.Cell{ColumnID: colID, Value: p.Value})
	}
	rows := slices.Clone(s.Pages[pi].Rows)
	rows[ri].Cells = cells
	return s.withPage(pi, rows), inv, nil
}

// restoreCell reverts an UpdateCell, including the absence of an entry.
type restoreCell struct {
	rowID    string
	columnID string
	old      grid.Cell
	had      bool
}

func (p restoreCell) String() string { return "restore-cell " + p.rowID + "/" + p.columnID }

func (p restoreCell) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	rowID, colID := alias(p.rowID), alias(p.columnID)
	if grid.FindColumn(s.Columns, colID) < 0 {
		return nil, nil, fmt.Errorf("column %s: %w", colID, ErrTargetGone)
	}
	pi, ri, ok := s.FindRow(rowID)
	if !ok {
		return nil, nil, fmt.Errorf("row %s: %w", rowID, ErrTargetGone)
	}
	row := s.Pages[pi].Rows[ri]
	ci := row.cellIndex(colID)
	var cells []grid.Cell
	var inv Patch
	switch {
	case p.had && ci >= 0:
		inv = UpdateCell{RowID: rowID, ColumnID: colID, Value: row.Cells[ci].Value}
		cells = slices.Clone(row.Cells)
		cells[ci].Value = p.old.Value
	case p.had:
		inv = restoreCell{rowID: rowID, columnID: colID}
		cells = append(slices.Clip(row.Cells), grid.Cell{ColumnID: colID, Value: p.old.Value})
	case ci >= 0:
		inv = UpdateCell{RowID: rowID, ColumnID: colID, Value: row.Cells[ci].Value}
		cells = slices.Concat(row.Cells[:ci], row.Cells[ci+1:])
	default:
		return s, p, nil
	}
	rows := slices.Clone(s.Pages[pi].Rows)
	rows[ri].Cells = cells
	return s.withPage(pi, rows), inv, nil
}

// InsertColumn appends a column and an empty cell to every loaded row.
type InsertColumn struct {
	Column grid.Column
}

func (p InsertColumn) String() string { return "insert-column " + p.Column.ID }

func (p InsertColumn) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	col := p.Column
	col.ID = alias(col.ID)
	if grid.FindColumn(s.Columns, col.ID) >= 0 {
		return nil, nil, fmt.Errorf("column %s: %w", col.ID, ErrDuplicate)
	}
	c := s.mapRows(func(r *Row) bool {
		r.Cells = append(slices.Clip(r.Cells), grid.Cell{ColumnID: col.ID})
		return true
	})
	c.Columns = renumber(append(slices.Clone(s.Columns), col))
	return c, RemoveColumn{ID: col.ID}, nil
}

// RemoveColumn removes a column and its cell from every loaded row.
type RemoveColumn struct {
	ID string
}

func (p RemoveColumn) String() string { return "remove-column " + p.ID }

func (p RemoveColumn) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	id := alias(p.ID)
	i := grid.FindColumn(s.Columns, id)
	if i < 0 {
		return nil, nil, fmt.Errorf("column %s: %w", id, ErrTargetGone)
	}
	if s.Columns[i].IsPrimary {
		return nil, nil, grid.ErrPrimaryColumn
	}
	inv := restoreColumn{column: s.Columns[i], index: i, cells: map[string]cellAt{}}
	c := s.mapRows(func(r *Row) bool {
		ci := r.cellIndex(id)
		if ci < 0 {
			return false
		}
		inv.cells[r.ID] = cellAt{cell: r.Cells[ci], index: ci}
		r.Cells = slices.Concat(r.Cells[:ci], r.Cells[ci+1:])
		return true
	})
	c.Columns = renumber(slices.Concat(s.Columns[:i], s.Columns[i+1:]))
	return c, inv, nil
}

type cellAt struct {
	cell  grid.Cell
	index int
}

// restoreColumn puts back a removed column and the cells it had.
type restoreColumn struct {
	column grid.Column
	index  int
	cells  map[string]cellAt
}

func (p restoreColumn) String() string { return "restore-column " + p.column.ID }

func (p restoreColumn) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	col := p.column
	col.ID = alias(col.ID)
	if grid.FindColumn(s.Columns, col.ID) >= 0 {
		return nil, nil, fmt.Errorf("column %s: %w", col.ID, ErrDuplicate)
	}
	c := s.mapRows(func(r *Row) bool {
		saved, ok := p.cells[r.ID]
		if !ok {
			for id, v := range p.cells {
				if alias(id) == r.ID {
					saved, ok = v, true
					break
				}
			}
		}
		if !ok || r.cellIndex(col.ID) >= 0 {
			return false
		}
		cell := saved.cell
		cell.ColumnID = col.ID
		idx := min(saved.index, len(r.Cells))
		r.Cells = slices.Concat(r.Cells[:idx], []grid.Cell{cell}, r.Cells[idx:])
		return true
	})
	idx := min(p.index, len(s.Columns))
	c.Columns = renumber(slices.Concat(s.Columns[:idx], []grid.Column{col}, s.Columns[idx:]))
	return c, RemoveColumn{ID: col.ID}, nil
}

// RenameColumn replaces the name of a column.
type RenameColumn struct {
	ID   string
	Name string
}

func (p RenameColumn) String() string { return "rename-column " + p.ID }

func (p RenameColumn) apply(s *Snapshot, alias func(string) string) (*Snapshot, Patch, error) {
	id := alias(p.ID)
	i := grid.FindColumn(s.Columns, id)
	if i < 0 {
		return nil, nil, fmt.Errorf("column %s: %w", id, ErrTargetGone)
	}
	c := s.shallow()
	c.Columns = slices.Clone(s.Columns)
	old := c.Columns[i].Name
	c.Columns[i].Name = p.Name
	return c, RenameColumn{ID: id, Name: old}, nil
}

// ResolveRow replaces a placeholder row identifier with the permanent one,
// keeping the row where it is.
type ResolveRow struct {
	Temp string
	Real string
}

func (p ResolveRow) String() string { return "resolve-row " + p.Temp + "->" + p.Real }

func (p ResolveRow) apply(s *Snapshot, _ func(string) string) (*Snapshot, Patch, error) {
	pi, ri, ok := s.FindRow(p.Temp)
	if !ok {
		return nil, nil, fmt.Errorf("row %s: %w", p.Temp, ErrTargetGone)
	}
	rows := slices.Clone(s.Pages[pi].Rows)
	rows[ri].ID = p.Real
	return s.withPage(pi, rows), ResolveRow{Temp: p.Real, Real: p.Temp}, nil
}

// ResolveColumn replaces a placeholder column identifier with the permanent
// one in the column list and in every cell entry.
type ResolveColumn struct {
	Temp string
	Real string
}

func (p ResolveColumn) String() string { return "resolve-column " + p.Temp + "->" + p.Real }

func (p ResolveColumn) apply(s *Snapshot, _ func(string) string) (*Snapshot, Patch, error) {
	i := grid.FindColumn(s.Columns, p.Temp)
	if i < 0 {
		return nil, nil, fmt.Errorf("column %s: %w", p.Temp, ErrTargetGone)
	}
	c := s.mapRows(func(r *Row) bool {
		ci := r.cellIndex(p.Temp)
		if ci < 0 {
			return false
		}
		r.Cells = slices.Clone(r.Cells)
		r.Cells[ci].ColumnID = p.Real
		return true
	})
	c.Columns = slices.Clone(s.Columns)
	c.Columns[i].ID = p.Real
	return c, ResolveColumn{Temp: p.Real, Real: p.Temp}, nil
}
