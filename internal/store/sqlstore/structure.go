package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"

	"github.com/Masterminds/squirrel"

	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/store"
)

// CreateBase creates a base with its first table.
func (s *Store) CreateBase(ctx context.Context, name string) (grid.Base, grid.Table, error) {
	const op = "create base"
	if name == "" {
		return grid.Base{}, grid.Table{}, store.Errorf(store.Invalid, op, "name is required")
	}
	b := grid.Base{ID: newID(), Name: name}
	var t grid.Table
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, s.qb.Insert("grid_bases").Columns("id", "name").Values(b.ID, b.Name)); err != nil {
			return err
		}
		var err error
		t, err = s.createTable(ctx, tx, b.ID, "Table 1")
		return err
	})
	if err != nil {
		return grid.Base{}, grid.Table{}, err
	}
	return b, t, nil
}

// ListBases returns every base.
func (s *Store) ListBases(ctx context.Context) ([]grid.Base, error) {
	rows, err := query(ctx, s.db, s.qb.Select("id", "name").From("grid_bases").OrderBy("id"))
	if err != nil {
		return nil, classify("list bases", err)
	}
	defer func() { _ = rows.Close() }()
	var out []grid.Base
	for rows.Next() {
		var b grid.Base
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, classify("list bases", err)
		}
		out = append(out, b)
	}
	return out, classify("list bases", rows.Err())
}

// ListTables returns the tables of a base with their columns.
func (s *Store) ListTables(ctx context.Context, baseID string) ([]grid.Table, error) {
	const op = "list tables"
	var out []grid.Table
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		rows, err := query(ctx, tx, s.qb.Select("id", "base_id", "name").From("grid_tables").Where(squirrel.Eq{"base_id": baseID}).OrderBy("id"))
		if err != nil {
			return err
		}
		for rows.Next() {
			var t grid.Table
			if err := rows.Scan(&t.ID, &t.BaseID, &t.Name); err != nil {
				_ = rows.Close()
				return err
			}
			out = append(out, t)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for i := range out {
			if out[i].Columns, err = s.columns(ctx, tx, out[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// CreateTable creates a table with its primary "Name" column and a default
// view.
func (s *Store) CreateTable(ctx context.Context, baseID, name string) (grid.Table, error) {
	const op = "create table"
	if name == "" {
		return grid.Table{}, store.Errorf(store.Invalid, op, "name is required")
	}
	var t grid.Table
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		var n int
		if err := scanRow(ctx, tx, s.qb.Select("COUNT(*)").From("grid_bases").Where(squirrel.Eq{"id": baseID}), &n); err != nil {
			return err
		}
		if n == 0 {
			return store.Errorf(store.NotFound, op, "base %s", baseID)
		}
		var err error
		t, err = s.createTable(ctx, tx, baseID, name)
		return err
	})
	return t, err
}

func (s *Store) createTable(ctx context.Context, tx *sql.Tx, baseID, name string) (grid.Table, error) {
	t := grid.Table{ID: newID(), BaseID: baseID, Name: name}
	if _, err := exec(ctx, tx, s.qb.Insert("grid_tables").Columns("id", "base_id", "name").Values(t.ID, t.BaseID, t.Name)); err != nil {
		return grid.Table{}, err
	}
	primary := grid.Column{ID: newID(), TableID: t.ID, Name: "Name", Type: grid.ColumnTypeText, IsPrimary: true}
	if err := s.insertColumn(ctx, tx, &primary); err != nil {
		return grid.Table{}, err
	}
	t.Columns = []grid.Column{primary}
	if err := s.insertView(ctx, tx, &grid.View{ID: newID(), TableID: t.ID, Name: "Grid view"}, 0); err != nil {
		return grid.Table{}, err
	}
	return t, nil
}

// RenameTable renames a table.
func (s *Store) RenameTable(ctx context.Context, tableID, name string) error {
	const op = "rename table"
	if name == "" {
		return store.Errorf(store.Invalid, op, "name is required")
	}
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, s.qb.Update("grid_tables").Set("name", name).Where(squirrel.Eq{"id": tableID}))
		if err != nil {
			return err
		}
		return affected(res, "table %s", tableID)
	})
}

// DeleteTable deletes a table with its columns, rows, cells and views. The
// last table of a base cannot be deleted.
func (s *Store) DeleteTable(ctx context.Context, tableID string) error {
	const op = "delete table"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var baseID string
		err := scanRow(ctx, tx, s.qb.Select("base_id").From("grid_tables").Where(squirrel.Eq{"id": tableID}), &baseID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotFound, op, "table %s", tableID)
		} else if err != nil {
			return err
		}
		var n int
		if err := scanRow(ctx, tx, s.qb.Select("COUNT(*)").From("grid_tables").Where(squirrel.Eq{"base_id": baseID}), &n); err != nil {
			return err
		}
		if n <= 1 {
			return store.Errorf(store.Conflict, op, "%w", grid.ErrLastTable)
		}
		rowIDs := squirrel.Select("id").From("grid_rows").Where(squirrel.Eq{"table_id": tableID})
		cellsOf, args, err := rowIDs.ToSql()
		if err != nil {
			return err
		}
		steps := []squirrel.Sqlizer{
			s.qb.Delete("grid_cells").Where("row_id IN ("+cellsOf+")", args...),
			s.qb.Delete("grid_rows").Where(squirrel.Eq{"table_id": tableID}),
			s.qb.Delete("grid_columns").Where(squirrel.Eq{"table_id": tableID}),
			s.qb.Delete("grid_views").Where(squirrel.Eq{"table_id": tableID}),
			s.qb.Delete("grid_tables").Where(squirrel.Eq{"id": tableID}),
		}
		for _, st := range steps {
			if _, err := exec(ctx, tx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

// Columns returns the columns of a table ordered by position.
func (s *Store) Columns(ctx context.Context, tableID string) ([]grid.Column, error) {
	const op = "columns"
	var cols []grid.Column
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.tableExists(ctx, tx, tableID); err != nil {
			return err
		}
		var err error
		cols, err = s.columns(ctx, tx, tableID)
		return err
	})
	return cols, err
}

// ListViews returns the views of a table.
func (s *Store) ListViews(ctx context.Context, tableID string) ([]grid.View, error) {
	const op = "list views"
	var out []grid.View
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.tableExists(ctx, tx, tableID); err != nil {
			return err
		}
		var err error
		out, err = s.views(ctx, tx, tableID)
		return err
	})
	return out, err
}

// CreateView adds a view to a table.
func (s *Store) CreateView(ctx context.Context, v grid.View) (grid.View, error) {
	const op = "create view"
	v.ID = newID()
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		cols, err := s.columnsOf(ctx, tx, v.TableID)
		if err != nil {
			return err
		}
		if err := v.Validate(cols); err != nil {
			return store.Errorf(store.Invalid, op, "%w", err)
		}
		var n int
		if err := scanRow(ctx, tx, s.qb.Select("COUNT(*)").From("grid_views").Where(squirrel.Eq{"table_id": v.TableID}), &n); err != nil {
			return err
		}
		return s.insertView(ctx, tx, &v, n)
	})
	if err != nil {
		return grid.View{}, err
	}
	return v, nil
}

// UpdateView replaces the configuration of a view.
func (s *Store) UpdateView(ctx context.Context, v grid.View) error {
	const op = "update view"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		err := scanRow(ctx, tx, s.qb.Select("table_id").From("grid_views").Where(squirrel.Eq{"id": v.ID}), &v.TableID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotFound, op, "view %s", v.ID)
		} else if err != nil {
			return err
		}
		cols, err := s.columns(ctx, tx, v.TableID)
		if err != nil {
			return err
		}
		if err := v.Validate(cols); err != nil {
			return store.Errorf(store.Invalid, op, "%w", err)
		}
		return s.writeView(ctx, tx, &v)
	})
}

// DeleteView deletes a view. The last view of a table cannot be deleted.
func (s *Store) DeleteView(ctx context.Context, viewID string) error {
	const op = "delete view"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var tableID string
		err := scanRow(ctx, tx, s.qb.Select("table_id").From("grid_views").Where(squirrel.Eq{"id": viewID}), &tableID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotFound, op, "view %s", viewID)
		} else if err != nil {
			return err
		}
		var n int
		if err := scanRow(ctx, tx, s.qb.Select("COUNT(*)").From("grid_views").Where(squirrel.Eq{"table_id": tableID}), &n); err != nil {
			return err
		}
		if n <= 1 {
			return store.Errorf(store.Conflict, op, "%w", grid.ErrLastView)
		}
		_, err = exec(ctx, tx, s.qb.Delete("grid_views").Where(squirrel.Eq{"id": viewID}))
		return err
	})
}

func (s *Store) columnsOf(ctx context.Context, q querier, tableID string) ([]grid.Column, error) {
	if err := s.tableExists(ctx, q, tableID); err != nil {
		return nil, err
	}
	return s.columns(ctx, q, tableID)
}

func (s *Store) views(ctx context.Context, q querier, tableID string) ([]grid.View, error) {
	rows, err := query(ctx, q, s.qb.Select("id", "table_id", "name", "filters", "sorts", "hidden", "search").
		From("grid_views").
		Where(squirrel.Eq{"table_id": tableID}).
		OrderBy("position"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []grid.View
	for rows.Next() {
		var v grid.View
		var filters, sorts, hidden string
		if err := rows.Scan(&v.ID, &v.TableID, &v.Name, &filters, &sorts, &hidden, &v.Search); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filters), &v.Filters); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sorts), &v.Sorts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hidden), &v.Hidden); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) insertView(ctx context.Context, q querier, v *grid.View, position int) error {
	filters, sorts, hidden, err := encodeView(v)
	if err != nil {
		return err
	}
	_, err = exec(ctx, q, s.qb.Insert("grid_views").
		Columns("id", "table_id", "name", "position", "filters", "sorts", "hidden", "search").
		Values(v.ID, v.TableID, v.Name, position, filters, sorts, hidden, v.Search))
	return err
}

func (s *Store) writeView(ctx context.Context, q querier, v *grid.View) error {
	filters, sorts, hidden, err := encodeView(v)
	if err != nil {
		return err
	}
	_, err = exec(ctx, q, s.qb.Update("grid_views").
		SetMap(map[string]any{"name": v.Name, "filters": filters, "sorts": sorts, "hidden": hidden, "search": v.Search}).
		Where(squirrel.Eq{"id": v.ID}))
	return err
}

// dropColumnFromViews removes references to a deleted column.
func (s *Store) dropColumnFromViews(ctx context.Context, q querier, tableID, columnID string) error {
	views, err := s.views(ctx, q, tableID)
	if err != nil {
		return err
	}
	for i := range views {
		v := &views[i]
		n := len(v.Filters) + len(v.Sorts) + len(v.Hidden)
		v.Filters = slices.DeleteFunc(v.Filters, func(f grid.Filter) bool { return f.ColumnID == columnID })
		v.Sorts = slices.DeleteFunc(v.Sorts, func(s grid.Sort) bool { return s.ColumnID == columnID })
		v.Hidden = slices.DeleteFunc(v.Hidden, func(id string) bool { return id == columnID })
		if len(v.Filters)+len(v.Sorts)+len(v.Hidden) == n {
			continue
		}
		if err := s.writeView(ctx, q, v); err != nil {
			return err
		}
	}
	return nil
}

func encodeView(v *grid.View) (filters, sorts, hidden string, err error) {
	enc := func(x any) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(x)
		return string(b)
	}
	filters = enc(nonNil(v.Filters))
	sorts = enc(nonNil(v.Sorts))
	hidden = enc(nonNil(v.Hidden))
	return filters, sorts, hidden, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
