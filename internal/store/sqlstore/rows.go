package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/store"
)

// CreateRow inserts a row with one empty cell per existing column.
func (s *Store) CreateRow(ctx context.Context, tableID string) (string, error) {
	return s.createRow(ctx, "create row", tableID, nil)
}

// CreateRowWithValues inserts a row and sets the given cells. Other cells are
// empty.
func (s *Store) CreateRowWithValues(ctx context.Context, tableID string, values map[string]grid.Value) (string, error) {
	return s.createRow(ctx, "create row with values", tableID, values)
}

func (s *Store) createRow(ctx context.Context, op, tableID string, values map[string]grid.Value) (string, error) {
	id := newID()
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.tableExists(ctx, tx, tableID); err != nil {
			return err
		}
		cols, err := s.columns(ctx, tx, tableID)
		if err != nil {
			return err
		}
		cells := make(map[string]grid.Value, len(values))
		for colID, v := range values {
			i := grid.FindColumn(cols, colID)
			if i < 0 {
				return store.Errorf(store.NotVisible, op, "column %s", colID)
			}
			c, err := v.Coerce(cols[i].Type)
			if err != nil {
				return store.Errorf(store.Invalid, op, "column %s: %w", colID, err)
			}
			cells[colID] = c
		}
		var seq int64
		next := s.qb.Select("COALESCE(MAX(seq), 0) + 1").From("grid_rows").Where(squirrel.Eq{"table_id": tableID})
		if err := scanRow(ctx, tx, next, &seq); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, s.qb.Insert("grid_rows").Columns("id", "table_id", "seq").Values(id, tableID, seq)); err != nil {
			return err
		}
		if len(cols) == 0 {
			return nil
		}
		ins := s.qb.Insert("grid_cells").Columns("row_id", "column_id", "text_value", "number_value")
		for _, c := range cols {
			v := cells[c.ID]
			ins = ins.Values(id, c.ID, nullText(v), nullNumber(v))
		}
		_, err = exec(ctx, tx, ins)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteRow deletes a row and its cells.
func (s *Store) DeleteRow(ctx context.Context, rowID string) error {
	return s.inTx(ctx, "delete row", func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, s.qb.Delete("grid_rows").Where(squirrel.Eq{"id": rowID}))
		if err != nil {
			return err
		}
		if err := affected(res, "row %s", rowID); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.qb.Delete("grid_cells").Where(squirrel.Eq{"row_id": rowID}))
		return err
	})
}

// UpdateCell upserts the cell of (row, column), coercing v to the column type.
//
// A column the store does not know yet is reported as store.NotVisible so
// the caller retries.
func (s *Store) UpdateCell(ctx context.Context, rowID, columnID string, v grid.Value) error {
	const op = "update cell"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var rowTable string
		err := scanRow(ctx, tx, s.qb.Select("table_id").From("grid_rows").Where(squirrel.Eq{"id": rowID}), &rowTable)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotFound, op, "row %s", rowID)
		} else if err != nil {
			return err
		}
		var colTable, colType string
		err = scanRow(ctx, tx, s.qb.Select("table_id", "type").From("grid_columns").Where(squirrel.Eq{"id": columnID}), &colTable, &colType)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotVisible, op, "column %s", columnID)
		} else if err != nil {
			return err
		}
		if colTable != rowTable {
			return store.Errorf(store.Invalid, op, "column %s does not belong to the table of row %s", columnID, rowID)
		}
		c, err := v.Coerce(grid.ColumnType(colType))
		if err != nil {
			return store.Errorf(store.Invalid, op, "%w", err)
		}
		_, err = exec(ctx, tx, s.qb.Insert("grid_cells").
			Columns("row_id", "column_id", "text_value", "number_value").
			Values(rowID, columnID, nullText(c), nullNumber(c)).
			Suffix("ON CONFLICT (row_id, column_id) DO UPDATE SET text_value = excluded.text_value, number_value = excluded.number_value"))
		return err
	})
}

// AddColumn appends a column and backfills an empty cell for every existing
// row in the same transaction.
func (s *Store) AddColumn(ctx context.Context, tableID, name string, t grid.ColumnType) (grid.Column, error) {
	const op = "add column"
	col := grid.Column{ID: newID(), TableID: tableID, Name: name, Type: t}
	if err := col.Validate(); err != nil {
		return grid.Column{}, store.Errorf(store.Invalid, op, "%w", err)
	}
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.tableExists(ctx, tx, tableID); err != nil {
			return err
		}
		if err := scanRow(ctx, tx, s.qb.Select("COUNT(*)").From("grid_columns").Where(squirrel.Eq{"table_id": tableID}), &col.Position); err != nil {
			return err
		}
		if err := s.insertColumn(ctx, tx, &col); err != nil {
			return err
		}
		backfill := squirrel.Select("id").Column("CAST(? AS TEXT)", col.ID).From("grid_rows").Where(squirrel.Eq{"table_id": tableID})
		_, err := exec(ctx, tx, s.qb.Insert("grid_cells").Columns("row_id", "column_id").Select(backfill))
		return err
	})
	if err != nil {
		return grid.Column{}, err
	}
	return col, nil
}

// UpdateColumn renames a column.
func (s *Store) UpdateColumn(ctx context.Context, columnID, name string) error {
	const op = "update column"
	if name == "" {
		return store.Errorf(store.Invalid, op, "name is required")
	}
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, s.qb.Update("grid_columns").Set("name", name).Where(squirrel.Eq{"id": columnID}))
		if err != nil {
			return err
		}
		return affected(res, "column %s", columnID)
	})
}

// DeleteColumn deletes a column and its cells, closes the gap in positions
// and drops the column from every view of the table.
func (s *Store) DeleteColumn(ctx context.Context, columnID string) error {
	const op = "delete column"
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var tableID string
		var position int
		var primary bool
		err := scanRow(ctx, tx, s.qb.Select("table_id", "position", "is_primary").From("grid_columns").Where(squirrel.Eq{"id": columnID}), &tableID, &position, &primary)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.NotFound, op, "column %s", columnID)
		} else if err != nil {
			return err
		}
		if primary {
			return store.Errorf(store.Invalid, op, "%w", grid.ErrPrimaryColumn)
		}
		if _, err := exec(ctx, tx, s.qb.Delete("grid_cells").Where(squirrel.Eq{"column_id": columnID})); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, s.qb.Delete("grid_columns").Where(squirrel.Eq{"id": columnID})); err != nil {
			return err
		}
		shift := s.qb.Update("grid_columns").
			Set("position", squirrel.Expr("position - 1")).
			Where(squirrel.Eq{"table_id": tableID}).
			Where(squirrel.Gt{"position": position})
		if _, err := exec(ctx, tx, shift); err != nil {
			return err
		}
		return s.dropColumnFromViews(ctx, tx, tableID, columnID)
	})
}

func (s *Store) tableExists(ctx context.Context, q querier, tableID string) error {
	var n int
	if err := scanRow(ctx, q, s.qb.Select("COUNT(*)").From("grid_tables").Where(squirrel.Eq{"id": tableID}), &n); err != nil {
		return err
	}
	if n == 0 {
		return store.Errorf(store.NotFound, "", "table %s", tableID)
	}
	return nil
}

func (s *Store) insertColumn(ctx context.Context, q querier, c *grid.Column) error {
	_, err := exec(ctx, q, s.qb.Insert("grid_columns").
		Columns("id", "table_id", "name", "type", "position", "is_primary").
		Values(c.ID, c.TableID, c.Name, string(c.Type), c.Position, c.IsPrimary))
	return err
}

// columns returns the columns of a table ordered by position.
func (s *Store) columns(ctx context.Context, q querier, tableID string) ([]grid.Column, error) {
	rows, err := query(ctx, q, s.qb.Select("id", "table_id", "name", "type", "position", "is_primary").
		From("grid_columns").
		Where(squirrel.Eq{"table_id": tableID}).
		OrderBy("position"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var cols []grid.Column
	for rows.Next() {
		var c grid.Column
		var t string
		if err := rows.Scan(&c.ID, &c.TableID, &c.Name, &t, &c.Position, &c.IsPrimary); err != nil {
			return nil, err
		}
		c.Type = grid.ColumnType(t)
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func nullText(v grid.Value) sql.NullString {
	if v.Text == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v.Text, Valid: true}
}

func nullNumber(v grid.Value) sql.NullFloat64 {
	if v.Number == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v.Number, Valid: true}
}

func scanValue(text sql.NullString, number sql.NullFloat64) grid.Value {
	switch {
	case text.Valid:
		return grid.TextValue(text.String)
	case number.Valid:
		return grid.NumberValue(number.Float64)
	default:
		return grid.Value{}
	}
}
