package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/store"
)

// Page size bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Cursor is the position after the last row of a page: the sort values of
// that row and its sequence number. Rows deleted or inserted before it do not
// shift the next page.
type Cursor struct {
	Seq  int64       `json:"q"`
	Keys []CursorKey `json:"k,omitempty"`
}

// CursorKey is the value of one sort column. Both values are nil for an
// empty cell.
type CursorKey struct {
	Column string   `json:"c"`
	Text   *string  `json:"t,omitempty"`
	Number *float64 `json:"n,omitempty"`
}

// EncodeCursor returns the opaque form of c.
func EncodeCursor(c *Cursor) (string, error) {
	if c == nil {
		return "", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor is the reverse of EncodeCursor. It returns nil for the first
// page.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	c := &Cursor{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
	}
	return c, nil
}

// sortField is the joined cell value a page is ordered by.
type sortField struct {
	column string
	expr   string
	number bool
	desc   bool
}

func (f *sortField) scan() any {
	if f.number {
		return &sql.NullFloat64{}
	}
	return &sql.NullString{}
}

func (f *sortField) key(v any) CursorKey {
	k := CursorKey{Column: f.column}
	switch v := v.(type) {
	case *sql.NullFloat64:
		if v.Valid {
			k.Number = &v.Float64
		}
	case *sql.NullString:
		if v.Valid {
			k.Text = &v.String
		}
	}
	return k
}

// after returns the predicate selecting the rows ordered after c: empty
// cells last on every sort column, then by sequence.
func after(c *Cursor, fields []sortField) (squirrel.Sqlizer, error) {
	if len(c.Keys) != len(fields) {
		return nil, errors.New("cursor does not match the sort order")
	}
	var or squirrel.Or
	var eq squirrel.And
	for i, f := range fields {
		k := c.Keys[i]
		if k.Column != f.column {
			return nil, errors.New("cursor does not match the sort order")
		}
		var v any
		switch {
		case f.number && k.Number != nil && k.Text == nil:
			v = *k.Number
		case !f.number && k.Text != nil && k.Number == nil:
			v = *k.Text
		case k.Number == nil && k.Text == nil:
			eq = append(eq, squirrel.Expr(f.expr+" IS NULL"))
			continue
		default:
			return nil, fmt.Errorf("cursor value of %s has the wrong type", f.column)
		}
		rel := " > ?"
		if f.desc {
			rel = " < ?"
		}
		or = append(or, append(slices.Clone(eq), squirrel.Or{squirrel.Expr(f.expr + " IS NULL"), squirrel.Expr(f.expr+rel, v)}))
		eq = append(eq, squirrel.Expr(f.expr+" = ?", v))
	}
	return append(or, append(eq, squirrel.Expr("r.seq > ?", c.Seq))), nil
}

// GetPage returns one window of rows.
//
// Rows are ordered by q.Sorts, empty cells last, then by creation order.
// Search matches text and number cells case-insensitively.
func (s *Store) GetPage(ctx context.Context, q store.PageQuery) (*store.PageResult, error) {
	const op = "get page"
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, &store.Error{Kind: store.Invalid, Op: op, Err: err}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	res := &store.PageResult{}
	err = s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.tableExists(ctx, tx, q.TableID); err != nil {
			return err
		}
		if res.Columns, err = s.columns(ctx, tx, q.TableID); err != nil {
			return err
		}
		sel := s.qb.Select("r.id", "r.seq").From("grid_rows r").Where(squirrel.Eq{"r.table_id": q.TableID})
		count := s.qb.Select("COUNT(*)").From("grid_rows r").Where(squirrel.Eq{"r.table_id": q.TableID})
		if q.Search != "" {
			pred := searchPredicate(q.Search)
			sel = sel.Where(pred)
			count = count.Where(pred)
		}
		fields := make([]sortField, 0, len(q.Sorts))
		for i, srt := range q.Sorts {
			ci := grid.FindColumn(res.Columns, srt.ColumnID)
			if ci < 0 {
				return store.Errorf(store.Invalid, op, "sort column %s does not exist", srt.ColumnID)
			}
			alias := fmt.Sprintf("s%d", i)
			f := sortField{column: srt.ColumnID, expr: alias + ".text_value", desc: srt.Direction == grid.SortDesc}
			if res.Columns[ci].Type == grid.ColumnTypeNumber {
				f.expr, f.number = alias+".number_value", true
			}
			dir := "ASC"
			if f.desc {
				dir = "DESC"
			}
			sel = sel.Column(f.expr).
				LeftJoin(fmt.Sprintf("grid_cells %s ON %s.row_id = r.id AND %s.column_id = ?", alias, alias, alias), srt.ColumnID).
				OrderBy(fmt.Sprintf("CASE WHEN %s IS NULL THEN 1 ELSE 0 END", f.expr), f.expr+" "+dir)
			fields = append(fields, f)
		}
		if cur != nil {
			pred, err := after(cur, fields)
			if err != nil {
				return &store.Error{Kind: store.Invalid, Op: op, Err: err}
			}
			sel = sel.Where(pred)
		}
		sel = sel.OrderBy("r.seq").Limit(uint64(limit + 1))
		if err := scanRow(ctx, tx, count, &res.TotalCount); err != nil {
			return err
		}
		rows, err := query(ctx, tx, sel)
		if err != nil {
			return err
		}
		var ids []string
		var last *Cursor
		for rows.Next() {
			var id string
			c := &Cursor{}
			dest := []any{&id, &c.Seq}
			for i := range fields {
				dest = append(dest, fields[i].scan())
			}
			if err := rows.Scan(dest...); err != nil {
				_ = rows.Close()
				return err
			}
			if len(ids) < limit {
				for i := range fields {
					c.Keys = append(c.Keys, fields[i].key(dest[2+i]))
				}
				last = c
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) > limit {
			ids = ids[:limit]
			if res.NextCursor, err = EncodeCursor(last); err != nil {
				return err
			}
		}
		res.Rows, err = s.loadRows(ctx, tx, q.TableID, ids, res.Columns)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// loadRows returns the rows in ids order, with cells in column order.
func (s *Store) loadRows(ctx context.Context, q querier, tableID string, ids []string, cols []grid.Column) ([]grid.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := query(ctx, q, s.qb.Select("row_id", "column_id", "text_value", "number_value").
		From("grid_cells").
		Where(squirrel.Eq{"row_id": ids}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	cells := make(map[string]map[string]grid.Value, len(ids))
	for rows.Next() {
		var rowID, colID string
		var text sql.NullString
		var number sql.NullFloat64
		if err := rows.Scan(&rowID, &colID, &text, &number); err != nil {
			return nil, err
		}
		m := cells[rowID]
		if m == nil {
			m = map[string]grid.Value{}
			cells[rowID] = m
		}
		m[colID] = scanValue(text, number)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]grid.Row, 0, len(ids))
	for _, id := range ids {
		r := grid.Row{ID: id, TableID: tableID, Cells: make([]grid.Cell, 0, len(cols))}
		for _, c := range cols {
			r.Cells = append(r.Cells, grid.Cell{ColumnID: c.ID, Value: cells[id][c.ID]})
		}
		out = append(out, r)
	}
	return out, nil
}

func searchPredicate(search string) squirrel.Sqlizer {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	pattern := "%" + r.Replace(strings.ToLower(search)) + "%"
	return squirrel.Expr(`EXISTS (SELECT 1 FROM grid_cells sc WHERE sc.row_id = r.id AND
		(LOWER(sc.text_value) LIKE ? ESCAPE '\' OR CAST(sc.number_value AS TEXT) LIKE ? ESCAPE '\'))`, pattern, pattern)
}
