package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/google/go-cmp/cmp"

	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.Context(), DriverSQLite, filepath.Join(t.TempDir(), "db", "gridb.sqlite"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTable(t *testing.T, s *Store) grid.Table {
	t.Helper()
	_, tbl, err := s.CreateBase(t.Context(), "Base")
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func countCells(t *testing.T, s *Store, where squirrel.Sqlizer) int {
	t.Helper()
	var n int
	if err := scanRow(context.Background(), s.db, s.qb.Select("COUNT(*)").From("grid_cells").Where(where), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func wantKind(t *testing.T, err error, want store.Kind) {
	t.Helper()
	if got := store.KindOf(err); got != want {
		t.Fatalf("got %v (%s), want %s", err, got, want)
	}
}

func TestCreateBase(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	if len(tbl.Columns) != 1 || !tbl.Columns[0].IsPrimary || tbl.Columns[0].Name != "Name" {
		t.Fatalf("columns = %+v", tbl.Columns)
	}
	views, err := s.ListViews(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %+v", views)
	}
	bases, err := s.ListBases(ctx)
	if err != nil || len(bases) != 1 {
		t.Fatalf("bases = %+v, %v", bases, err)
	}
	tables, err := s.ListTables(ctx, tbl.BaseID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]grid.Table{tbl}, tables); diff != "" {
		t.Errorf("tables (-want +got):\n%s", diff)
	}
}

func TestAddColumnBackfills(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	for range 3 {
		if _, err := s.CreateRow(ctx, tbl.ID); err != nil {
			t.Fatal(err)
		}
	}
	col, err := s.AddColumn(ctx, tbl.ID, "Qty", grid.ColumnTypeNumber)
	if err != nil {
		t.Fatal(err)
	}
	if col.Position != 1 {
		t.Errorf("position = %d", col.Position)
	}
	if n := countCells(t, s, squirrel.Eq{"column_id": col.ID}); n != 3 {
		t.Errorf("backfilled %d cells, want 3", n)
	}
	// New rows get one cell per column.
	id, err := s.CreateRow(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n := countCells(t, s, squirrel.Eq{"row_id": id}); n != 2 {
		t.Errorf("row has %d cells, want 2", n)
	}
	_, err = s.AddColumn(ctx, tbl.ID, "", grid.ColumnTypeText)
	wantKind(t, err, store.Invalid)
	_, err = s.AddColumn(ctx, "nope", "X", grid.ColumnTypeText)
	wantKind(t, err, store.NotFound)
}

func TestUpdateCell(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	col, err := s.AddColumn(ctx, tbl.ID, "Qty", grid.ColumnTypeNumber)
	if err != nil {
		t.Fatal(err)
	}
	row, err := s.CreateRow(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []grid.Value{grid.NumberValue(1), grid.TextValue(" 12 ")} {
		if err := s.UpdateCell(ctx, row, col.ID, v); err != nil {
			t.Fatal(err)
		}
	}
	if n := countCells(t, s, squirrel.Eq{"row_id": row, "column_id": col.ID}); n != 1 {
		t.Errorf("%d cells for the pair", n)
	}
	page, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := page.Rows[0].Cell(col.ID)
	if !c.Value.Equal(grid.NumberValue(12)) {
		t.Errorf("value = %+v", c.Value)
	}

	err = s.UpdateCell(ctx, row, "not-yet", grid.TextValue("x"))
	wantKind(t, err, store.NotVisible)
	if !store.IsTransient(err) {
		t.Error("missing column must be retryable")
	}
	wantKind(t, s.UpdateCell(ctx, "nope", col.ID, grid.TextValue("x")), store.NotFound)
	wantKind(t, s.UpdateCell(ctx, row, col.ID, grid.TextValue("abc")), store.Invalid)
}

func TestCreateRowWithValues(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	name := tbl.Columns[0].ID
	id, err := s.CreateRowWithValues(ctx, tbl.ID, map[string]grid.Value{name: grid.TextValue("apple")})
	if err != nil {
		t.Fatal(err)
	}
	page, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID})
	if err != nil {
		t.Fatal(err)
	}
	want := []grid.Row{{ID: id, TableID: tbl.ID, Cells: []grid.Cell{{ColumnID: name, Value: grid.TextValue("apple")}}}}
	if diff := cmp.Diff(want, page.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
	_, err = s.CreateRowWithValues(ctx, tbl.ID, map[string]grid.Value{"tmp-x": grid.TextValue("a")})
	wantKind(t, err, store.NotVisible)
}

func TestDeleteRow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	id, err := s.CreateRow(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRow(ctx, id); err != nil {
		t.Fatal(err)
	}
	if n := countCells(t, s, squirrel.Eq{"row_id": id}); n != 0 {
		t.Errorf("%d cells left", n)
	}
	wantKind(t, s.DeleteRow(ctx, id), store.NotFound)
}

func TestDeleteColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	if _, err := s.CreateRow(ctx, tbl.ID); err != nil {
		t.Fatal(err)
	}
	a, _ := s.AddColumn(ctx, tbl.ID, "A", grid.ColumnTypeText)
	b, _ := s.AddColumn(ctx, tbl.ID, "B", grid.ColumnTypeText)
	views, _ := s.ListViews(ctx, tbl.ID)
	v := views[0]
	v.Hidden = []string{a.ID}
	v.Sorts = []grid.Sort{{ColumnID: a.ID, Direction: grid.SortAsc}}
	if err := s.UpdateView(ctx, v); err != nil {
		t.Fatal(err)
	}

	wantKind(t, s.DeleteColumn(ctx, tbl.Columns[0].ID), store.Invalid)
	if err := s.DeleteColumn(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	cols, err := s.Columns(ctx, tbl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := grid.CheckPositions(cols); err != nil {
		t.Error(err)
	}
	if len(cols) != 2 || cols[1].ID != b.ID {
		t.Errorf("columns = %+v", cols)
	}
	if n := countCells(t, s, squirrel.Eq{"column_id": a.ID}); n != 0 {
		t.Errorf("%d cells left", n)
	}
	views, _ = s.ListViews(ctx, tbl.ID)
	if len(views[0].Hidden) != 0 || len(views[0].Sorts) != 0 {
		t.Errorf("view still references the column: %+v", views[0])
	}
	wantKind(t, s.DeleteColumn(ctx, a.ID), store.NotFound)
}

func TestRenameColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	if err := s.UpdateColumn(ctx, tbl.Columns[0].ID, "Title"); err != nil {
		t.Fatal(err)
	}
	cols, _ := s.Columns(ctx, tbl.ID)
	if cols[0].Name != "Title" {
		t.Errorf("name = %q", cols[0].Name)
	}
	wantKind(t, s.UpdateColumn(ctx, "nope", "x"), store.NotFound)
	wantKind(t, s.UpdateColumn(ctx, cols[0].ID, ""), store.Invalid)
}

func TestGetPage(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	name := tbl.Columns[0].ID
	qty, err := s.AddColumn(ctx, tbl.ID, "Qty", grid.ColumnTypeNumber)
	if err != nil {
		t.Fatal(err)
	}
	fruits := []struct {
		name string
		qty  grid.Value
	}{
		{"apple", grid.NumberValue(3)},
		{"pear", grid.NumberValue(10)},
		{"plum", grid.Value{}},
		{"Peach", grid.NumberValue(1)},
		{"fig 100%", grid.NumberValue(7)},
	}
	ids := map[string]string{}
	for _, f := range fruits {
		id, err := s.CreateRowWithValues(ctx, tbl.ID, map[string]grid.Value{name: grid.TextValue(f.name), qty.ID: f.qty})
		if err != nil {
			t.Fatal(err)
		}
		ids[f.name] = id
	}
	names := func(rows []grid.Row) []string {
		var out []string
		for _, r := range rows {
			c, _ := r.Cell(name)
			out = append(out, c.Value.String())
		}
		return out
	}

	t.Run("paginate", func(t *testing.T) {
		var got []string
		cursor := ""
		pages := 0
		for {
			res, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Cursor: cursor, Limit: 2})
			if err != nil {
				t.Fatal(err)
			}
			if res.TotalCount != 5 {
				t.Errorf("total = %d", res.TotalCount)
			}
			pages++
			got = append(got, names(res.Rows)...)
			if res.NextCursor == "" {
				break
			}
			cursor = res.NextCursor
		}
		if pages != 3 {
			t.Errorf("pages = %d", pages)
		}
		if diff := cmp.Diff([]string{"apple", "pear", "plum", "Peach", "fig 100%"}, got); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
	})
	t.Run("sort desc nulls last", func(t *testing.T) {
		res, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Sorts: []grid.Sort{{ColumnID: qty.ID, Direction: grid.SortDesc}}})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"pear", "fig 100%", "apple", "Peach", "plum"}, names(res.Rows)); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
	})
	t.Run("search", func(t *testing.T) {
		for search, want := range map[string][]string{
			"PE":   {"pear", "Peach"},
			"100%": {"fig 100%"},
			"10":   {"pear", "fig 100%"},
			"zzz":  nil,
		} {
			res, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Search: search})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, names(res.Rows)); diff != "" {
				t.Errorf("%q (-want +got):\n%s", search, diff)
			}
			if res.TotalCount != len(want) {
				t.Errorf("%q: total = %d", search, res.TotalCount)
			}
		}
	})
	t.Run("errors", func(t *testing.T) {
		_, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Cursor: "!!"})
		wantKind(t, err, store.Invalid)
		_, err = s.GetPage(ctx, store.PageQuery{TableID: "nope"})
		wantKind(t, err, store.NotFound)
		_, err = s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Sorts: []grid.Sort{{ColumnID: "nope", Direction: grid.SortAsc}}})
		wantKind(t, err, store.Invalid)
	})
}

func TestStructureGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	err := s.DeleteTable(ctx, tbl.ID)
	wantKind(t, err, store.Conflict)
	if !errors.Is(err, grid.ErrLastTable) {
		t.Errorf("got %v", err)
	}
	views, _ := s.ListViews(ctx, tbl.ID)
	err = s.DeleteView(ctx, views[0].ID)
	if !errors.Is(err, grid.ErrLastView) {
		t.Errorf("got %v", err)
	}
	_, err = s.CreateView(ctx, grid.View{TableID: tbl.ID, Name: "Hidden primary", Hidden: []string{tbl.Columns[0].ID}})
	if !errors.Is(err, grid.ErrPrimaryColumn) {
		t.Errorf("got %v", err)
	}
	second, err := s.CreateView(ctx, grid.View{TableID: tbl.ID, Name: "Second"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteView(ctx, second.ID); err != nil {
		t.Fatal(err)
	}

	other, err := s.CreateTable(ctx, tbl.BaseID, "Other")
	if err != nil {
		t.Fatal(err)
	}
	row, _ := s.CreateRow(ctx, other.ID)
	if err := s.RenameTable(ctx, other.ID, "Renamed"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTable(ctx, other.ID); err != nil {
		t.Fatal(err)
	}
	if n := countCells(t, s, squirrel.Eq{"row_id": row}); n != 0 {
		t.Errorf("%d cells left", n)
	}
	_, err = s.Columns(ctx, other.ID)
	wantKind(t, err, store.NotFound)
}

func TestCursor(t *testing.T) {
	text, number := "pear", 2.5
	tests := []*Cursor{
		nil,
		{Seq: 1},
		{Seq: 12345, Keys: []CursorKey{{Column: "c1", Text: &text}, {Column: "c2", Number: &number}, {Column: "c3"}}},
	}
	for _, want := range tests {
		enc, err := EncodeCursor(want)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeCursor(enc)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	}
	enc, _ := EncodeCursor(&Cursor{Seq: 5})
	if _, err := DecodeCursor(enc + "x"); err == nil {
		t.Error("expected error")
	}
}

// Deleting a row of a page already returned does not shift the next one.
func TestGetPageAfterDelete(t *testing.T) {
	fruits := []struct {
		name string
		qty  grid.Value
	}{
		{"apple", grid.NumberValue(3)},
		{"pear", grid.NumberValue(10)},
		{"plum", grid.Value{}},
		{"Peach", grid.NumberValue(1)},
		{"fig", grid.NumberValue(3)},
	}
	tests := []struct {
		name   string
		desc   bool
		sorted bool
		want   []string
	}{
		{"creation order", false, false, []string{"plum", "Peach", "fig"}},
		{"qty asc", false, true, []string{"fig", "pear", "plum"}},
		{"qty desc", true, true, []string{"fig", "Peach", "plum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := t.Context()
			tbl := newTestTable(t, s)
			name := tbl.Columns[0].ID
			qty, err := s.AddColumn(ctx, tbl.ID, "Qty", grid.ColumnTypeNumber)
			if err != nil {
				t.Fatal(err)
			}
			for _, f := range fruits {
				if _, err := s.CreateRowWithValues(ctx, tbl.ID, map[string]grid.Value{name: grid.TextValue(f.name), qty.ID: f.qty}); err != nil {
					t.Fatal(err)
				}
			}
			q := store.PageQuery{TableID: tbl.ID, Limit: 2}
			if tt.sorted {
				dir := grid.SortAsc
				if tt.desc {
					dir = grid.SortDesc
				}
				q.Sorts = []grid.Sort{{ColumnID: qty.ID, Direction: dir}}
			}
			first, err := s.GetPage(ctx, q)
			if err != nil {
				t.Fatal(err)
			}
			if first.NextCursor == "" {
				t.Fatal("expected a second page")
			}
			if err := s.DeleteRow(ctx, first.Rows[0].ID); err != nil {
				t.Fatal(err)
			}
			var got []string
			q.Cursor = first.NextCursor
			for {
				res, err := s.GetPage(ctx, q)
				if err != nil {
					t.Fatal(err)
				}
				for _, r := range res.Rows {
					c, _ := r.Cell(name)
					got = append(got, c.Value.String())
				}
				if res.NextCursor == "" {
					break
				}
				q.Cursor = res.NextCursor
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rest (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetPageCursorMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	tbl := newTestTable(t, s)
	for range 3 {
		if _, err := s.CreateRow(ctx, tbl.ID); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.GetPage(ctx, store.PageQuery{TableID: tbl.ID, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.GetPage(ctx, store.PageQuery{
		TableID: tbl.ID,
		Cursor:  res.NextCursor,
		Sorts:   []grid.Sort{{ColumnID: tbl.Columns[0].ID, Direction: grid.SortAsc}},
	})
	wantKind(t, err, store.Invalid)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want store.Kind
	}{
		{"08006", store.Transient},
		{"40001", store.Transient},
		{"53300", store.Transient},
		{"23503", store.NotVisible},
		{"23505", store.Conflict},
		{"23502", store.Invalid},
		{"22P02", store.Invalid},
		{"42501", store.Unauthorized},
		{"28P01", store.Unauthorized},
		{"42P01", store.Internal},
	}
	for _, tt := range tests {
		if got := pgKind(tt.code); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.code, got, tt.want)
		}
	}
	for code, want := range map[int]store.Kind{5: store.Transient, 6: store.Transient, 517: store.Transient, 787: store.NotVisible, 2067: store.Conflict, 19: store.Invalid, 23: store.Unauthorized, 1: store.Internal} {
		if got := sqliteKind(code); got != want {
			t.Errorf("%d: got %s, want %s", code, got, want)
		}
	}
	if classify("x", nil) != nil {
		t.Error("nil must stay nil")
	}
}
