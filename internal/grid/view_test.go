// Tests for view validation and sort keys.

package grid

import (
	"errors"
	"slices"
	"testing"
)

func testColumns() []Column {
	return []Column{
		{ID: "c1", Name: "Name", Type: ColumnTypeText, Position: 0, IsPrimary: true},
		{ID: "c2", Name: "Age", Type: ColumnTypeNumber, Position: 1},
	}
}

func TestView_Validate(t *testing.T) {
	cols := testColumns()
	t.Run("valid", func(t *testing.T) {
		v := View{Name: "All", Hidden: []string{"c2"}, Sorts: []Sort{{ColumnID: "c2", Direction: SortDesc}}}
		if err := v.Validate(cols); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			view View
			is   error
		}{
			{"no name", View{}, errNameRequired},
			{"primary hidden", View{Name: "v", Hidden: []string{"c1"}}, ErrPrimaryColumn},
			{"unknown hidden", View{Name: "v", Hidden: []string{"zz"}}, nil},
			{"bad direction", View{Name: "v", Sorts: []Sort{{ColumnID: "c2", Direction: "up"}}}, nil},
			{"unknown sort column", View{Name: "v", Sorts: []Sort{{ColumnID: "zz", Direction: SortAsc}}}, nil},
			{"bad operator", View{Name: "v", Filters: []Filter{{ColumnID: "c2", Operator: "near"}}}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.view.Validate(cols)
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.is != nil && !errors.Is(err, tt.is) {
					t.Errorf("got %v, want %v", err, tt.is)
				}
			})
		}
	})
}

func TestSortKey(t *testing.T) {
	sorts := []Sort{{ColumnID: "a", Direction: SortAsc}, {ColumnID: "b", Direction: SortDesc}}
	key := SortKey(sorts)
	if key != "a:asc,b:desc" {
		t.Fatalf("SortKey() = %q", key)
	}
	got, err := ParseSortKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, sorts) {
		t.Errorf("ParseSortKey() = %v, want %v", got, sorts)
	}
	if got, err := ParseSortKey("a"); err != nil || got[0].Direction != SortAsc {
		t.Errorf("ParseSortKey(a) = %v, %v", got, err)
	}
	if _, err := ParseSortKey("a:sideways"); err == nil {
		t.Error("expected error")
	}
	if got, err := ParseSortKey(""); err != nil || got != nil {
		t.Errorf("ParseSortKey(\"\") = %v, %v", got, err)
	}
}

func TestCheckPositions(t *testing.T) {
	if err := CheckPositions(testColumns()); err != nil {
		t.Fatal(err)
	}
	cols := testColumns()
	cols[1].Position = 2
	if err := CheckPositions(cols); err == nil {
		t.Error("expected gap error")
	}
	cols = testColumns()
	cols[1].IsPrimary = true
	if err := CheckPositions(cols); err == nil {
		t.Error("expected primary error")
	}
}
