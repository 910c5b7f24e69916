// Converts between domain and API types.

package server

import (
	"github.com/maruel/gridb/internal/cache"
	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/server/dto"
)

// toValue converts a decoded JSON cell value. Strings are text, everything
// else is numeric; the coordinator coerces to the column type.
func toValue(raw any) (grid.Value, error) {
	if s, ok := raw.(string); ok {
		return grid.TextValue(s), nil
	}
	return grid.ValueFromAny(raw, grid.ColumnTypeNumber)
}

func fromValue(v grid.Value) any {
	switch {
	case v.Text != nil:
		return *v.Text
	case v.Number != nil:
		return *v.Number
	default:
		return nil
	}
}

func (s *Server) snapshotResponse(key cache.Key, snap *cache.Snapshot) *dto.SnapshotResponse {
	resp := &dto.SnapshotResponse{
		TableID:    key.TableID,
		Sort:       key.Sort,
		Search:     key.Search,
		Columns:    make([]dto.ColumnResponse, 0, len(snap.Columns)),
		Rows:       make([]dto.RowResponse, 0, snap.RowCount()),
		TotalCount: snap.TotalCount,
		HasMore:    snap.HasMore(),
	}
	for i := range snap.Columns {
		c := columnToResponse(&snap.Columns[i])
		c.Pending = s.registry.IsPending(c.ID)
		resp.Columns = append(resp.Columns, c)
	}
	for r := range snap.Rows() {
		row := dto.RowResponse{ID: r.ID, Pending: s.registry.IsPending(r.ID), Cells: make(map[string]any, len(r.Cells))}
		for _, c := range r.Cells {
			row.Cells[c.ColumnID] = fromValue(c.Value)
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp
}

func columnToResponse(c *grid.Column) dto.ColumnResponse {
	return dto.ColumnResponse{
		ID:        c.ID,
		Name:      c.Name,
		Type:      dto.ColumnType(c.Type),
		Position:  c.Position,
		IsPrimary: c.IsPrimary,
	}
}

func baseToResponse(b grid.Base) dto.BaseResponse {
	return dto.BaseResponse{ID: b.ID, Name: b.Name}
}

func tableToResponse(t *grid.Table) dto.TableResponse {
	resp := dto.TableResponse{ID: t.ID, BaseID: t.BaseID, Name: t.Name}
	for i := range t.Columns {
		resp.Columns = append(resp.Columns, columnToResponse(&t.Columns[i]))
	}
	return resp
}

func viewFromRequest(tableID, viewID, name string, filters []dto.Filter, sorts []dto.Sort, hidden []string, search string) grid.View {
	v := grid.View{ID: viewID, TableID: tableID, Name: name, Hidden: hidden, Search: search}
	for _, f := range filters {
		v.Filters = append(v.Filters, grid.Filter{ColumnID: f.ColumnID, Operator: grid.FilterOp(f.Operator), Value: f.Value})
	}
	for _, so := range sorts {
		v.Sorts = append(v.Sorts, grid.Sort{ColumnID: so.ColumnID, Direction: grid.SortDir(so.Direction)})
	}
	return v
}

func viewToResponse(v *grid.View) dto.ViewResponse {
	resp := dto.ViewResponse{ID: v.ID, TableID: v.TableID, Name: v.Name, Hidden: v.Hidden, Search: v.Search}
	for _, f := range v.Filters {
		resp.Filters = append(resp.Filters, dto.Filter{ColumnID: f.ColumnID, Operator: string(f.Operator), Value: f.Value})
	}
	for _, so := range v.Sorts {
		resp.Sorts = append(resp.Sorts, dto.Sort{ColumnID: so.ColumnID, Direction: string(so.Direction)})
	}
	return resp
}
