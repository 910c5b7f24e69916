// Package server exposes the optimistic mutation engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maruel/gridb/internal/cache"
	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/journal"
	"github.com/maruel/gridb/internal/mutation"
	"github.com/maruel/gridb/internal/pager"
	"github.com/maruel/gridb/internal/pending"
	"github.com/maruel/gridb/internal/server/dto"
	"github.com/maruel/gridb/internal/server/ratelimit"
)

// Catalog manages bases, tables and views. Those writes are not optimistic.
type Catalog interface {
	Ping(ctx context.Context) error
	CreateBase(ctx context.Context, name string) (grid.Base, grid.Table, error)
	ListBases(ctx context.Context) ([]grid.Base, error)
	ListTables(ctx context.Context, baseID string) ([]grid.Table, error)
	CreateTable(ctx context.Context, baseID, name string) (grid.Table, error)
	RenameTable(ctx context.Context, tableID, name string) error
	DeleteTable(ctx context.Context, tableID string) error
	ListViews(ctx context.Context, tableID string) ([]grid.View, error)
	CreateView(ctx context.Context, v grid.View) (grid.View, error)
	UpdateView(ctx context.Context, v grid.View) error
	DeleteView(ctx context.Context, viewID string) error
}

// Config holds the collaborators of a Server.
type Config struct {
	Coordinator *mutation.Coordinator
	Cache       *cache.Cache
	Pager       *pager.Pager
	Registry    *pending.Registry
	Catalog     Catalog
	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer
	Limiters *ratelimit.Limiters
	// Journal is listed on /api/journal when set.
	Journal *journal.Log
	Version string
}

// Server implements the API handlers.
type Server struct {
	coord    *mutation.Coordinator
	cache    *cache.Cache
	pager    *pager.Pager
	registry *pending.Registry
	catalog  Catalog
	gatherer prometheus.Gatherer
	limiters *ratelimit.Limiters
	journal  *journal.Log
	version  string
	upgrader websocket.Upgrader
}

// New returns a Server.
func New(cfg *Config) *Server {
	return &Server{
		coord:    cfg.Coordinator,
		cache:    cfg.Cache,
		pager:    cfg.Pager,
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		gatherer: cfg.Gatherer,
		limiters: cfg.Limiters,
		journal:  cfg.Journal,
		version:  cfg.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Health reports the server status.
func (s *Server) Health(ctx context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	resp := &dto.HealthResponse{Status: "ok", Version: s.version, Database: "ok", PendingIdentities: s.registry.Len()}
	if err := s.catalog.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
	}
	return resp, nil
}

// GetRows returns the cached window of a query, loading the first page on a
// miss and the next one when more is set.
func (s *Server) GetRows(ctx context.Context, req *dto.GetRowsRequest) (*dto.SnapshotResponse, error) {
	key := cache.Key{TableID: req.TableID, Sort: req.Sort, Search: req.Search}
	load := s.pager.Load
	if req.More {
		load = s.pager.LoadMore
	}
	snap, err := load(ctx, key)
	if errors.Is(err, pager.ErrStale) {
		// A mutation patched the query while loading.
		if cur, ok := s.cache.Get(key); ok {
			snap, err = cur, nil
		} else {
			snap, err = s.pager.Load(ctx, key)
		}
	}
	if err != nil {
		return nil, err
	}
	return s.snapshotResponse(key, snap), nil
}

// AddRow appends a row optimistically.
func (s *Server) AddRow(ctx context.Context, req *dto.AddRowRequest) (*dto.MutationResponse, error) {
	values := make(map[string]grid.Value, len(req.Values))
	for colID, raw := range req.Values {
		v, err := toValue(raw)
		if err != nil {
			return nil, dto.InvalidField("values", err.Error())
		}
		values[colID] = v
	}
	return mutationResponse(ctx, s.coord.AddRowWithValues(ctx, req.TableID, values), req.Wait)
}

// DeleteRow deletes a row optimistically.
func (s *Server) DeleteRow(ctx context.Context, req *dto.DeleteRowRequest) (*dto.MutationResponse, error) {
	return mutationResponse(ctx, s.coord.DeleteRow(ctx, req.TableID, req.RowID), req.Wait)
}

// UpdateCell sets a cell optimistically. Row and column may be placeholders.
func (s *Server) UpdateCell(ctx context.Context, req *dto.UpdateCellRequest) (*dto.MutationResponse, error) {
	v, err := toValue(req.Value)
	if err != nil {
		return nil, dto.InvalidField("value", err.Error())
	}
	return mutationResponse(ctx, s.coord.UpdateCell(ctx, req.TableID, req.RowID, req.ColumnID, v), req.Wait)
}

// AddColumn appends a column optimistically.
func (s *Server) AddColumn(ctx context.Context, req *dto.AddColumnRequest) (*dto.MutationResponse, error) {
	return mutationResponse(ctx, s.coord.AddColumn(ctx, req.TableID, req.Name, grid.ColumnType(req.Type)), req.Wait)
}

// RenameColumn renames a column optimistically.
func (s *Server) RenameColumn(ctx context.Context, req *dto.RenameColumnRequest) (*dto.MutationResponse, error) {
	return mutationResponse(ctx, s.coord.RenameColumn(ctx, req.TableID, req.ColumnID, req.Name), req.Wait)
}

// DeleteColumn deletes a column optimistically.
func (s *Server) DeleteColumn(ctx context.Context, req *dto.DeleteColumnRequest) (*dto.MutationResponse, error) {
	return mutationResponse(ctx, s.coord.DeleteColumn(ctx, req.TableID, req.ColumnID), req.Wait)
}

// ColumnPending reports whether a column identifier is a placeholder still
// awaiting its permanent identifier.
func (s *Server) ColumnPending(_ context.Context, req *dto.ColumnRequest) (*dto.ColumnPendingResponse, error) {
	return &dto.ColumnPendingResponse{ColumnID: req.ColumnID, Pending: s.coord.IsColumnPending(req.ColumnID)}, nil
}

// WaitColumn blocks until a column identifier is permanent.
func (s *Server) WaitColumn(ctx context.Context, req *dto.ColumnRequest) (*dto.ColumnIDResponse, error) {
	id, err := s.coord.WaitForColumn(ctx, req.ColumnID)
	if err != nil {
		return nil, err
	}
	return &dto.ColumnIDResponse{ColumnID: req.ColumnID, ID: id}, nil
}

// ListBases lists every base.
func (s *Server) ListBases(ctx context.Context, _ *dto.ListBasesRequest) (*dto.ListBasesResponse, error) {
	bases, err := s.catalog.ListBases(ctx)
	if err != nil {
		return nil, err
	}
	resp := &dto.ListBasesResponse{Bases: make([]dto.BaseResponse, 0, len(bases))}
	for _, b := range bases {
		resp.Bases = append(resp.Bases, baseToResponse(b))
	}
	return resp, nil
}

// CreateBase creates a base and its first table.
func (s *Server) CreateBase(ctx context.Context, req *dto.CreateBaseRequest) (*dto.CreateBaseResponse, error) {
	b, t, err := s.catalog.CreateBase(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &dto.CreateBaseResponse{Base: baseToResponse(b), Table: tableToResponse(&t)}, nil
}

// ListTables lists the tables of a base.
func (s *Server) ListTables(ctx context.Context, req *dto.ListTablesRequest) (*dto.ListTablesResponse, error) {
	tables, err := s.catalog.ListTables(ctx, req.BaseID)
	if err != nil {
		return nil, err
	}
	resp := &dto.ListTablesResponse{Tables: make([]dto.TableResponse, 0, len(tables))}
	for i := range tables {
		resp.Tables = append(resp.Tables, tableToResponse(&tables[i]))
	}
	return resp, nil
}

// CreateTable creates a table.
func (s *Server) CreateTable(ctx context.Context, req *dto.CreateTableRequest) (*dto.TableResponse, error) {
	t, err := s.catalog.CreateTable(ctx, req.BaseID, req.Name)
	if err != nil {
		return nil, err
	}
	resp := tableToResponse(&t)
	return &resp, nil
}

// UpdateTable renames a table.
func (s *Server) UpdateTable(ctx context.Context, req *dto.UpdateTableRequest) (*dto.OkResponse, error) {
	if err := s.catalog.RenameTable(ctx, req.TableID, req.Name); err != nil {
		return nil, err
	}
	return &dto.OkResponse{Ok: true}, nil
}

// DeleteTable deletes a table and drops its cached queries.
func (s *Server) DeleteTable(ctx context.Context, req *dto.DeleteTableRequest) (*dto.OkResponse, error) {
	if err := s.catalog.DeleteTable(ctx, req.TableID); err != nil {
		return nil, err
	}
	s.cache.InvalidateTable(req.TableID)
	return &dto.OkResponse{Ok: true}, nil
}

// ListViews lists the views of a table.
func (s *Server) ListViews(ctx context.Context, req *dto.ListViewsRequest) (*dto.ListViewsResponse, error) {
	views, err := s.catalog.ListViews(ctx, req.TableID)
	if err != nil {
		return nil, err
	}
	resp := &dto.ListViewsResponse{Views: make([]dto.ViewResponse, 0, len(views))}
	for i := range views {
		resp.Views = append(resp.Views, viewToResponse(&views[i]))
	}
	return resp, nil
}

// CreateView creates a view.
func (s *Server) CreateView(ctx context.Context, req *dto.CreateViewRequest) (*dto.ViewResponse, error) {
	v, err := s.catalog.CreateView(ctx, viewFromRequest(req.TableID, "", req.Name, req.Filters, req.Sorts, req.Hidden, req.Search))
	if err != nil {
		return nil, err
	}
	resp := viewToResponse(&v)
	return &resp, nil
}

// UpdateView replaces the configuration of a view.
func (s *Server) UpdateView(ctx context.Context, req *dto.UpdateViewRequest) (*dto.ViewResponse, error) {
	v := viewFromRequest(req.TableID, req.ViewID, req.Name, req.Filters, req.Sorts, req.Hidden, req.Search)
	if err := s.catalog.UpdateView(ctx, v); err != nil {
		return nil, err
	}
	resp := viewToResponse(&v)
	return &resp, nil
}

// DeleteView deletes a view.
func (s *Server) DeleteView(ctx context.Context, req *dto.DeleteViewRequest) (*dto.OkResponse, error) {
	if err := s.catalog.DeleteView(ctx, req.ViewID); err != nil {
		return nil, err
	}
	return &dto.OkResponse{Ok: true}, nil
}

// Journal lists the latest settled mutations.
func (s *Server) Journal(_ context.Context, req *dto.JournalRequest) (*dto.JournalResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 100
	}
	entries := s.journal.Recent(limit)
	resp := &dto.JournalResponse{Entries: make([]dto.JournalEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, dto.JournalEntry(e))
	}
	return resp, nil
}

// mutationResponse reports the state of op. With wait, it blocks until op
// completes and returns its failure as an error.
func mutationResponse(ctx context.Context, op *mutation.Op, wait bool) (*dto.MutationResponse, error) {
	if !wait {
		select {
		case <-op.Done():
			// Rejected before any patch.
		default:
			return &dto.MutationResponse{Kind: string(op.Kind()), State: op.State().String(), TempID: op.TempID()}, nil
		}
	}
	res, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}
	resp := &dto.MutationResponse{
		Kind:     string(op.Kind()),
		State:    op.State().String(),
		TempID:   res.TempID,
		ID:       res.ID,
		Attempts: res.Attempts,
	}
	if res.RollbackErr != nil {
		resp.RollbackError = res.RollbackErr.Error()
	}
	return resp, nil
}
