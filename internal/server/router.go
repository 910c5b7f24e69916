// Defines the HTTP routes.

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maruel/gridb/internal/server/dto"
)

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	mux := &http.ServeMux{}
	l := s.limiters

	mux.Handle("GET /api/health", Wrap(s.Health, l))
	mux.Handle("GET /api/schema", Wrap(s.Schema, l))

	// Optimistic mutations and cached reads.
	mux.Handle("GET /api/tables/{tableID}/rows", Wrap(s.GetRows, l))
	mux.Handle("POST /api/tables/{tableID}/rows", Wrap(s.AddRow, l))
	mux.Handle("DELETE /api/tables/{tableID}/rows/{rowID}", Wrap(s.DeleteRow, l))
	mux.Handle("PUT /api/tables/{tableID}/rows/{rowID}/cells/{columnID}", Wrap(s.UpdateCell, l))
	mux.Handle("POST /api/tables/{tableID}/columns", Wrap(s.AddColumn, l))
	mux.Handle("PATCH /api/tables/{tableID}/columns/{columnID}", Wrap(s.RenameColumn, l))
	mux.Handle("DELETE /api/tables/{tableID}/columns/{columnID}", Wrap(s.DeleteColumn, l))
	mux.Handle("GET /api/columns/{columnID}/pending", Wrap(s.ColumnPending, l))
	mux.Handle("GET /api/columns/{columnID}/wait", Wrap(s.WaitColumn, l))
	mux.HandleFunc("GET /api/events", s.Events)
	mux.Handle("GET /api/journal", Wrap(s.Journal, l))

	// Bases, tables and views.
	mux.Handle("GET /api/bases", Wrap(s.ListBases, l))
	mux.Handle("POST /api/bases", Wrap(s.CreateBase, l))
	mux.Handle("GET /api/bases/{baseID}/tables", Wrap(s.ListTables, l))
	mux.Handle("POST /api/bases/{baseID}/tables", Wrap(s.CreateTable, l))
	mux.Handle("PATCH /api/tables/{tableID}", Wrap(s.UpdateTable, l))
	mux.Handle("DELETE /api/tables/{tableID}", Wrap(s.DeleteTable, l))
	mux.Handle("GET /api/tables/{tableID}/views", Wrap(s.ListViews, l))
	mux.Handle("POST /api/tables/{tableID}/views", Wrap(s.CreateView, l))
	mux.Handle("PUT /api/tables/{tableID}/views/{viewID}", Wrap(s.UpdateView, l))
	mux.Handle("DELETE /api/tables/{tableID}/views/{viewID}", Wrap(s.DeleteView, l))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		apiErr := dto.NotFound("route")
		writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Error(), nil)
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
