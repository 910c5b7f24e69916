package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maruel/gridb/internal/cache"
	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/journal"
	"github.com/maruel/gridb/internal/mutation"
	"github.com/maruel/gridb/internal/pager"
	"github.com/maruel/gridb/internal/pending"
	"github.com/maruel/gridb/internal/retry"
	"github.com/maruel/gridb/internal/server/dto"
	"github.com/maruel/gridb/internal/server/ratelimit"
	"github.com/maruel/gridb/internal/store"
	"github.com/maruel/gridb/internal/store/sqlstore"
)

type testEnv struct {
	ts    *httptest.Server
	store *sqlstore.Store
	coord *mutation.Coordinator
	table grid.Table
}

func newTestEnv(t *testing.T, limiters *ratelimit.Limiters) *testEnv {
	t.Helper()
	st, err := sqlstore.Open(t.Context(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "gridb.sqlite"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	_, tbl, err := st.CreateBase(t.Context(), "Inventory")
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New()
	reg := pending.New()
	pg := pager.New(st, c, 0, nil)
	promReg := prometheus.NewRegistry()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	p := retry.Default()
	p.BaseDelay = time.Millisecond
	coord, err := mutation.New(mutation.Config{
		Store:    st,
		Cache:    c,
		Registry: reg,
		Pager:    pg,
		Policy:   p,
		Metrics:  mutation.NewMetrics(promReg, reg),
		Journal:  j,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(&Config{
		Coordinator: coord,
		Cache:       c,
		Pager:       pg,
		Registry:    reg,
		Catalog:     st,
		Gatherer:    promReg,
		Limiters:    limiters,
		Journal:     j,
		Version:     "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		coord.Wait()
	})
	return &testEnv{ts: ts, store: st, coord: coord, table: tbl}
}

// call sends a JSON request and decodes the response into out. It returns
// the status code.
func (e *testEnv) call(t *testing.T, method, path string, in, out any) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) wantError(t *testing.T, method, path string, in any, status int, code dto.ErrorCode) {
	t.Helper()
	var resp dto.ErrorResponse
	if got := e.call(t, method, path, in, &resp); got != status || resp.Error.Code != code {
		t.Errorf("%s %s = %d %s, want %d %s (%s)", method, path, got, resp.Error.Code, status, code, resp.Error.Message)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	var resp dto.HealthResponse
	if code := e.call(t, "GET", "/api/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resp.Status != "ok" || resp.Version != "test" || resp.Database != "ok" {
		t.Errorf("got %+v", resp)
	}
}

func TestOptimisticFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	rowsPath := "/api/tables/" + e.table.ID + "/rows"

	var snap dto.SnapshotResponse
	if code := e.call(t, "GET", rowsPath, nil, &snap); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(snap.Columns) != 1 || !snap.Columns[0].IsPrimary || len(snap.Rows) != 0 {
		t.Fatalf("got %+v", snap)
	}

	var col dto.MutationResponse
	e.call(t, "POST", "/api/tables/"+e.table.ID+"/columns", dto.AddColumnRequest{Name: "Qty", Type: dto.ColumnTypeNumber}, &col)
	if !grid.IsTempID(col.TempID) || col.Kind != "column_create" {
		t.Fatalf("got %+v", col)
	}
	var row dto.MutationResponse
	e.call(t, "POST", rowsPath, dto.AddRowRequest{Values: map[string]any{snap.Columns[0].ID: "apple"}}, &row)
	if !grid.IsTempID(row.TempID) {
		t.Fatalf("got %+v", row)
	}

	// Both identifiers are placeholders; the write waits for them.
	var cell dto.MutationResponse
	path := rowsPath + "/" + row.TempID + "/cells/" + col.TempID
	if code := e.call(t, "PUT", path, dto.UpdateCellRequest{Value: "12", Wait: true}, &cell); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if cell.State != "committed" || grid.IsTempID(cell.ID) {
		t.Errorf("got %+v", cell)
	}

	var ids dto.ColumnIDResponse
	e.call(t, "GET", "/api/columns/"+col.TempID+"/wait", nil, &ids)
	if ids.ID == "" || grid.IsTempID(ids.ID) {
		t.Fatalf("got %+v", ids)
	}
	var pend dto.ColumnPendingResponse
	e.call(t, "GET", "/api/columns/"+col.TempID+"/pending", nil, &pend)
	if pend.Pending {
		t.Error("column still pending")
	}

	res, err := e.store.GetPage(t.Context(), store.PageQuery{TableID: e.table.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0].ID != cell.ID {
		t.Fatalf("rows = %+v", res.Rows)
	}
	c, _ := res.Rows[0].Cell(ids.ID)
	if !c.Value.Equal(grid.NumberValue(12)) {
		t.Errorf("cell = %+v", c.Value)
	}
}

func TestErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	tbl := "/api/tables/" + e.table.ID
	primary := e.table.Columns[0].ID
	e.wantError(t, "DELETE", tbl+"/columns/"+primary+"?wait=1", nil, http.StatusBadRequest, dto.ErrorCodePrimaryColumn)
	e.wantError(t, "POST", tbl+"/columns", dto.AddColumnRequest{Type: dto.ColumnTypeText}, http.StatusBadRequest, dto.ErrorCodeMissingField)
	e.wantError(t, "POST", tbl+"/columns", map[string]any{"name": "X", "type": "text", "bogus": 1}, http.StatusBadRequest, dto.ErrorCodeValidationFailed)
	e.wantError(t, "PUT", tbl+"/rows/nope/cells/"+primary, dto.UpdateCellRequest{Value: "x", Wait: true}, http.StatusNotFound, dto.ErrorCodeNotFound)
	e.wantError(t, "GET", "/api/columns/tmp-unknown/wait", nil, http.StatusNotFound, dto.ErrorCodeNotFound)
	e.wantError(t, "GET", "/api/nope", nil, http.StatusNotFound, dto.ErrorCodeNotFound)
	e.wantError(t, "GET", tbl+"/rows?sort=:up", nil, http.StatusBadRequest, dto.ErrorCodeValidationFailed)

	var views dto.ListViewsResponse
	e.call(t, "GET", tbl+"/views", nil, &views)
	if len(views.Views) != 1 {
		t.Fatalf("views = %+v", views)
	}
	e.wantError(t, "DELETE", tbl+"/views/"+views.Views[0].ID, nil, http.StatusConflict, dto.ErrorCodeConflict)
	e.wantError(t, "DELETE", tbl, nil, http.StatusConflict, dto.ErrorCodeConflict)
}

func TestBasesAndViews(t *testing.T) {
	e := newTestEnv(t, nil)
	var created dto.CreateBaseResponse
	if code := e.call(t, "POST", "/api/bases", dto.CreateBaseRequest{Name: "CRM"}, &created); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if created.Table.Name != "Table 1" || len(created.Table.Columns) != 1 {
		t.Errorf("got %+v", created)
	}
	var tbl dto.TableResponse
	e.call(t, "POST", "/api/bases/"+created.Base.ID+"/tables", dto.CreateTableRequest{Name: "Leads"}, &tbl)
	var tables dto.ListTablesResponse
	e.call(t, "GET", "/api/bases/"+created.Base.ID+"/tables", nil, &tables)
	if len(tables.Tables) != 2 {
		t.Fatalf("tables = %+v", tables)
	}
	var ok dto.OkResponse
	if e.call(t, "PATCH", "/api/tables/"+tbl.ID, dto.UpdateTableRequest{Name: "Prospects"}, &ok); !ok.Ok {
		t.Error("rename failed")
	}

	var v dto.ViewResponse
	req := dto.CreateViewRequest{Name: "Sorted", Sorts: []dto.Sort{{ColumnID: tbl.Columns[0].ID, Direction: "desc"}}}
	if code := e.call(t, "POST", "/api/tables/"+tbl.ID+"/views", req, &v); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if v.ID == "" || len(v.Sorts) != 1 {
		t.Errorf("got %+v", v)
	}
	e.wantError(t, "POST", "/api/tables/"+tbl.ID+"/views",
		dto.CreateViewRequest{Name: "Bad", Hidden: []string{tbl.Columns[0].ID}}, http.StatusBadRequest, dto.ErrorCodePrimaryColumn)
	if e.call(t, "DELETE", "/api/tables/"+tbl.ID+"/views/"+v.ID, nil, &ok); !ok.Ok {
		t.Error("delete view failed")
	}
	if e.call(t, "DELETE", "/api/tables/"+tbl.ID, nil, &ok); !ok.Ok {
		t.Error("delete table failed")
	}
}

func TestRateLimit(t *testing.T) {
	l := ratelimit.New(1, 0)
	defer l.Close()
	e := newTestEnv(t, l)
	path := "/api/tables/" + e.table.ID + "/rows"
	if code := e.call(t, "POST", path, nil, nil); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	e.wantError(t, "POST", path, nil, http.StatusTooManyRequests, dto.ErrorCodeRateLimitExceeded)
	if code := e.call(t, "GET", path, nil, nil); code != http.StatusOK {
		t.Errorf("reads must not be limited, got %d", code)
	}
}

func TestEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), "ws"+strings.TrimPrefix(e.ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// Ensure the subscription is live before mutating.
	time.Sleep(50 * time.Millisecond)

	var row dto.MutationResponse
	e.call(t, "POST", "/api/tables/"+e.table.ID+"/rows", dto.AddRowRequest{Wait: true}, &row)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []pending.Event
	for len(got) < 2 {
		var ev pending.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		got = append(got, ev)
	}
	if got[0].Type != pending.EventRegistered || got[0].TempID != row.TempID {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != pending.EventResolved || got[1].RealID != row.ID {
		t.Errorf("second event = %+v", got[1])
	}
}

// Events emitted concurrently past a full buffer disconnect the client once.
func TestSubscriberOverflow(t *testing.T) {
	reg := pending.New()
	sub := newSubscriber(2)
	defer reg.Subscribe(sub.send)()
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Register(fmt.Sprintf("tmp-%d", i))
		}()
	}
	wg.Wait()
	select {
	case <-sub.overflow:
	default:
		t.Fatal("overflow not signaled")
	}
	if got := len(sub.events); got != 2 {
		t.Errorf("buffered = %d", got)
	}
	sub.send(pending.Event{Type: pending.EventDiscarded, TempID: "tmp-x"})
}

func TestSchemaAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)
	var schemas map[string]json.RawMessage
	e.call(t, "GET", "/api/schema", nil, &schemas)
	if !bytes.Contains(schemas["AddColumnRequest"], []byte(`"name"`)) {
		t.Errorf("schema = %s", schemas["AddColumnRequest"])
	}

	e.call(t, "POST", "/api/tables/"+e.table.ID+"/rows", dto.AddRowRequest{Wait: true}, nil)
	resp, err := e.ts.Client().Get(e.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte(`gridb_mutations_total{kind="row_create",outcome="committed"} 1`)) {
		t.Errorf("metrics:\n%s", b)
	}
}

func TestJournal(t *testing.T) {
	e := newTestEnv(t, nil)
	var added dto.MutationResponse
	e.call(t, "POST", "/api/tables/"+e.table.ID+"/rows", dto.AddRowRequest{Wait: true}, &added)
	var got dto.JournalResponse
	if code := e.call(t, "GET", "/api/journal?limit=5", nil, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("entries = %+v", got.Entries)
	}
	if en := got.Entries[0]; en.Kind != "row_create" || en.State != "committed" || en.ID != added.ID || en.TempID != added.TempID {
		t.Errorf("entry = %+v, added = %+v", en, added)
	}
	e.wantError(t, "GET", "/api/journal?limit=-1", nil, http.StatusBadRequest, dto.ErrorCodeInvalidFormat)
}
