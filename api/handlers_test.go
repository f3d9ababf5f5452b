package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"prism-tasks/domain"
	"prism-tasks/store"
	"prism-tasks/view"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	e       *echo.Echo
	srv     *Server
	store   *store.Store
	filters *store.FilterState
}

func newFixture(t *testing.T, dedup Deduper) *fixture {
	t.Helper()
	logger, _ := logtest.NewNullLogger()

	var mu sync.Mutex
	n := 0
	ids := domain.IDFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "t" + strconv.Itoa(n)
	})
	clock := domain.ClockFunc(func() time.Time { return testNow })

	st := store.New(store.WithClock(clock), store.WithIDs(ids))
	filters := store.NewFilterState(nil)
	search := store.NewDebouncer(0, filters.SetSearchQuery)
	srv := New(Options{
		Store:   st,
		Filters: filters,
		Views:   view.NewEngine(st, filters, clock),
		Search:  search,
		Deduper: dedup,
		BoardID: "b1",
		Clock:   clock,
		Logger:  logger,
	})
	e := echo.New()
	srv.Register(e)
	return &fixture{e: e, srv: srv, store: st, filters: filters}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCommandsApplyBatch(t *testing.T) {
	f := newFixture(t, nil)
	body := `[
		{"type":"add-task","data":{"title":"Buy milk","category":"Shopping","priority":"low"}},
		{"type":"add-task","data":{"title":"Write report","category":"Work","priority":"high"}},
		{"type":"toggle-task","data":{"id":"t2"}}
	]`
	rec := f.do(t, http.MethodPost, "/api/commands", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[commandsResponse](t, rec)
	if resp.Applied != 3 || resp.Skipped != 0 || resp.Revision != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Tasks) != 2 || resp.Tasks[0].ID != "t1" || resp.Tasks[1].Priority != domain.PriorityHigh {
		t.Fatalf("expected created tasks echoed, got %+v", resp.Tasks)
	}

	board := decode[view.Board](t, f.do(t, http.MethodGet, "/api/tasks", ""))
	if len(board.Tasks) != 2 || !board.Tasks[1].Completed || !board.CanUndo || board.CanRedo {
		t.Fatalf("unexpected board %+v", board)
	}
}

func TestCommandsRejectWholeBatch(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "empty title", body: `[{"type":"add-task","data":{"title":"ok"}},{"type":"add-task","data":{"title":"  "}}]`, field: "title"},
		{name: "bad priority", body: `[{"type":"add-task","data":{"title":"x","priority":"urgent"}}]`, field: "priority"},
		{name: "unknown type", body: `[{"type":"archive-task","data":{"id":"t1"}}]`, field: "type"},
		{name: "missing id", body: `[{"type":"toggle-task","data":{}}]`, field: "id"},
		{name: "missing data", body: `[{"type":"delete-task"}]`, field: "data"},
		{name: "reorder out of range", body: `[{"type":"reorder-tasks","data":{"sourceIndex":0,"destinationIndex":1}}]`, field: "data"},
		{name: "negative reorder", body: `[{"type":"reorder-tasks","data":{"sourceIndex":-1,"destinationIndex":0}}]`, field: "data"},
		{name: "empty updates", body: `[{"type":"update-task","data":{"id":"t1","updates":{}}}]`, field: "updates"},
		{name: "empty update title", body: `[{"type":"update-task","data":{"id":"t1","updates":{"title":""}}}]`, field: "updates.title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodPost, "/api/commands", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[errorResponse](t, rec)
			if resp.Field != tt.field {
				t.Fatalf("expected field %q, got %+v", tt.field, resp)
			}
			if f.store.Revision() != 0 || f.store.Len() != 0 {
				t.Fatalf("nothing should be applied on a rejected batch")
			}
		})
	}
}

func TestCommandsRejectUnknownFields(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/commands", `[{"type":"undo","extra":true}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCommandsReorderWithinBatch(t *testing.T) {
	f := newFixture(t, nil)
	body := `[
		{"type":"add-task","data":{"title":"A"}},
		{"type":"add-task","data":{"title":"B"}},
		{"type":"add-task","data":{"title":"C"}},
		{"type":"reorder-tasks","data":{"sourceIndex":0,"destinationIndex":2}}
	]`
	if rec := f.do(t, http.MethodPost, "/api/commands", body); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := f.store.Tasks()
	if got[0].Title != "B" || got[1].Title != "C" || got[2].Title != "A" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestCommandsUndoRedo(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/commands", `[{"type":"add-task","data":{"title":"A"}}]`)
	f.do(t, http.MethodPost, "/api/commands", `[{"type":"undo"}]`)
	if f.store.Len() != 0 || !f.store.CanRedo() {
		t.Fatalf("undo not applied")
	}
	hist := decode[historyResponse](t, f.do(t, http.MethodGet, "/api/history", ""))
	if hist.CanUndo || !hist.CanRedo || hist.Future != 1 {
		t.Fatalf("unexpected history %+v", hist)
	}
	f.do(t, http.MethodPost, "/api/commands", `[{"type":"redo"}]`)
	if f.store.Len() != 1 {
		t.Fatalf("redo not applied")
	}
}

func TestCommandsIdempotencyKeys(t *testing.T) {
	_, client := newRedis(t)
	f := newFixture(t, NewRedisDeduper(client, time.Minute))
	body := `[{"idempotencyKey":"k1","type":"add-task","data":{"title":"A"}}]`

	first := decode[commandsResponse](t, f.do(t, http.MethodPost, "/api/commands", body))
	second := decode[commandsResponse](t, f.do(t, http.MethodPost, "/api/commands", body))
	if first.Applied != 1 || second.Applied != 0 || second.Skipped != 1 {
		t.Fatalf("expected replay to be skipped: %+v then %+v", first, second)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected a single task, got %d", f.store.Len())
	}
}

func TestFiltersEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/commands", `[
		{"type":"add-task","data":{"title":"Buy milk","category":"Shopping"}},
		{"type":"add-task","data":{"title":"Write report","category":"Work"}},
		{"type":"toggle-task","data":{"id":"t2"}}
	]`)

	rec := f.do(t, http.MethodPut, "/api/filters", `{"status":"active"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	board := decode[view.Board](t, f.do(t, http.MethodGet, "/api/tasks", ""))
	if len(board.Tasks) != 1 || board.Tasks[0].Title != "Buy milk" || board.Filters.Status != domain.StatusActive {
		t.Fatalf("unexpected filtered board %+v", board)
	}

	if rec := f.do(t, http.MethodPut, "/api/filters", `{"status":"archived"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/filters/search", `{"query":"REPORT"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an immediate search, got %d", rec.Code)
	}
	if got := decode[searchResponse](t, rec); got.Pending != "" || got.Filters.SearchQuery != "REPORT" {
		t.Fatalf("unexpected search response %+v", got)
	}
	if got := f.filters.Get().SearchQuery; got != "REPORT" {
		t.Fatalf("search not committed: %q", got)
	}

	cleared := decode[domain.Filters](t, f.do(t, http.MethodPost, "/api/filters/clear", ""))
	if cleared != domain.DefaultFilters() {
		t.Fatalf("expected defaults after clear, got %+v", cleared)
	}
	if f.store.Revision() != 3 {
		t.Fatalf("filters must not touch task history, revision %d", f.store.Revision())
	}
}

func TestStatsAndCategories(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/commands", `[
		{"type":"add-task","data":{"title":"Buy milk","category":"Shopping"}},
		{"type":"add-task","data":{"title":"Write report","category":"Work","priority":"high"}},
		{"type":"toggle-task","data":{"id":"t2"}}
	]`)

	stats := decode[view.Stats](t, f.do(t, http.MethodGet, "/api/stats", ""))
	if stats.Total != 2 || stats.Completed != 1 || stats.CompletionRate != 50 || stats.ByPriority.High != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.TasksByDate) != 7 || stats.TasksByDate[6].Date != "2024-06-10" || stats.TasksByDate[6].Count != 2 {
		t.Fatalf("unexpected date buckets %+v", stats.TasksByDate)
	}

	cats := decode[map[string][]string](t, f.do(t, http.MethodGet, "/api/categories", ""))
	if got := cats["categories"]; len(got) != 2 || got[0] != "Shopping" || got[1] != "Work" {
		t.Fatalf("unexpected categories %v", got)
	}
}

func TestImportAndExport(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/commands", `[{"type":"add-task","data":{"title":"Old"}}]`)

	blob := `[{"id":"a","title":"Imported","completed":true,"createdAt":"2024-06-01T10:00:00Z"}]`
	rec := f.do(t, http.MethodPost, "/api/import", blob)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[importResponse](t, rec); resp.Imported != 1 {
		t.Fatalf("unexpected import response %+v", resp)
	}
	if got := f.store.Tasks(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("import should replace the collection: %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="tasks-export-2024-06-10.json"` {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	if !strings.Contains(rec.Body.String(), `"title": "Imported"`) {
		t.Fatalf("unexpected export body %s", rec.Body.String())
	}

	f.do(t, http.MethodPost, "/api/commands", `[{"type":"undo"}]`)
	if got := f.store.Tasks(); len(got) != 1 || got[0].Title != "Old" {
		t.Fatalf("import should undo in one step: %+v", got)
	}
}

func TestImportRejectsNonArray(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/import", `{"tasks":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decode[errorResponse](t, rec); !strings.Contains(resp.Error, "expected an array of tasks") {
		t.Fatalf("unexpected error %+v", resp)
	}
	if f.store.Revision() != 0 {
		t.Fatalf("rejected import must not mutate the store")
	}
}

func TestImportAcceptsGzip(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`[{"id":"a","title":"Zipped","completed":false,"createdAt":"2024-06-01T10:00:00Z"}]`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.store.Tasks(); len(got) != 1 || got[0].Title != "Zipped" {
		t.Fatalf("unexpected tasks %+v", got)
	}
}

func TestShortcutsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/commands", `[{"type":"add-task","data":{"title":"A"}}]`)

	rec := f.do(t, http.MethodPost, "/api/shortcuts", `{"key":"z","ctrlKey":true}`)
	resp := decode[shortcutResponse](t, rec)
	if resp.Action != "undo" || !resp.Applied || !resp.PreventDefault || f.store.Len() != 0 {
		t.Fatalf("unexpected undo shortcut result %+v", resp)
	}

	resp = decode[shortcutResponse](t, f.do(t, http.MethodPost, "/api/shortcuts", `{"key":"z","ctrlKey":true}`))
	if resp.Applied {
		t.Fatalf("undo with empty history should not apply: %+v", resp)
	}

	resp = decode[shortcutResponse](t, f.do(t, http.MethodPost, "/api/shortcuts", `{"key":"/","target":"INPUT"}`))
	if resp.Action != "" || resp.PreventDefault {
		t.Fatalf("slash inside input must be ignored: %+v", resp)
	}

	resp = decode[shortcutResponse](t, f.do(t, http.MethodPost, "/api/shortcuts", `{"key":"n","metaKey":true}`))
	if resp.Action != "new-task" || resp.Applied {
		t.Fatalf("unexpected new-task result %+v", resp)
	}
}

func TestSearchWaitsForDebounce(t *testing.T) {
	f := newFixture(t, nil)
	debounced := store.NewDebouncer(time.Hour, f.filters.SetSearchQuery)
	t.Cleanup(debounced.Stop)
	f.srv.search = debounced

	rec := f.do(t, http.MethodPost, "/api/filters/search", `{"query":"milk"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while debouncing, got %d", rec.Code)
	}
	resp := decode[searchResponse](t, rec)
	if resp.Pending != "milk" || resp.Filters.SearchQuery != "" {
		t.Fatalf("query should be pending, not applied: %+v", resp)
	}

	debounced.Flush()
	if got := f.filters.Get().SearchQuery; got != "milk" {
		t.Fatalf("flush should apply the pending query, got %q", got)
	}
}

func TestValidationFailedPassesOtherErrors(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	c := f.e.NewContext(httptest.NewRequest(http.MethodPost, "/api/import", nil), rec)

	boom := errors.New("storage offline")
	if err := f.srv.validationFailed(c, boom); err != boom {
		t.Fatalf("non-validation errors should be returned as is, got %v", err)
	}

	if err := f.srv.validationFailed(c, domain.Invalid(2, "title", "required")); err != nil {
		t.Fatalf("validation errors should be answered, got %v", err)
	}
	resp := decode[errorResponse](t, rec)
	if rec.Code != http.StatusBadRequest || resp.Field != "title" || resp.Index == nil || *resp.Index != 2 {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}
