package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"prism-tasks/domain"
)

type lockedRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
	code   int
}

func newLockedRecorder() *lockedRecorder {
	return &lockedRecorder{header: make(http.Header)}
}

func (r *lockedRecorder) Header() http.Header { return r.header }

func (r *lockedRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *lockedRecorder) WriteHeader(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *lockedRecorder) Flush() {}

func (r *lockedRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpdateBrokerNotify(t *testing.T) {
	b := newUpdateBroker()
	ch := b.subscribe()
	b.notify()
	b.notify()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
	b.unsubscribe(ch)
	b.notify()
	select {
	case <-ch:
		t.Fatal("received notification after unsubscribe")
	default:
	}
}

func TestStreamSendsBoardOnChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := newLockedRecorder()

	done := make(chan struct{})
	go func() {
		f.e.ServeHTTP(rec, req)
		close(done)
	}()

	waitFor(t, "subscriber", func() bool { return f.srv.broker.count() == 1 })
	waitFor(t, "initial event", func() bool { return strings.Count(rec.String(), sseDataPrefix) == 1 })
	if !strings.Contains(rec.String(), `"revision":0`) {
		t.Fatalf("unexpected initial event %q", rec.String())
	}

	f.store.AddTask(domain.NewTask{Title: "Streamed"})
	waitFor(t, "change event", func() bool { return strings.Count(rec.String(), sseDataPrefix) == 2 })
	if !strings.Contains(rec.String(), `"title":"Streamed"`) {
		t.Fatalf("change event missing task: %q", rec.String())
	}

	f.filters.SetStatusFilter(domain.StatusCompleted)
	waitFor(t, "filter event", func() bool { return strings.Count(rec.String(), sseDataPrefix) == 3 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if f.srv.broker.count() != 0 {
		t.Fatalf("subscriber not removed")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
