package httpapi

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/you/gnasty-mod/internal/action"
	"github.com/you/gnasty-mod/internal/auditstore"
	"github.com/you/gnasty-mod/internal/core"
)

type fakeStore struct {
	events []auditstore.FilterEvent
}

func (f *fakeStore) Count() (int64, error) { return int64(len(f.events)), nil }

func (f *fakeStore) ListEvents(_ context.Context, limit int) ([]auditstore.FilterEvent, error) {
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

type fakePending struct {
	snap []action.PendingInfo
}

func (f *fakePending) Snapshot() []action.PendingInfo { return f.snap }

func newTestServer(store Store, pending Pending) *Server {
	return New(store, pending, Options{Addr: ":0", RateRPS: 100, RateBurst: 100})
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	return rec
}

func TestServerHealthz(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil)
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerCount(t *testing.T) {
	srv := newTestServer(&fakeStore{events: make([]auditstore.FilterEvent, 3)}, nil)
	rec := get(t, srv, "/count")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"] != 3 {
		t.Fatalf("count = %d, want 3", body["count"])
	}
}

func TestServerDecisionsFiltered(t *testing.T) {
	store := &fakeStore{events: []auditstore.FilterEvent{
		{ID: 3, Username: "spambot", Status: "BANNED"},
		{ID: 2, Username: "angel", Status: "NOOP"},
		{ID: 1, Username: "spambot", Status: "TIMED"},
	}}
	srv := newTestServer(store, nil)

	rec := get(t, srv, "/decisions?status=BANNED")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var rows []auditstore.FilterEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 3 {
		t.Fatalf("rows = %+v, want only the banned row", rows)
	}
}

func TestServerDecisionsRejectsBadFilter(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil)
	rec := get(t, srv, "/decisions?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServerPending(t *testing.T) {
	deadline := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pending := &fakePending{snap: []action.PendingInfo{{
		Handle:   "h1",
		Subject:  core.Subject{ID: "u1", Name: "spambot"},
		Channel:  "gnastyp",
		Deadline: deadline,
	}}}
	srv := newTestServer(&fakeStore{}, pending)

	rec := get(t, srv, "/moderation/pending")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rows []pendingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Subject != "spambot" || !rows[0].Deadline.Equal(deadline) {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestServerPendingEmptyIsArray(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil)
	rec := get(t, srv, "/moderation/pending")
	if got := rec.Body.String(); got != "[]\n" {
		t.Fatalf("body = %q, want an empty JSON array", got)
	}
}

func TestServerInfo(t *testing.T) {
	pending := &fakePending{snap: []action.PendingInfo{{Handle: "h1"}}}
	srv := New(&fakeStore{}, pending, Options{
		Addr:        ":0",
		RateRPS:     100,
		RateBurst:   100,
		Build:       BuildInfo{Version: "1.2.3", Revision: "abc1234"},
		Channel:     "gnastyp",
		RulesetName: func() string { return "main-filter" },
	})

	rec := get(t, srv, "/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "1.2.3" || body["channel"] != "gnastyp" || body["ruleset"] != "main-filter" {
		t.Fatalf("info = %v", body)
	}
	if body["pending_actions"] != float64(1) {
		t.Fatalf("pending_actions = %v, want 1", body["pending_actions"])
	}
}

func TestServerGzip(t *testing.T) {
	srv := newTestServer(&fakeStore{events: make([]auditstore.FilterEvent, 2)}, nil)
	req := httptest.NewRequest(http.MethodGet, "/count", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var body map[string]int64
	if err := json.NewDecoder(zr).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"] != 2 {
		t.Fatalf("count = %d, want 2", body["count"])
	}
}

func TestServerRateLimit(t *testing.T) {
	srv := New(&fakeStore{}, nil, Options{Addr: ":0", RateRPS: 1, RateBurst: 2})
	var limited bool
	for i := 0; i < 5; i++ {
		rec := get(t, srv, "/healthz")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}

func TestServerCORSRejectsUnknownOrigin(t *testing.T) {
	srv := New(&fakeStore{}, nil, Options{Addr: ":0", RateRPS: 100, RateBurst: 100, CORSOrigins: []string{"https://dash.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
