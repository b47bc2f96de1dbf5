package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/history"
	"github.com/relaybot/relay/internal/watcher"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer(&Config{Host: "127.0.0.1", Port: 0}, NewFeed(), opts...)
	s.started = time.Now()
	return s
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestHandleHealthReportsCacheSize(t *testing.T) {
	store, err := dedup.Open(filepath.Join(t.TempDir(), "processed.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Append("n1"); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, WithDedup(store))

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["cached_keys"] != float64(1) {
		t.Errorf("cached_keys = %v, want 1", body["cached_keys"])
	}
}

func TestHandleStatusWithHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Record(&watcher.DispatchRecord{
		Key: "n1", Repo: "acme/widgets", EventType: "issue", Actor: "alice",
		DispatchedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, WithHistory(store), WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v", body["version"])
	}
	if body["dispatches_24h"] != float64(1) {
		t.Errorf("dispatches_24h = %v", body["dispatches_24h"])
	}
}

func TestHandleHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Record(&watcher.DispatchRecord{
		Key: "n1#42", Repo: "acme/widgets", EventType: "pull_request", Actor: "bob",
		Instruction: "run the linter", DispatchedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, WithHistory(store))

	rec := httptest.NewRecorder()
	s.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	var body struct {
		Dispatches []struct {
			Key   string `json:"key"`
			Actor string `json:"actor"`
		} `json:"dispatches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Dispatches) != 1 || body.Dispatches[0].Key != "n1#42" {
		t.Errorf("dispatches = %+v", body.Dispatches)
	}
}

func TestHandleHistoryUnconfigured(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestActivityWebSocketStreams(t *testing.T) {
	feed := NewFeed()
	s := NewServer(&Config{}, feed)

	// Backlog published before the client connects.
	feed.Publish(&Event{Stage: "denied", EventID: "n0", Repo: "acme/widgets", Actor: "mallory"})

	server := httptest.NewServer(http.HandlerFunc(s.handleActivityWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var replay Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&replay); err != nil {
		t.Fatalf("backlog read failed: %v", err)
	}
	if replay.EventID != "n0" || replay.Stage != "denied" {
		t.Errorf("replayed event = %+v", replay)
	}

	// Live event after connect. Subscription registration races the
	// publish, so give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for feed.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	feed.Publish(&Event{Stage: "dispatched", EventID: "n1", Repo: "acme/widgets", Actor: "alice"})

	var live Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("live read failed: %v", err)
	}
	if live.EventID != "n1" || live.Stage != "dispatched" {
		t.Errorf("live event = %+v", live)
	}
}
