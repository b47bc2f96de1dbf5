package watcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/github"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []*DispatchRecord
}

func (f *fakeRecorder) Record(rec *DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type dispatchCapture struct {
	mu         sync.Mutex
	dispatches []map[string]string
	acks       []string
	failWith   int
}

func (c *dispatchCapture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/dispatches"):
			if c.failWith != 0 {
				w.WriteHeader(c.failWith)
				return
			}
			var body struct {
				Ref    string            `json:"ref"`
				Inputs map[string]string `json:"inputs"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad dispatch body: %v", err)
			}
			c.dispatches = append(c.dispatches, body.Inputs)
			w.WriteHeader(http.StatusNoContent)
		case strings.HasPrefix(r.URL.Path, "/notifications/threads/"):
			c.acks = append(c.acks, strings.TrimPrefix(r.URL.Path, "/notifications/threads/"))
			w.WriteHeader(http.StatusResetContent)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestDispatcher(t *testing.T, capture *dispatchCapture, recorder Recorder) (*Dispatcher, *dedup.Store) {
	t.Helper()
	server := httptest.NewServer(capture.handler(t))
	t.Cleanup(server.Close)

	store, err := dedup.Open(filepath.Join(t.TempDir(), "processed.log"))
	if err != nil {
		t.Fatalf("failed to open dedup store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := github.NewClientWithBaseURL("bot", "user", server.URL)
	return NewDispatcher(client, store, recorder, "acme/control", "bot-runner.yml", "main", nil), store
}

func TestDispatchHappyPath(t *testing.T) {
	capture := &dispatchCapture{}
	recorder := &fakeRecorder{}
	d, store := newTestDispatcher(t, capture, recorder)

	tc := &TaskContext{Repo: "acme/widgets", EventType: "issue", EventID: "n1", TriggerUser: "alice"}
	trigger := &Trigger{Actor: "alice", Instruction: "fix the flaky test"}

	if err := d.Dispatch(context.Background(), tc, trigger); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(capture.dispatches) != 1 {
		t.Fatalf("got %d dispatches, want 1", len(capture.dispatches))
	}
	if got := capture.dispatches[0]["task"]; got != "fix the flaky test" {
		t.Errorf("task input = %q", got)
	}
	var payload TaskContext
	if err := json.Unmarshal([]byte(capture.dispatches[0]["context"]), &payload); err != nil {
		t.Fatalf("context input is not valid JSON: %v", err)
	}
	if payload.Repo != "acme/widgets" || payload.EventID != "n1" {
		t.Errorf("payload = %+v", payload)
	}

	if len(capture.acks) != 1 || capture.acks[0] != "n1" {
		t.Errorf("acks = %v, want [n1]", capture.acks)
	}
	if !store.Contains("n1") {
		t.Error("dedup key not recorded after success")
	}
	if len(recorder.records) != 1 || recorder.records[0].Key != "n1" {
		t.Errorf("records = %+v", recorder.records)
	}
}

func TestDispatchSkipsRecordedKey(t *testing.T) {
	capture := &dispatchCapture{}
	d, store := newTestDispatcher(t, capture, nil)

	if err := store.Append("n1"); err != nil {
		t.Fatal(err)
	}

	tc := &TaskContext{EventID: "n1"}
	if err := d.Dispatch(context.Background(), tc, &Trigger{Actor: "alice", Instruction: "again"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(capture.dispatches) != 0 {
		t.Errorf("got %d dispatches, want 0", len(capture.dispatches))
	}
	if len(capture.acks) != 0 {
		t.Errorf("skip must not acknowledge, acks = %v", capture.acks)
	}
}

func TestDispatchFailureLeavesNoTrace(t *testing.T) {
	capture := &dispatchCapture{failWith: http.StatusUnprocessableEntity}
	recorder := &fakeRecorder{}
	d, store := newTestDispatcher(t, capture, recorder)

	tc := &TaskContext{EventID: "n1"}
	if err := d.Dispatch(context.Background(), tc, &Trigger{Actor: "alice", Instruction: "do it"}); err == nil {
		t.Fatal("expected dispatch error")
	}

	if store.Contains("n1") {
		t.Error("failed dispatch must not record its key")
	}
	if len(capture.acks) != 0 {
		t.Errorf("failed dispatch must not acknowledge, acks = %v", capture.acks)
	}
	if len(recorder.records) != 0 {
		t.Errorf("failed dispatch must not hit history, records = %+v", recorder.records)
	}
}

func TestDispatchTimelineScopedKey(t *testing.T) {
	capture := &dispatchCapture{}
	d, store := newTestDispatcher(t, capture, nil)

	tc := &TaskContext{EventID: "n1"}
	trigger := &Trigger{Actor: "alice", Instruction: "do A", Item: &DiscussionItem{ID: "42"}}

	if err := d.Dispatch(context.Background(), tc, trigger); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !store.Contains("n1#42") {
		t.Error("scoped key not recorded")
	}
	if store.Contains("n1") {
		t.Error("event-level key must not be recorded for a timeline trigger")
	}

	// A second instruction on the same event still goes through.
	other := &Trigger{Actor: "bob", Instruction: "do B", Item: &DiscussionItem{ID: "43"}}
	if err := d.Dispatch(context.Background(), tc, other); err != nil {
		t.Fatalf("second Dispatch failed: %v", err)
	}
	if len(capture.dispatches) != 2 {
		t.Errorf("got %d dispatches, want 2", len(capture.dispatches))
	}
}

func TestDispatchCapsInstruction(t *testing.T) {
	capture := &dispatchCapture{}
	d, _ := newTestDispatcher(t, capture, nil)

	long := strings.Repeat("x", 5000)
	tc := &TaskContext{EventID: "n1"}
	if err := d.Dispatch(context.Background(), tc, &Trigger{Actor: "alice", Instruction: long}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := len(capture.dispatches[0]["task"]); got != maxInstructionChars {
		t.Errorf("task length = %d, want %d", got, maxInstructionChars)
	}
}

func TestSerializeTruncationCascade(t *testing.T) {
	capture := &dispatchCapture{}
	d, _ := newTestDispatcher(t, capture, nil)

	t.Run("fits untouched", func(t *testing.T) {
		tc := &TaskContext{EventID: "n1", Diff: strings.Repeat("d", 1000), Timeline: strings.Repeat("t", 1000)}
		payload, err := d.serialize(tc)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(payload, tc.Diff) {
			t.Error("diff should survive when under the ceiling")
		}
	})

	t.Run("diff cut first", func(t *testing.T) {
		tc := &TaskContext{
			EventID:  "n1",
			Diff:     strings.Repeat("d", 59000),
			Timeline: strings.Repeat("t", 3000),
		}
		payload, err := d.serialize(tc)
		if err != nil {
			t.Fatal(err)
		}
		if len(payload) > maxPayloadBytes {
			t.Errorf("payload = %d bytes, over the ceiling", len(payload))
		}
		var got TaskContext
		if err := json.Unmarshal([]byte(payload), &got); err != nil {
			t.Fatal(err)
		}
		if len(got.Diff) != truncatedFieldChars+len("...") {
			t.Errorf("diff length = %d, want truncated", len(got.Diff))
		}
		if len(got.Timeline) != 3000 {
			t.Errorf("timeline length = %d, timeline must survive when cutting the diff suffices", len(got.Timeline))
		}
	})

	t.Run("timeline cut second", func(t *testing.T) {
		tc := &TaskContext{
			EventID:  "n1",
			Diff:     strings.Repeat("d", 40000),
			Timeline: strings.Repeat("t", 40000),
		}
		payload, err := d.serialize(tc)
		if err != nil {
			t.Fatal(err)
		}
		var got TaskContext
		if err := json.Unmarshal([]byte(payload), &got); err != nil {
			t.Fatal(err)
		}
		if len(got.Diff) != truncatedFieldChars+len("...") {
			t.Errorf("diff length = %d, want truncated", len(got.Diff))
		}
		if len(got.Timeline) != truncatedFieldChars+len("...") {
			t.Errorf("timeline length = %d, want truncated", len(got.Timeline))
		}
	})
}
