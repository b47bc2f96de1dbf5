package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/github"
)

const (
	// maxInstructionChars bounds the task input independently of the
	// context payload.
	maxInstructionChars = 2000
	// maxPayloadBytes is the hard ceiling for the serialized context,
	// matching the workflow_dispatch input size limit.
	maxPayloadBytes = 60000
	// truncatedFieldChars is what an oversized field is cut down to during
	// the truncation cascade.
	truncatedFieldChars = 500
)

// DispatchRecord is what the dispatcher hands to the optional history sink
// after a confirmed dispatch.
type DispatchRecord struct {
	Key          string
	Repo         string
	EventType    string
	Actor        string
	Instruction  string
	DispatchedAt time.Time
}

// Recorder persists dispatch records. Implementations must tolerate being
// called from concurrent handlers.
type Recorder interface {
	Record(rec *DispatchRecord) error
}

// Dispatcher sends finalized task contexts to the downstream workflow
// trigger, at most once per instruction key. The source acknowledgment and
// the dedup write happen only after the transport confirms success.
type Dispatcher struct {
	client      *github.Client
	store       *dedup.Store
	recorder    Recorder
	controlRepo string
	workflow    string
	ref         string
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher targeting the control repository's
// workflow. recorder may be nil.
func NewDispatcher(client *github.Client, store *dedup.Store, recorder Recorder, controlRepo, workflow, ref string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:      client,
		store:       store,
		recorder:    recorder,
		controlRepo: controlRepo,
		workflow:    workflow,
		ref:         ref,
		logger:      logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch serializes the context, bounds it, and fires the workflow
// trigger. A key already present in the dedup store is skipped without any
// side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, tc *TaskContext, trigger *Trigger) error {
	key := trigger.DedupKey(tc.EventID)
	if d.store.Contains(key) {
		d.logger.Debug("instruction already dispatched, skipping", slog.String("key", key))
		return nil
	}

	payload, err := d.serialize(tc)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	inputs := map[string]string{
		"task":    truncate(trigger.Instruction, maxInstructionChars),
		"context": payload,
	}

	if err := d.client.DispatchWorkflow(ctx, d.controlRepo, d.workflow, d.ref, inputs); err != nil {
		d.logger.Error("workflow dispatch failed",
			slog.String("key", key),
			slog.String("repo", tc.Repo),
			slog.Any("error", err),
		)
		return err
	}

	// Confirmed success: acknowledge the source event and record the key.
	// The ordering is what makes redelivered events safe.
	if err := d.client.MarkThreadRead(ctx, tc.EventID); err != nil {
		d.logger.Warn("failed to acknowledge thread",
			slog.String("event_id", tc.EventID),
			slog.Any("error", err),
		)
	}
	if err := d.store.Append(key); err != nil {
		d.logger.Error("failed to record dedup key",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
	if d.recorder != nil {
		rec := &DispatchRecord{
			Key:          key,
			Repo:         tc.Repo,
			EventType:    tc.EventType,
			Actor:        tc.TriggerUser,
			Instruction:  truncate(trigger.Instruction, 200),
			DispatchedAt: time.Now().UTC(),
		}
		if err := d.recorder.Record(rec); err != nil {
			d.logger.Warn("failed to record dispatch history", slog.Any("error", err))
		}
	}

	d.logger.Info("workflow dispatched",
		slog.String("key", key),
		slog.String("repo", tc.Repo),
		slog.String("actor", tc.TriggerUser),
	)
	return nil
}

// serialize marshals the context and, when the result exceeds the transport
// ceiling, truncates fields in priority order (diff first, then timeline),
// re-serializing after each cut. If it still does not fit the payload is
// sent anyway and the transport's rejection surfaces as a dispatch failure.
func (d *Dispatcher) serialize(tc *TaskContext) (string, error) {
	bounded := *tc

	payload, err := json.Marshal(&bounded)
	if err != nil {
		return "", err
	}
	if len(payload) <= maxPayloadBytes {
		return string(payload), nil
	}

	bounded.Diff = truncateMarked(bounded.Diff)
	payload, err = json.Marshal(&bounded)
	if err != nil {
		return "", err
	}
	if len(payload) <= maxPayloadBytes {
		return string(payload), nil
	}

	bounded.Timeline = truncateMarked(bounded.Timeline)
	payload, err = json.Marshal(&bounded)
	if err != nil {
		return "", err
	}
	if len(payload) > maxPayloadBytes {
		d.logger.Warn("payload still over ceiling after truncation",
			slog.String("event_id", tc.EventID),
			slog.Int("bytes", len(payload)),
		)
	}
	return string(payload), nil
}

func truncateMarked(s string) string {
	if len(s) <= truncatedFieldChars {
		return s
	}
	return s[:truncatedFieldChars] + "..."
}
