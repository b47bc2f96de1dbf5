package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/github"
	"github.com/relaybot/relay/internal/logging"
)

const defaultTimelineBudget = 12000

// ActivityFunc observes pipeline stages for one event. Stages are
// "denied", "dropped", "dispatched", and "failed".
type ActivityFunc func(stage, eventID, repo, actor, message string)

// Handler runs the full pipeline for one notification: resolve the trigger,
// assemble and compress context, gate the actor, and dispatch. A Handler is
// shared across concurrent handler goroutines; per-event state lives in the
// TaskContext each invocation owns.
type Handler struct {
	client         *github.Client
	store          *dedup.Store
	gate           *AllowList
	dispatcher     *Dispatcher
	mention        string
	timelineBudget int
	logger         *slog.Logger
	onActivity     ActivityFunc
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMention sets the addressing handle scanned for in discussion bodies.
// Empty keeps the default behavior where the most recent comment wins.
func WithMention(handle string) HandlerOption {
	return func(h *Handler) {
		h.mention = handle
	}
}

// WithTimelineBudget overrides the compressed-timeline character budget.
func WithTimelineBudget(budget int) HandlerOption {
	return func(h *Handler) {
		if budget > 0 {
			h.timelineBudget = budget
		}
	}
}

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithOnActivity registers an observer for pipeline stages.
func WithOnActivity(fn ActivityFunc) HandlerOption {
	return func(h *Handler) {
		h.onActivity = fn
	}
}

// NewHandler creates a pipeline handler.
func NewHandler(client *github.Client, store *dedup.Store, gate *AllowList, dispatcher *Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{
		client:         client,
		store:          store,
		gate:           gate,
		dispatcher:     dispatcher,
		timelineBudget: defaultTimelineBudget,
		logger:         logging.WithComponent("handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one notification end to end. It never mutates platform
// state except through the dispatcher (ack on success) and the gate's
// deny-acknowledgment.
func (h *Handler) Handle(ctx context.Context, note *github.Notification) error {
	kind := ParseEventKind(note.Subject.Type)
	logger := h.logger.With(
		slog.String("event_id", note.ID),
		slog.String("kind", string(kind)),
		slog.String("repo", note.Repository.FullName),
		slog.String("run_id", uuid.NewString()),
	)

	if kind == KindUnknown {
		logger.Debug("unsupported subject type, dropping", slog.String("type", note.Subject.Type))
		return nil
	}

	logger.Info("processing notification", slog.String("title", note.Subject.Title))

	tc := &TaskContext{
		Repo:      note.Repository.FullName,
		EventType: string(kind),
		EventID:   note.ID,
		Title:     note.Subject.Title,
	}

	var base *Trigger
	var err error
	switch kind {
	case KindIssue, KindPullRequest:
		base, err = h.resolveIssuePull(ctx, note, kind, tc)
	case KindDiscussion:
		base, err = h.resolveDiscussion(ctx, note, tc)
	case KindCommit:
		base, err = h.resolveCommit(ctx, note, tc)
	}
	if err != nil {
		return fmt.Errorf("resolve %s: %w", note.ID, err)
	}

	var items []DiscussionItem
	switch kind {
	case KindPullRequest:
		items = h.assemblePull(ctx, note, tc)
	case KindIssue:
		items = h.assembleIssue(ctx, note, tc)
	case KindDiscussion:
		items = h.assembleDiscussion(ctx, note, tc)
	case KindCommit:
		items = h.assembleCommit(ctx, note)
	}

	triggers := h.selectTriggers(kind, base, tc, items)
	if len(triggers) == 0 {
		logger.Info("no addressed instruction found, dropping")
		h.notify("dropped", note.ID, tc.Repo, "", "no addressed instruction")
		return nil
	}

	var errs []error
	for _, trigger := range triggers {
		if trigger.Actor == "" {
			logger.Warn("could not identify trigger actor, dropping instruction")
			continue
		}

		if !h.gate.Allows(trigger.Actor) {
			logger.Warn("access denied", slog.String("actor", trigger.Actor))
			h.notify("denied", note.ID, tc.Repo, trigger.Actor, "actor not in allow-list")
			// Acknowledge so the platform stops redelivering an event
			// that will never be authorized.
			if err := h.client.MarkThreadRead(ctx, note.ID); err != nil {
				logger.Debug("deny acknowledgment failed", slog.Any("error", err))
			}
			continue
		}

		run := *tc
		run.TriggerUser = trigger.Actor

		if trigger.Item != nil && (trigger.Item.Kind == ItemReview || trigger.Item.Kind == ItemReviewComment) {
			// The actor is discussing a specific review round: ship that
			// batch in full instead of the compressed timeline.
			run.Timeline = RenderItems(FocusReviewBatch(items, trigger.Item))
		} else {
			run.Timeline = Compress(items, h.timelineBudget)
		}

		if err := h.dispatcher.Dispatch(ctx, &run, trigger); err != nil {
			h.notify("failed", note.ID, run.Repo, trigger.Actor, err.Error())
			errs = append(errs, err)
			continue
		}
		h.notify("dispatched", note.ID, run.Repo, trigger.Actor, truncate(trigger.Instruction, 120))
	}
	return errors.Join(errs...)
}

// selectTriggers picks the instruction(s) this event carries. With no
// mention handle configured the base resolution wins. With a handle, pull
// request timelines may address the bot several times so every unprocessed
// match dispatches independently; other kinds take the single most recent
// match with the base-body fallback.
func (h *Handler) selectTriggers(kind EventKind, base *Trigger, tc *TaskContext, items []DiscussionItem) []*Trigger {
	if h.mention == "" {
		if base == nil {
			return nil
		}
		return []*Trigger{base}
	}

	baseBody, baseAuthor := "", ""
	if base != nil {
		baseBody = tc.baseBody
		baseAuthor = tc.subjectAuthor
	}

	if kind == KindPullRequest {
		triggers := ScanMentions(items, h.mention, func(itemID string) bool {
			return h.store.Contains(tc.EventID + "#" + itemID)
		})
		if len(triggers) > 0 {
			return triggers
		}
		if containsHandle(baseBody, h.mention) {
			return []*Trigger{{Actor: baseAuthor, Instruction: baseBody}}
		}
		return nil
	}

	if trigger := ScanMention(items, baseBody, baseAuthor, h.mention); trigger != nil {
		return []*Trigger{trigger}
	}
	return nil
}

func (h *Handler) notify(stage, eventID, repo, actor, message string) {
	if h.onActivity != nil {
		h.onActivity(stage, eventID, repo, actor, message)
	}
}
