package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relaybot/relay/internal/github"
	"github.com/relaybot/relay/internal/logging"
)

// Poller drives the loop: fetch candidate notifications, hand each new one
// to an independently scheduled handler goroutine, and sleep per the
// server-provided interval hint. Handlers are fire-and-forget; their
// failures flow into a supervised channel drained by the poller so one bad
// event can never stall the loop.
type Poller struct {
	client   *github.Client
	handler  *Handler
	fallback time.Duration
	cooldown time.Duration
	logger   *slog.Logger

	etag string

	mu   sync.Mutex
	seen map[string]bool

	failures chan handlerFailure
}

type handlerFailure struct {
	eventID string
	err     error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger for the poller.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithFallbackInterval sets the sleep used when the server gives no hint.
func WithFallbackInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.fallback = d
		}
	}
}

// WithCooldown sets the extended sleep after a rate-limit response.
func WithCooldown(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// NewPoller creates a notification poller.
func NewPoller(client *github.Client, handler *Handler, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		handler:  handler,
		fallback: 60 * time.Second,
		cooldown: 5 * time.Minute,
		seen:     make(map[string]bool),
		failures: make(chan handlerFailure, 64),
		logger:   logging.WithComponent("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling and blocks until the context is cancelled. In-flight
// handlers are abandoned on cancellation; nothing was persisted for them, so
// their events are safely retried on the next run.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("starting notification poller",
		slog.Duration("fallback_interval", p.fallback),
		slog.Duration("cooldown", p.cooldown),
	)

	go p.drainFailures(ctx)

	for {
		sleep := p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("notification poller stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// pollOnce performs one cycle and returns how long to sleep before the next.
func (p *Poller) pollOnce(ctx context.Context) time.Duration {
	notes, res, err := p.client.ListNotifications(ctx, p.etag)

	sleep := p.fallback
	if res != nil && res.Interval > 0 {
		sleep = res.Interval
	}

	switch {
	case errors.Is(err, github.ErrUnauthorized):
		p.logger.Error("credential rejected, check bot token")
		return sleep
	case errors.Is(err, github.ErrRateLimited):
		p.logger.Warn("rate limited, backing off", slog.Duration("cooldown", p.cooldown))
		return p.cooldown
	case err != nil:
		p.logger.Warn("poll failed", slog.Any("error", err))
		return sleep
	}

	if res.NotModified {
		return sleep
	}
	p.etag = res.ETag

	for _, note := range notes {
		if !note.Unread {
			continue
		}
		// Mark before spawning so a redelivery within one poll interval
		// cannot double-schedule the same event. This is event-level
		// protection; instruction-level dedup lives in the dispatcher.
		if !p.markSeen(note.ID) {
			continue
		}

		p.logger.Info("new notification",
			slog.String("event_id", note.ID),
			slog.String("type", note.Subject.Type),
			slog.String("repo", note.Repository.FullName),
		)

		go func(note *github.Notification) {
			if err := p.handler.Handle(ctx, note); err != nil {
				select {
				case p.failures <- handlerFailure{eventID: note.ID, err: err}:
				default:
					p.logger.Error("handler failed", slog.String("event_id", note.ID), slog.Any("error", err))
				}
			}
		}(note)
	}

	return sleep
}

// drainFailures surfaces handler errors without letting them cross back into
// the poll loop.
func (p *Poller) drainFailures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure := <-p.failures:
			p.logger.Error("handler failed",
				slog.String("event_id", failure.eventID),
				slog.Any("error", failure.err),
			)
		}
	}
}

// markSeen records an event id, returning false if it was already present.
func (p *Poller) markSeen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[id] {
		return false
	}
	p.seen[id] = true
	return true
}

// SeenCount returns the number of events observed this run.
func (p *Poller) SeenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
