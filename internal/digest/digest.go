// Package digest produces a periodic summary of dispatch activity from the
// history store, on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaybot/relay/internal/history"
	"github.com/relaybot/relay/internal/logging"
)

// Config holds digest scheduling configuration.
type Config struct {
	// Enabled turns the scheduled digest on.
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression, e.g. "0 9 * * *".
	Schedule string `yaml:"schedule"`
	// Timezone the schedule is evaluated in. Empty means UTC.
	Timezone string `yaml:"timezone"`
}

// Scheduler runs the digest job on its cron schedule.
type Scheduler struct {
	store   *history.Store
	config  *Config
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewScheduler creates a digest scheduler.
func NewScheduler(store *history.Store, config *Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.WithComponent("digest")
	}

	loc := time.UTC
	if config.Timezone != "" {
		parsed, err := time.LoadLocation(config.Timezone)
		if err != nil {
			logger.Warn("invalid timezone, using UTC",
				slog.String("timezone", config.Timezone),
				slog.Any("error", err),
			)
		} else {
			loc = parsed
		}
	}

	return &Scheduler{
		store:  store,
		config: config,
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
	}
}

// Start begins the scheduler. Disabled configuration is a quiet no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.config.Enabled {
		s.logger.Info("digest scheduler disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runDigest(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", s.config.Schedule, err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info("digest scheduler started",
		slog.String("schedule", s.config.Schedule),
		slog.Time("next_run", s.cron.Entry(s.entryID).Next),
	)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("digest scheduler stopped")
}

// NextRun returns the next scheduled run time, zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runDigest(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	summary, err := Build(s.store, 24*time.Hour)
	if err != nil {
		s.logger.Error("digest generation failed", slog.Any("error", err))
		return
	}

	s.logger.Info("daily digest",
		slog.Int("dispatches", summary.Total),
		slog.String("summary", summary.Text),
	)
}

// Summary is one generated digest.
type Summary struct {
	Total int
	Text  string
}

// Build summarizes dispatch activity over the trailing window.
func Build(store *history.Store, window time.Duration) (*Summary, error) {
	cutoff := time.Now().Add(-window)

	total, err := store.CountSince(cutoff)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &Summary{Text: "no dispatches"}, nil
	}

	byRepo, err := store.CountByRepoSince(cutoff)
	if err != nil {
		return nil, err
	}

	repos := make([]string, 0, len(byRepo))
	for repo := range byRepo {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	parts := make([]string, 0, len(repos))
	for _, repo := range repos {
		parts = append(parts, fmt.Sprintf("%s: %d", repo, byRepo[repo]))
	}

	return &Summary{
		Total: total,
		Text:  fmt.Sprintf("%d dispatches (%s)", total, strings.Join(parts, ", ")),
	}, nil
}
