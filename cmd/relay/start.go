package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/digest"
	"github.com/relaybot/relay/internal/gateway"
	"github.com/relaybot/relay/internal/github"
	"github.com/relaybot/relay/internal/history"
	"github.com/relaybot/relay/internal/logging"
	"github.com/relaybot/relay/internal/watcher"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the relay watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	// Local .env is a development convenience; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Logging != nil {
		if err := logging.Init(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	logger := logging.WithComponent("relay")

	store, err := dedup.Open(cfg.Storage.DedupLog)
	if err != nil {
		return fmt.Errorf("failed to open dedup log: %w", err)
	}
	defer func() { _ = store.Close() }()

	hist, err := history.Open(cfg.Storage.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer func() { _ = hist.Close() }()

	var client *github.Client
	if cfg.GitHub.APIBaseURL != "" {
		client = github.NewClientWithBaseURL(cfg.GitHub.BotToken, cfg.GitHub.Token, cfg.GitHub.APIBaseURL)
	} else {
		client = github.NewClient(cfg.GitHub.BotToken, cfg.GitHub.Token)
	}

	feed := gateway.NewFeed()
	gate := watcher.NewAllowList(cfg.Watcher.AllowedUsers, cfg.Watcher.CaseSensitive)
	dispatcher := watcher.NewDispatcher(client, store, hist,
		cfg.GitHub.ControlRepo, cfg.GitHub.Workflow, cfg.GitHub.Ref, logging.Logger())

	handler := watcher.NewHandler(client, store, gate, dispatcher,
		watcher.WithMention(cfg.Watcher.Mention),
		watcher.WithOnActivity(func(stage, eventID, repo, actor, message string) {
			feed.Publish(&gateway.Event{
				Stage:   stage,
				EventID: eventID,
				Repo:    repo,
				Actor:   actor,
				Message: message,
			})
		}),
	)

	poller := watcher.NewPoller(client, handler,
		watcher.WithFallbackInterval(time.Duration(cfg.Watcher.PollInterval)*time.Second),
		watcher.WithCooldown(time.Duration(cfg.Watcher.Cooldown)*time.Second),
	)

	server := gateway.NewServer(&gateway.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
	}, feed, gateway.WithHistory(hist), gateway.WithDedup(store), gateway.WithVersion(version))

	digester := digest.NewScheduler(hist, &digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
	}, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := digester.Start(ctx); err != nil {
		return fmt.Errorf("failed to start digest scheduler: %w", err)
	}
	defer digester.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- fmt.Errorf("gateway failed: %w", err)
		}
	}()

	logger.Info("relay started",
		slog.String("version", version),
		slog.String("control_repo", cfg.GitHub.ControlRepo),
		slog.Int("allowed_users", gate.Len()),
	)

	go poller.Start(ctx)

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return nil
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}
