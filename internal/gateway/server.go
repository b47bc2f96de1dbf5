// Package gateway exposes the watcher's local observation surface: a health
// probe, a status API backed by dispatch history, and a WebSocket feed of
// live pipeline activity.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaybot/relay/internal/dedup"
	"github.com/relaybot/relay/internal/history"
	"github.com/relaybot/relay/internal/logging"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
)

// Config holds gateway server configuration.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// Server is the local HTTP surface of the watcher. It is observation only:
// nothing it serves can trigger a dispatch. Safe for concurrent use.
type Server struct {
	config   *Config
	feed     *Feed
	history  *history.Store
	dedup    *dedup.Store
	version  string
	started  time.Time
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// ServerOption is a functional option for configuring Server.
type ServerOption func(*Server)

// WithHistory attaches the dispatch history store queried by the status API.
func WithHistory(store *history.Store) ServerOption {
	return func(s *Server) {
		s.history = store
	}
}

// WithDedup attaches the dedup store so the health probe can report how
// many instruction keys are held in memory.
func WithDedup(store *dedup.Store) ServerOption {
	return func(s *Server) {
		s.dedup = store
	}
}

// WithVersion sets the version string reported by the status API.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates a gateway server. The server is not started until Start
// is called.
func NewServer(config *Config, feed *Feed, opts ...ServerOption) *Server {
	s := &Server{
		config:  config,
		feed:    feed,
		version: "dev",
		logger:  logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				// Local dashboards only; external sites cannot connect.
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleActivityWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
	}
	if s.dedup != nil {
		health["cached_keys"] = s.dedup.Size()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"version":     s.version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"subscribers": s.feed.Count(),
	}

	if s.history != nil {
		if count, err := s.history.CountSince(time.Now().Add(-24 * time.Hour)); err == nil {
			status["dispatches_24h"] = count
		}
		if byRepo, err := s.history.CountByRepoSince(time.Now().Add(-24 * time.Hour)); err == nil {
			status["repos_24h"] = byRepo
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}

	entries, err := s.history.Recent(50)
	if err != nil {
		s.logger.Error("history query failed", slog.Any("error", err))
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}

	type entryResponse struct {
		Key          string    `json:"key"`
		Repo         string    `json:"repo"`
		EventType    string    `json:"event_type"`
		Actor        string    `json:"actor"`
		Instruction  string    `json:"instruction"`
		DispatchedAt time.Time `json:"dispatched_at"`
	}
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryResponse{
			Key:          e.Key,
			Repo:         e.Repo,
			EventType:    e.EventType,
			Actor:        e.Actor,
			Instruction:  e.Instruction,
			DispatchedAt: e.DispatchedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"dispatches": out})
}

// handleActivityWebSocket upgrades the connection and streams pipeline
// activity. On connect it replays the backlog, then pushes events live.
func (s *Server) handleActivityWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", slog.Any("error", err))
		return
	}

	s.logger.Info("activity feed connected", slog.String("remote", r.RemoteAddr))

	// Subscribe before replaying the backlog to avoid gaps.
	sub := s.feed.Subscribe()
	defer s.feed.Unsubscribe(sub)

	for _, event := range s.feed.Recent() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			_ = conn.Close()
			return
		}
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	// Read pump: drain client messages (none expected) and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("activity feed write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
