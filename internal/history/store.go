// Package history persists dispatch records in SQLite so operators can ask
// what the bot did and when, across restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaybot/relay/internal/watcher"
)

// Store provides persistent storage for dispatch history using SQLite.
// Store handles schema migrations automatically on initialization.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one persisted dispatch.
type Entry struct {
	ID           int64
	Key          string
	Repo         string
	EventType    string
	Actor        string
	Instruction  string
	DispatchedAt time.Time
}

// Open creates a history store backed by a SQLite database at path. The
// parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			repo TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor TEXT NOT NULL,
			instruction TEXT,
			dispatched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_repo ON dispatches(repo)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_time ON dispatches(dispatched_at)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Record saves a confirmed dispatch. Replaying the same key is a no-op so a
// retried handler cannot double-count.
func (s *Store) Record(rec *watcher.DispatchRecord) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO dispatches (key, repo, event_type, actor, instruction, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.Repo, rec.EventType, rec.Actor, rec.Instruction, rec.DispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// Recent returns the latest dispatches, newest first.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, key, repo, event_type, actor, instruction, dispatched_at
		 FROM dispatches ORDER BY dispatched_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// Since returns every dispatch at or after the cutoff, oldest first.
func (s *Store) Since(cutoff time.Time) ([]*Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, key, repo, event_type, actor, instruction, dispatched_at
		 FROM dispatches WHERE dispatched_at >= ? ORDER BY dispatched_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// CountSince returns how many dispatches happened at or after the cutoff.
func (s *Store) CountSince(cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dispatches WHERE dispatched_at >= ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dispatches: %w", err)
	}
	return count, nil
}

// CountByRepoSince breaks the dispatch count down per source repository.
func (s *Store) CountByRepoSince(cutoff time.Time) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT repo, COUNT(*) FROM dispatches WHERE dispatched_at >= ? GROUP BY repo`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var repo string
		var count int
		if err := rows.Scan(&repo, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[repo] = count
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(&entry.ID, &entry.Key, &entry.Repo, &entry.EventType,
			&entry.Actor, &entry.Instruction, &entry.DispatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
