// Package dedup tracks which addressed instructions have already been
// dispatched. The record is a newline-delimited append-only log loaded fully
// into memory at startup; a key is written if and only if the downstream
// dispatch succeeded.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the process-wide set of dispatched instruction keys backed by an
// append-only log file. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	keys map[string]struct{}
}

// Open loads the log at path into memory, creating the file and its parent
// directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup log: %w", err)
	}

	keys := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			keys[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read dedup log: %w", err)
	}

	return &Store{path: path, file: file, keys: keys}, nil
}

// Contains reports whether key has already been dispatched.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Append records a dispatched key, persisting it before updating the
// in-memory set. Appending an already-present key is a no-op.
func (s *Store) Append(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return nil
	}
	if _, err := s.file.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("failed to append dedup key: %w", err)
	}
	s.keys[key] = struct{}{}
	return nil
}

// Size returns the number of recorded keys.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Close closes the underlying log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
