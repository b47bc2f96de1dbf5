package dedup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "processed.log")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.Size() != 0 {
		t.Errorf("Size = %d, want 0", store.Size())
	}
	if store.Contains("anything") {
		t.Error("empty store should not contain keys")
	}
}

func TestAppendAndContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Append("12345"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append("12345#998"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !store.Contains("12345") || !store.Contains("12345#998") {
		t.Error("appended keys missing")
	}
	if store.Contains("99999") {
		t.Error("unexpected key present")
	}
	if store.Size() != 2 {
		t.Errorf("Size = %d, want 2", store.Size())
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := store.Append("k"); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("k"); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "k\n"); got != 1 {
		t.Errorf("key written %d times, want 1", got)
	}
}

func TestReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := store.Append(key); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.Close()

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reloaded.Close() }()

	if reloaded.Size() != 3 {
		t.Errorf("Size after reload = %d, want 3", reloaded.Size())
	}
	for _, key := range []string{"a", "b", "c"} {
		if !reloaded.Contains(key) {
			t.Errorf("key %q lost across restart", key)
		}
	}
}

func TestLoadSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	if err := os.WriteFile(path, []byte("a\n\n  \nb\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.Size() != 2 {
		t.Errorf("Size = %d, want 2", store.Size())
	}
}
