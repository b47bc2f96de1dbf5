package main

import (
	"path/filepath"
	"testing"

	"github.com/relaybot/relay/internal/config"
)

func withTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")

	cfg := config.DefaultConfig()
	cfg.Watcher.AllowedUsers = []string{"alice"}
	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("failed to seed config: %v", err)
	}

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	return path
}

func TestAddAllowedUser(t *testing.T) {
	path := withTempConfig(t)

	if err := addAllowedUser("bob"); err != nil {
		t.Fatalf("addAllowedUser failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watcher.AllowedUsers) != 2 || cfg.Watcher.AllowedUsers[1] != "bob" {
		t.Errorf("AllowedUsers = %v", cfg.Watcher.AllowedUsers)
	}
}

func TestAddAllowedUserDuplicate(t *testing.T) {
	path := withTempConfig(t)

	if err := addAllowedUser("ALICE"); err != nil {
		t.Fatalf("addAllowedUser failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watcher.AllowedUsers) != 1 {
		t.Errorf("duplicate add changed the list: %v", cfg.Watcher.AllowedUsers)
	}
}

func TestRemoveAllowedUser(t *testing.T) {
	path := withTempConfig(t)

	if err := removeAllowedUser("alice"); err != nil {
		t.Fatalf("removeAllowedUser failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watcher.AllowedUsers) != 0 {
		t.Errorf("AllowedUsers = %v, want empty", cfg.Watcher.AllowedUsers)
	}
}
