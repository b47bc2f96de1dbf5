package logging

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitFormats(t *testing.T) {
	for _, format := range []string{"console", "json", "text"} {
		cfg := &Config{Level: "info", Format: format, Output: "stderr"}
		if err := Init(cfg); err != nil {
			t.Errorf("Init with format %q failed: %v", format, err)
		}
		if Logger() == nil {
			t.Errorf("Logger() is nil after Init with format %q", format)
		}
	}
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	cfg := &Config{Level: "info", Format: "json", Output: path}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init with file output failed: %v", err)
	}

	Logger().Info("hello")
}

func TestWithComponent(t *testing.T) {
	if err := Init(DefaultConfig()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if logger := WithComponent("poller"); logger == nil {
		t.Fatal("WithComponent returned nil")
	}
	if logger := WithEvent("12345"); logger == nil {
		t.Fatal("WithEvent returned nil")
	}
}
