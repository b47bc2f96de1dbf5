// Package config contains the loader and typed model for the Relay config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/relaybot/relay/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version string         `yaml:"version"`
	GitHub  *GitHubConfig  `yaml:"github"`
	Watcher *WatcherConfig `yaml:"watcher"`
	Gateway *GatewayConfig `yaml:"gateway"`
	Storage *StorageConfig `yaml:"storage"`
	Digest  *DigestConfig  `yaml:"digest"`
	Logging *logging.Config `yaml:"logging"`
}

// GitHubConfig holds credentials and dispatch coordinates.
// BotToken is the low-privilege credential used for notification polling and
// thread acknowledgment; Token is the credential used for resource fetches,
// GraphQL, and workflow dispatch. They may be the same account.
type GitHubConfig struct {
	BotToken    string `yaml:"bot_token"`
	Token       string `yaml:"token"`
	ControlRepo string `yaml:"control_repo"` // owner/repo receiving workflow_dispatch
	Workflow    string `yaml:"workflow"`     // workflow file name, e.g. bot-runner.yml
	Ref         string `yaml:"ref"`          // git ref for the dispatch
	APIBaseURL  string `yaml:"api_base_url"` // override for testing / GHE
}

// WatcherConfig holds pipeline settings.
type WatcherConfig struct {
	// Mention is the addressing handle scanned for in discussion bodies,
	// e.g. "@relay-bot". Empty disables mention scanning and the most
	// recent comment wins.
	Mention string `yaml:"mention"`
	// AllowedUsers is the allow-list of actor logins. Empty allows everyone.
	AllowedUsers []string `yaml:"allowed_users"`
	// CaseSensitive disables the default lowercase normalization of the
	// allow-list and incoming actors.
	CaseSensitive bool `yaml:"case_sensitive"`
	// PollInterval is the fallback poll interval in seconds, used when the
	// server does not supply an X-Poll-Interval hint.
	PollInterval int `yaml:"poll_interval"`
	// Cooldown is the sleep in seconds after a rate-limit response.
	Cooldown int `yaml:"cooldown"`
}

// GatewayConfig holds the liveness endpoint binding.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds on-disk state locations.
type StorageConfig struct {
	// DedupLog is the newline-delimited append-only record of dispatched
	// instruction keys.
	DedupLog string `yaml:"dedup_log"`
	// HistoryDB is the SQLite dispatch history database path.
	HistoryDB string `yaml:"history_db"`
}

// DigestConfig holds the scheduled activity digest settings.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
	Timezone string `yaml:"timezone"`
}

// envOverrides mirrors the subset of settings that can be supplied through
// the environment, matching the deployment surface of the hosted bot.
type envOverrides struct {
	BotToken     string `env:"BOT_TOKEN"`
	Token        string `env:"GITHUB_TOKEN"`
	ControlRepo  string `env:"CONTROL_REPO"`
	AllowedUsers string `env:"ALLOWED_USERS"` // comma-separated
	Mention      string `env:"MENTION_HANDLE"`
	DedupLog     string `env:"DEDUP_LOG"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".relay", "data")
	return &Config{
		Version: "1.0",
		GitHub: &GitHubConfig{
			Workflow: "bot-runner.yml",
			Ref:      "main",
		},
		Watcher: &WatcherConfig{
			PollInterval: 60,
			Cooldown:     300,
		},
		Gateway: &GatewayConfig{
			Host: "127.0.0.1",
			Port: 9090,
		},
		Storage: &StorageConfig{
			DedupLog:  filepath.Join(dataDir, "processed_notifications.log"),
			HistoryDB: filepath.Join(dataDir, "relay.db"),
		},
		Digest: &DigestConfig{
			Enabled:  false,
			Schedule: "0 9 * * *",
			Timezone: "UTC",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// Expand ${VAR} references so secrets can live in the environment
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if config.Storage != nil {
		config.Storage.DedupLog = expandPath(config.Storage.DedupLog)
		config.Storage.HistoryDB = expandPath(config.Storage.HistoryDB)
	}

	return config, nil
}

// applyEnvOverrides layers environment variables over the file config.
func applyEnvOverrides(config *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if overrides.BotToken != "" {
		config.GitHub.BotToken = overrides.BotToken
	}
	if overrides.Token != "" {
		config.GitHub.Token = overrides.Token
	}
	if overrides.ControlRepo != "" {
		config.GitHub.ControlRepo = overrides.ControlRepo
	}
	if overrides.Mention != "" {
		config.Watcher.Mention = overrides.Mention
	}
	if overrides.DedupLog != "" {
		config.Storage.DedupLog = overrides.DedupLog
	}
	if overrides.AllowedUsers != "" {
		config.Watcher.AllowedUsers = splitList(overrides.AllowedUsers)
	}

	return nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks that the settings required for dispatching are present.
func (c *Config) Validate() error {
	if c.GitHub == nil || c.GitHub.BotToken == "" {
		return fmt.Errorf("github.bot_token is required (or set BOT_TOKEN)")
	}
	if c.GitHub.Token == "" {
		// Least-privilege separation is optional; fall back to one token.
		c.GitHub.Token = c.GitHub.BotToken
	}
	if c.GitHub.ControlRepo == "" {
		return fmt.Errorf("github.control_repo is required (or set CONTROL_REPO)")
	}
	if parts := strings.Split(c.GitHub.ControlRepo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid control_repo format, expected owner/repo: %s", c.GitHub.ControlRepo)
	}
	if c.GitHub.Workflow == "" {
		return fmt.Errorf("github.workflow is required")
	}
	return nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".relay", "config.yaml")
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// expandPath expands a leading ~ to the user home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
