package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/ui"
)

// Config holds all baton host configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	AgentsDir       string                   `json:"agents_dir"`
	JournalPath     string                   `json:"journal_path"`
	Journal         bool                     `json:"journal"`
	LogLevel        string                   `json:"log_level"`
	PoolSize        int                      `json:"pool_size"`
	ApprovalTimeout string                   `json:"approval_timeout"`
	MCPServers      []agents.MCPServerConfig `json:"mcp_servers,omitempty"`
	ApprovalRules   []ui.PolicyRule          `json:"approval_rules,omitempty"`
}

func defaultConfig() Config {
	return Config{
		AgentsDir:   filepath.Join(batonDir(), "agents"),
		JournalPath: filepath.Join(batonDir(), "journal.db"),
		Journal:     true,
		LogLevel:    "info",
		PoolSize:    4,
	}
}

func batonDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".baton"
	}
	return filepath.Join(home, ".baton")
}

func settingsPath() string {
	return filepath.Join(batonDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("BATON_AGENTS_DIR"); v != "" {
		cfg.AgentsDir = v
	}
	if v := os.Getenv("BATON_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("BATON_JOURNAL"); v != "" {
		cfg.Journal = v == "true" || v == "1"
	}
	if v := os.Getenv("BATON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BATON_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("BATON_APPROVAL_TIMEOUT"); v != "" {
		cfg.ApprovalTimeout = v
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a process restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.AgentsDir != new.AgentsDir {
		d.RestartNeeded = append(d.RestartNeeded, "agents_dir")
	}
	if old.JournalPath != new.JournalPath {
		d.RestartNeeded = append(d.RestartNeeded, "journal_path")
	}
	if old.Journal != new.Journal {
		d.RestartNeeded = append(d.RestartNeeded, "journal")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.ApprovalTimeout != new.ApprovalTimeout {
		d.RestartNeeded = append(d.RestartNeeded, "approval_timeout")
	}
	if !reflect.DeepEqual(old.MCPServers, new.MCPServers) {
		d.RestartNeeded = append(d.RestartNeeded, "mcp_servers")
	}
	if !reflect.DeepEqual(old.ApprovalRules, new.ApprovalRules) {
		d.RestartNeeded = append(d.RestartNeeded, "approval_rules")
	}
	return d
}
