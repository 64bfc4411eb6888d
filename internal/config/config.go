// Package config loads the host configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davexpro/recoverd/internal/artifact"
)

// Config is the application configuration.
type Config struct {
	StateDir    string                      `yaml:"state_dir"`
	ArtifactDir string                      `yaml:"artifact_dir"`
	LockFile    string                      `yaml:"lock_file"`
	Engine      EngineConfig                `yaml:"engine"`
	Connections map[string]ConnectionConfig `yaml:"connections"`
	R2          artifact.S3Config           `yaml:"r2"`
	Encryption  EncryptionConfig            `yaml:"encryption"`
	Telegram    TelegramConfig              `yaml:"telegram"`
}

// EngineConfig tunes the orchestration engine.
type EngineConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	GuardWindowMinutes  int `yaml:"guard_window_minutes"`
	RetentionDays       int `yaml:"retention_days"`
	HistoryLimit        int `yaml:"history_limit"`
	DumpThreads         int `yaml:"dump_threads"`
}

// ConnectionConfig describes one reachable database target.
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type EncryptionConfig struct {
	Password string `yaml:"password"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// LoadConfig loads the configuration from a YAML file and applies
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = "state"
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "backups"
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "/tmp/recoverd.lock"
	}
	if cfg.Engine.TickIntervalSeconds == 0 {
		cfg.Engine.TickIntervalSeconds = 60
	}
	if cfg.Engine.GuardWindowMinutes == 0 {
		cfg.Engine.GuardWindowMinutes = 60
	}
	if cfg.Engine.RetentionDays == 0 {
		cfg.Engine.RetentionDays = 30
	}
	if cfg.Engine.HistoryLimit == 0 {
		cfg.Engine.HistoryLimit = 1000
	}
	if cfg.Engine.DumpThreads == 0 {
		cfg.Engine.DumpThreads = 4
	}
	for name, c := range cfg.Connections {
		if c.Host == "" {
			c.Host = "127.0.0.1"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
		cfg.Connections[name] = c
	}

	return &cfg, nil
}
