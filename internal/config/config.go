// Package config loads process configuration from BGSVC_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
)

// Prefix is the environment variable prefix.
const Prefix = "BGSVC"

// Engine kinds.
const (
	EngineScript  = "script"
	EngineProcess = "process"
)

// Config holds all process configuration.
type Config struct {
	// DataDir defaults to the execution mode's data directory.
	DataDir string `envconfig:"DATA_DIR"`

	Engine     string `envconfig:"ENGINE" default:"script"`
	WorkerPath string `envconfig:"WORKER_PATH"`

	RestartDelay          time.Duration `envconfig:"RESTART_DELAY" default:"5s"`
	TaskRemovedDelay      time.Duration `envconfig:"TASK_REMOVED_DELAY" default:"1s"`
	GuardianCheckInterval time.Duration `envconfig:"GUARDIAN_CHECK_INTERVAL" default:"10s"`
	HeartbeatInterval     time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	Log LogConfig `envconfig:"LOG"`

	DesktopNotifications bool   `envconfig:"DESKTOP_NOTIFICATIONS" default:"false"`
	TapAction            string `envconfig:"TAP_ACTION" default:"SELECT_NOTIFICATION"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
	// File defaults to <data dir>/logs/<role>.log.
	File        string `envconfig:"FILE"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// Load reads the environment and fills in path defaults from mode.
func Load(mode *infra.ExecModeConfig) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = mode.DataDir
	}
	if cfg.WorkerPath == "" {
		cfg.WorkerPath = cfg.defaultWorkerPath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineScript, EngineProcess:
	default:
		return fmt.Errorf("invalid engine %q: want %q or %q", c.Engine, EngineScript, EngineProcess)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	for name, d := range map[string]time.Duration{
		"restart delay":           c.RestartDelay,
		"task removed delay":      c.TaskRemovedDelay,
		"guardian check interval": c.GuardianCheckInterval,
		"heartbeat interval":      c.HeartbeatInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// SocketPath is the client transport's unix socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.DataDir, "bgsvc.sock")
}

// LogFile returns the log file for role, honoring an explicit override.
func (c *Config) LogFile(role string) string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "logs", role+".log")
}

func (c *Config) defaultWorkerPath() string {
	if c.Engine == EngineProcess {
		return filepath.Join(c.DataDir, "worker")
	}
	return filepath.Join(c.DataDir, "worker.js")
}
