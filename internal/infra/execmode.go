package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents the privilege level the host runs with.
type ExecMode string

const (
	// ExecModeUser runs as the login user with a per-user boot agent.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with a system-wide boot agent.
	ExecModeSystem ExecMode = "system"
)

// DefaultAgentLabel is the boot agent label prefix.
const DefaultAgentLabel = "io.bgsvc.host"

// ExecModeConfig holds paths that depend on the execution mode and platform.
type ExecModeConfig struct {
	Mode     ExecMode
	GOOS     string
	DataDir  string // settings database, key, registry, socket
	AgentDir string // where the launchd plist or systemd unit goes
	IsRoot   bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return execModeFor(runtime.GOOS, os.Geteuid() == 0, GetRealUserHome())
}

func execModeFor(goos string, isRoot bool, home string) *ExecModeConfig {
	cfg := &ExecModeConfig{GOOS: goos, IsRoot: isRoot}

	if isRoot {
		cfg.Mode = ExecModeSystem
		cfg.DataDir = "/var/lib/bgsvc"
		if goos == "darwin" {
			cfg.AgentDir = "/Library/LaunchDaemons"
		} else {
			cfg.AgentDir = "/etc/systemd/system"
		}
		return cfg
	}

	cfg.Mode = ExecModeUser
	cfg.DataDir = filepath.Join(home, ".bgsvc")
	if goos == "darwin" {
		cfg.AgentDir = filepath.Join(home, "Library", "LaunchAgents")
	} else {
		cfg.AgentDir = filepath.Join(home, ".config", "systemd", "user")
	}
	return cfg
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
