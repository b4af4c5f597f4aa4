package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecModeFor(t *testing.T) {
	home := "/home/alice"

	tests := []struct {
		name         string
		goos         string
		isRoot       bool
		wantMode     ExecMode
		wantDataDir  string
		wantAgentDir string
	}{
		{
			name:         "darwin user uses LaunchAgents",
			goos:         "darwin",
			wantMode:     ExecModeUser,
			wantDataDir:  filepath.Join(home, ".bgsvc"),
			wantAgentDir: filepath.Join(home, "Library", "LaunchAgents"),
		},
		{
			name:         "darwin root uses LaunchDaemons",
			goos:         "darwin",
			isRoot:       true,
			wantMode:     ExecModeSystem,
			wantDataDir:  "/var/lib/bgsvc",
			wantAgentDir: "/Library/LaunchDaemons",
		},
		{
			name:         "linux user uses systemd user units",
			goos:         "linux",
			wantMode:     ExecModeUser,
			wantDataDir:  filepath.Join(home, ".bgsvc"),
			wantAgentDir: filepath.Join(home, ".config", "systemd", "user"),
		},
		{
			name:         "linux root uses system units",
			goos:         "linux",
			isRoot:       true,
			wantMode:     ExecModeSystem,
			wantDataDir:  "/var/lib/bgsvc",
			wantAgentDir: "/etc/systemd/system",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := execModeFor(tt.goos, tt.isRoot, home)
			assert.Equal(t, tt.wantMode, cfg.Mode)
			assert.Equal(t, tt.wantDataDir, cfg.DataDir)
			assert.Equal(t, tt.wantAgentDir, cfg.AgentDir)
			assert.Equal(t, tt.goos, cfg.GOOS)
			assert.Equal(t, tt.isRoot, cfg.IsRoot)
		})
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode     ExecMode
		expected string
	}{
		{ExecModeUser, "user (non-root)"},
		{ExecModeSystem, "system (root)"},
		{ExecMode("invalid"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.mode.String())
		})
	}
}
