package infra

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Restart=on-failure mirrors launchd's KeepAlive{SuccessfulExit=false}.
const systemdTemplate = `[Unit]
Description=Background service host ({{.Label}})
After=network.target

[Service]
Type=simple
ExecStart={{.ExecutablePath}} run --boot
Environment=BGSVC_DATA_DIR={{.DataDir}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy={{.WantedBy}}
`

type systemdConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	WantedBy       string
}

// SystemdUnit implements domain.BootAgentManager with a systemd unit.
type SystemdUnit struct {
	label    string
	mode     ExecMode
	dataDir  string
	unitDir  string
	unitName string
	cmd      CommandRunner
}

// NewSystemdUnit creates a systemd unit manager for the given mode and label.
func NewSystemdUnit(cfg *ExecModeConfig, label string) *SystemdUnit {
	return &SystemdUnit{
		label:    label,
		mode:     cfg.Mode,
		dataDir:  cfg.DataDir,
		unitDir:  cfg.AgentDir,
		unitName: label + ".service",
		cmd:      &RealCommandRunner{},
	}
}

func (u *SystemdUnit) generateContent(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(systemdTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	wantedBy := "default.target"
	if u.mode == ExecModeSystem {
		wantedBy = "multi-user.target"
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, systemdConfig{
		Label:          u.label,
		ExecutablePath: execPath,
		DataDir:        u.dataDir,
		WantedBy:       wantedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// systemctl prefixes --user when managing per-user units.
func (u *SystemdUnit) systemctl(args ...string) error {
	if u.mode == ExecModeUser {
		args = append([]string{"--user"}, args...)
	}
	return u.cmd.Run("systemctl", args...)
}

// Install writes the unit, reloads systemd and enables it for the next boot.
func (u *SystemdUnit) Install(execPath string) error {
	if err := os.MkdirAll(u.unitDir, 0755); err != nil {
		return err
	}
	content, err := u.generateContent(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(u.Path(), content, 0644); err != nil {
		return err
	}
	if err := u.systemctl("daemon-reload"); err != nil {
		return err
	}
	return u.systemctl("enable", u.unitName)
}

// Uninstall disables and removes the unit.
func (u *SystemdUnit) Uninstall() error {
	if !u.IsInstalled() {
		return nil
	}
	_ = u.systemctl("disable", u.unitName)
	if err := os.Remove(u.Path()); err != nil {
		return err
	}
	return u.systemctl("daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (u *SystemdUnit) IsInstalled() bool {
	_, err := os.Stat(u.Path())
	return err == nil
}

// NeedsUpdate checks if the unit exists but differs from the expected content.
func (u *SystemdUnit) NeedsUpdate(execPath string) bool {
	return definitionStale(u.Path(), func() ([]byte, error) { return u.generateContent(execPath) })
}

// Path returns the unit file path.
func (u *SystemdUnit) Path() string {
	return filepath.Join(u.unitDir, u.unitName)
}

var _ domain.BootAgentManager = (*SystemdUnit)(nil)

// NewBootAgentManager returns the boot agent manager for the current platform.
func NewBootAgentManager(cfg *ExecModeConfig, label string) (domain.BootAgentManager, error) {
	switch cfg.GOOS {
	case "darwin":
		return NewLaunchdAgent(cfg, label), nil
	case "linux":
		return NewSystemdUnit(cfg, label), nil
	default:
		return nil, fmt.Errorf("boot agents are not supported on %s", cfg.GOOS)
	}
}
