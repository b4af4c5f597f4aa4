package infra

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// launchd plist for the host. KeepAlive only fires after a non-zero exit,
// so a manual stop (exit 0) is not undone by launchd.
const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
        <string>--boot</string>
    </array>

    <key>EnvironmentVariables</key>
    <dict>
        <key>BGSVC_DATA_DIR</key>
        <string>{{.DataDir}}</string>
    </dict>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>
{{- if not .System}}

    <key>ProcessType</key>
    <string>Background</string>
{{- end}}

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type launchdConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	LogPath        string
	ErrorLogPath   string
	System         bool
}

// LaunchdAgent implements domain.BootAgentManager with a launchd plist.
type LaunchdAgent struct {
	label     string
	mode      ExecMode
	dataDir   string
	plistDir  string
	plistPath string
	cmd       CommandRunner
}

// NewLaunchdAgent creates a launchd agent manager for the given mode and label.
func NewLaunchdAgent(cfg *ExecModeConfig, label string) *LaunchdAgent {
	return &LaunchdAgent{
		label:     label,
		mode:      cfg.Mode,
		dataDir:   cfg.DataDir,
		plistDir:  cfg.AgentDir,
		plistPath: filepath.Join(cfg.AgentDir, label+".plist"),
		cmd:       &RealCommandRunner{},
	}
}

func (m *LaunchdAgent) generateContent(execPath string) ([]byte, error) {
	tmpl, err := template.New("plist").Parse(launchdTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, launchdConfig{
		Label:          m.label,
		ExecutablePath: execPath,
		DataDir:        m.dataDir,
		LogPath:        filepath.Join(m.dataDir, "logs", "launchd.out.log"),
		ErrorLogPath:   filepath.Join(m.dataDir, "logs", "launchd.err.log"),
		System:         m.mode == ExecModeSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. Reinstalling replaces a stale plist.
func (m *LaunchdAgent) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	content, err := m.generateContent(execPath)
	if err != nil {
		return err
	}
	if m.IsInstalled() {
		_ = m.cmd.Run("launchctl", "unload", m.plistPath)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.cmd.Run("launchctl", "load", m.plistPath)
}

// Uninstall unloads and removes the plist.
func (m *LaunchdAgent) Uninstall() error {
	if !m.IsInstalled() {
		return nil
	}
	_ = m.cmd.Run("launchctl", "unload", m.plistPath)
	return os.Remove(m.plistPath)
}

// IsInstalled checks if the plist exists.
func (m *LaunchdAgent) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if the plist exists but differs from the expected content.
func (m *LaunchdAgent) NeedsUpdate(execPath string) bool {
	return definitionStale(m.plistPath, func() ([]byte, error) { return m.generateContent(execPath) })
}

// Path returns the plist file path.
func (m *LaunchdAgent) Path() string {
	return m.plistPath
}

// definitionStale compares an installed agent definition with freshly generated content.
func definitionStale(path string, generate func() ([]byte, error)) bool {
	current, err := os.ReadFile(path)
	if err != nil {
		return !os.IsNotExist(err)
	}
	expected, err := generate()
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

var _ domain.BootAgentManager = (*LaunchdAgent)(nil)
