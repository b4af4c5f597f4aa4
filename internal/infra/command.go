package infra

import (
	"bytes"
	"fmt"
	"os/exec"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	// Run executes a command and waits for it to complete.
	Run(name string, args ...string) error

	// Start launches a long-running command and returns its PID.
	Start(name string, args ...string) (int, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct{}

// Run executes a command, folding its output into the error on failure.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, bytes.TrimSpace(out))
	}
	return nil
}

// Start launches the command and reaps it in the background.
func (r *RealCommandRunner) Start(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}
