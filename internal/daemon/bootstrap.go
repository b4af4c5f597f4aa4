package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Launcher starts a detached daemon for role and returns its PID.
type Launcher interface {
	Launch(role domain.DaemonRole) (int, error)
}

// Spawner self-execs the bgsvc binary as a detached daemon.
type Spawner struct {
	execPath string
	env      []string
}

// NewSpawner creates a spawner for the binary at execPath. env is appended
// to the current environment of the spawned process.
func NewSpawner(execPath string, env ...string) *Spawner {
	return &Spawner{execPath: execPath, env: env}
}

// Launch starts `bgsvc run` for the host and `bgsvc guardian` for the guardian.
func (s *Spawner) Launch(role domain.DaemonRole) (int, error) {
	args, err := roleArgs(role)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(s.execPath, args...)
	cmd.Env = append(os.Environ(), s.env...)
	// New session: the daemon survives the terminal that started it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", role, err)
	}
	// Reap the child if it exits while we are still running.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

func roleArgs(role domain.DaemonRole) ([]string, error) {
	switch role {
	case domain.RoleHost:
		return []string{"run"}, nil
	case domain.RoleGuardian:
		return []string{"guardian"}, nil
	default:
		return nil, fmt.Errorf("unknown role: %s", role)
	}
}

// LaunchBoth starts the host and then the guardian.
func LaunchBoth(l Launcher) error {
	if _, err := l.Launch(domain.RoleHost); err != nil {
		return err
	}
	if _, err := l.Launch(domain.RoleGuardian); err != nil {
		return err
	}
	return nil
}
