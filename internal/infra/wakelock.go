package infra

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// InhibitorWakeLock keeps the machine awake by running a sleep inhibitor
// tied to the host PID: caffeinate on darwin, systemd-inhibit on linux.
// The inhibitor exits on its own when the host dies.
type InhibitorWakeLock struct {
	mu     sync.Mutex
	goos   string
	cmd    CommandRunner
	pm     domain.ProcessManager
	logger *zap.Logger

	count int
	pid   int
}

// NewInhibitorWakeLock creates a wake lock for the given platform.
func NewInhibitorWakeLock(goos string, pm domain.ProcessManager, logger *zap.Logger) *InhibitorWakeLock {
	return &InhibitorWakeLock{
		goos:   goos,
		cmd:    &RealCommandRunner{},
		pm:     pm,
		logger: logger.Named("wakelock"),
	}
}

// Acquire increments the reference count and starts the inhibitor if it
// is not running.
func (w *InhibitorWakeLock) Acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 || (w.pid != 0 && !w.pm.IsRunning(w.pid)) {
		pid, err := w.startInhibitor()
		if err != nil {
			return err
		}
		w.pid = pid
	}
	w.count++
	return nil
}

// Release decrements the reference count and stops the inhibitor at zero.
func (w *InhibitorWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return nil
	}
	w.count--
	if w.count > 0 || w.pid == 0 {
		return nil
	}
	pid := w.pid
	w.pid = 0
	if !w.pm.IsRunning(pid) {
		return nil
	}
	return w.pm.Kill(pid)
}

// Held reports whether at least one reference is outstanding.
func (w *InhibitorWakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count > 0
}

func (w *InhibitorWakeLock) startInhibitor() (int, error) {
	host := strconv.Itoa(w.pm.GetCurrentPID())

	var pid int
	var err error
	switch w.goos {
	case "darwin":
		pid, err = w.cmd.Start("caffeinate", "-i", "-w", host)
	case "linux":
		pid, err = w.cmd.Start("systemd-inhibit",
			"--what=sleep:idle", "--who=bgsvc", "--why=background worker running", "--mode=block",
			"tail", "--pid="+host, "-f", "/dev/null")
	default:
		w.logger.Warn("no sleep inhibitor on this platform", zap.String("goos", w.goos))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	w.logger.Info("sleep inhibitor started", zap.Int("pid", pid))
	return pid, nil
}

var _ domain.WakeLock = (*InhibitorWakeLock)(nil)
