package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// DefaultStopGrace is how long Destroy waits after SIGTERM before killing.
const DefaultStopGrace = 3 * time.Second

// Factory starts worker binaries found at a fixed path.
type Factory struct {
	path      string
	pm        domain.ProcessManager
	clock     clock.Clock
	logger    *zap.Logger
	stopGrace time.Duration

	mu    sync.Mutex
	ready bool
}

// NewFactory creates a factory for the worker binary at path.
func NewFactory(path string, pm domain.ProcessManager, clk clock.Clock, logger *zap.Logger) *Factory {
	return &Factory{
		path:      path,
		pm:        pm,
		clock:     clk,
		logger:    logger.Named("process"),
		stopGrace: DefaultStopGrace,
	}
}

// SetStopGrace overrides the SIGTERM to SIGKILL delay.
func (f *Factory) SetStopGrace(d time.Duration) {
	f.stopGrace = d
}

// Initialize checks that the worker binary exists and is executable.
func (f *Factory) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready {
		return nil
	}

	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: worker %s: %v", domain.ErrRuntimeNotReady, f.path, err)
		}
		return fmt.Errorf("failed to stat worker: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("worker path %s is a directory", f.path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: worker %s is not executable", domain.ErrRuntimeNotReady, f.path)
	}

	f.ready = true
	f.logger.Info("worker binary found", zap.String("path", f.path))
	return nil
}

// NewEngine creates an engine in foreground or background mode.
func (f *Factory) NewEngine(foreground bool) (domain.Engine, error) {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("%w: worker not initialized", domain.ErrRuntimeNotReady)
	}
	return newEngine(f.path, foreground, f.pm, f.clock, f.stopGrace, f.logger), nil
}

var _ domain.EngineFactory = (*Factory)(nil)
