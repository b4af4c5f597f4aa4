// Package script runs worker bundles written in JavaScript on goja.
//
// A bundle defines a global entrypoint(token) function and talks to the
// supervisor through the service global:
//
//	service.invoke(method, args)  synchronous call, returns the result value
//	service.on(event, fn)         subscribe to onReceiveData, foreground, background
//	service.isForeground()
//
// console.* and setTimeout/setInterval/clearTimeout/clearInterval are provided.
package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Factory compiles the bundle once and creates engines from it.
type Factory struct {
	path   string
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	program *goja.Program
}

// NewFactory creates a factory for the bundle at path.
func NewFactory(path string, clk clock.Clock, logger *zap.Logger) *Factory {
	return &Factory{
		path:   path,
		clock:  clk,
		logger: logger.Named("script"),
	}
}

// Initialize compiles the bundle. A missing bundle is reported as
// domain.ErrRuntimeNotReady; a bundle that does not compile is a hard error.
func (f *Factory) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.program != nil {
		return nil
	}

	src, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: bundle %s: %v", domain.ErrRuntimeNotReady, f.path, err)
		}
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	program, err := goja.Compile(f.path, string(src), false)
	if err != nil {
		return fmt.Errorf("failed to compile bundle %s: %w", f.path, err)
	}
	f.program = program
	f.logger.Info("bundle compiled", zap.String("path", f.path), zap.Int("bytes", len(src)))
	return nil
}

// NewEngine creates an engine in foreground or background mode.
func (f *Factory) NewEngine(foreground bool) (domain.Engine, error) {
	f.mu.Lock()
	program := f.program
	f.mu.Unlock()
	if program == nil {
		return nil, fmt.Errorf("%w: bundle not compiled", domain.ErrRuntimeNotReady)
	}
	return newEngine(program, foreground, f.clock, f.logger), nil
}

var _ domain.EngineFactory = (*Factory)(nil)
