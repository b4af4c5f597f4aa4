package supervisor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// WorkerSession owns at most one live worker engine.
type WorkerSession struct {
	factory   domain.EngineFactory
	wakeLock  *WakeLockArbiter
	presenter *NotificationPresenter
	logger    *zap.Logger

	engine      domain.Engine
	resumeToken string
	running     bool
	generation  uint64
}

// NewWorkerSession creates an idle session.
func NewWorkerSession(factory domain.EngineFactory, wakeLock *WakeLockArbiter, presenter *NotificationPresenter, logger *zap.Logger) *WorkerSession {
	return &WorkerSession{
		factory:   factory,
		wakeLock:  wakeLock,
		presenter: presenter,
		logger:    logger.Named("session"),
	}
}

// Live reports whether an engine is attached.
func (s *WorkerSession) Live() bool {
	return s.engine != nil
}

// Running reports whether the engine is attached and still executing.
func (s *WorkerSession) Running() bool {
	return s.running && s.engine != nil && s.engine.IsExecuting()
}

// Generation identifies the current engine; it changes on every boot.
func (s *WorkerSession) Generation() uint64 {
	return s.generation
}

// Engine returns the live engine or nil.
func (s *WorkerSession) Engine() domain.Engine {
	return s.engine
}

// Boot starts a worker engine with resumeToken. handlerFor builds the call
// handler bound to the new generation. A runtime that is not ready yet is
// reported through the notification and returned as an error wrapping
// domain.ErrRuntimeNotReady; the session stays down.
func (s *WorkerSession) Boot(resumeToken string, foreground bool, handlerFor func(gen uint64) domain.MethodCallHandler) error {
	if s.Running() {
		return nil
	}

	if err := s.wakeLock.Acquire(); err != nil {
		s.logger.Warn("failed to acquire wake lock", zap.Error(err))
	}

	if foreground {
		if err := s.presenter.Refresh(); err != nil {
			s.logger.Warn("failed to publish notification", zap.Error(err))
		}
	}

	if err := s.factory.Initialize(); err != nil {
		return s.bootFailed(fmt.Errorf("failed to initialize worker runtime: %w", err))
	}

	engine, err := s.factory.NewEngine(foreground)
	if err != nil {
		return s.bootFailed(fmt.Errorf("failed to create engine: %w", err))
	}

	s.generation++
	engine.SetCallHandler(handlerFor(s.generation))
	if err := engine.Execute(resumeToken); err != nil {
		engine.Destroy()
		return s.bootFailed(fmt.Errorf("failed to execute entrypoint: %w", err))
	}

	s.engine = engine
	s.resumeToken = resumeToken
	s.running = true
	s.logger.Info("worker session booted",
		zap.String("resume_token", resumeToken),
		zap.Bool("foreground", foreground),
		zap.Uint64("generation", s.generation))
	return nil
}

func (s *WorkerSession) bootFailed(err error) error {
	if errors.Is(err, domain.ErrRuntimeNotReady) {
		s.presenter.ShowError(err)
	}
	return err
}

// Send delivers a message to the worker. It reports false when no worker
// is live; the message is dropped.
func (s *WorkerSession) Send(method string, payload []byte) bool {
	if s.engine == nil {
		return false
	}
	if err := s.engine.Send(method, payload); err != nil {
		s.logger.Warn("failed to send to worker", zap.String("method", method), zap.Error(err))
		return false
	}
	return true
}

// Teardown destroys the engine and clears the session. No-op when idle.
func (s *WorkerSession) Teardown() {
	if s.engine == nil {
		s.running = false
		return
	}
	engine := s.engine
	s.engine = nil
	s.running = false
	s.resumeToken = ""
	s.generation++
	engine.Destroy()
	s.logger.Info("worker session torn down")
}
