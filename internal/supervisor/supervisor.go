// Package supervisor keeps one background worker alive and relays messages
// between it and attached clients.
//
// All lifecycle transitions and worker method calls run on a single control
// loop goroutine (Run). Public methods marshal onto that loop; the listener
// registry is the only state touched from other goroutines.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/metrics"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

// Config holds supervisor timing and boot agent settings.
type Config struct {
	RestartDelay     time.Duration // watchdog delay after start and after an abnormal destroy
	TaskRemovedDelay time.Duration // watchdog delay after the host task is removed
	ExecPath         string        // binary the boot agent launches; empty disables agent management
	TapAction        string        // action attached to the notification
}

// DefaultConfig returns default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		RestartDelay:     5 * time.Second,
		TaskRemovedDelay: time.Second,
	}
}

// Supervisor is the background service state machine.
type Supervisor struct {
	config    Config
	settings  *settings.Settings
	session   *WorkerSession
	listeners *ListenerRegistry
	presenter *NotificationPresenter
	watchdog  *WatchdogScheduler
	bootAgent domain.BootAgentManager
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// Owned by the loop goroutine.
	state           domain.SupervisorState
	manuallyStopped bool
	deferred        []func()

	tasks          chan func()
	quit           chan struct{}
	quitOnce       sync.Once
	manualStop     chan struct{}
	manualStopOnce sync.Once
}

// New creates a stopped supervisor. bootAgent may be nil.
func New(
	config Config,
	st *settings.Settings,
	factory domain.EngineFactory,
	notifier domain.Notifier,
	newWakeLock func() domain.WakeLock,
	bootAgent domain.BootAgentManager,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Supervisor {
	logger = logger.Named("supervisor")
	presenter := NewNotificationPresenter(notifier, st, config.TapAction, logger)
	s := &Supervisor{
		config:     config,
		settings:   st,
		listeners:  NewListenerRegistry(),
		presenter:  presenter,
		session:    NewWorkerSession(factory, NewWakeLockArbiter(newWakeLock), presenter, logger),
		bootAgent:  bootAgent,
		metrics:    m,
		logger:     logger,
		state:      domain.StateStopped,
		tasks:      make(chan func(), 64),
		quit:       make(chan struct{}),
		manualStop: make(chan struct{}),
	}
	s.watchdog = NewWatchdogScheduler(clk, st, func(gen uint64) { s.post(func() { s.onWatchdog(gen) }) }, logger)
	m.SetState(s.state)
	return s
}

// Run processes lifecycle events until ctx is canceled. On exit the worker
// is torn down and the in-process watchdog timer is stopped; a persisted
// restart alarm is left in place.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor loop started")
	defer func() {
		s.watchdog.Close()
		s.session.Teardown()
		s.quitOnce.Do(func() { close(s.quit) })
		s.logger.Info("supervisor loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.tasks:
			fn()
			for len(s.deferred) > 0 {
				next := s.deferred[0]
				s.deferred = s.deferred[1:]
				next()
			}
		}
	}
}

// ManualStop is closed once a deliberate stop has torn the worker down.
func (s *Supervisor) ManualStop() <-chan struct{} {
	return s.manualStop
}

// do runs fn on the loop and waits for it.
func (s *Supervisor) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.tasks <- func() { fn(); close(done) }:
	case <-s.quit:
		return domain.ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return domain.ErrNotRunning
	}
}

// post queues fn on the loop without waiting for it to run.
func (s *Supervisor) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.quit:
	}
}

// later runs fn on the loop right after the current task. Loop only.
func (s *Supervisor) later(fn func()) {
	s.deferred = append(s.deferred, fn)
}

func (s *Supervisor) setState(state domain.SupervisorState) {
	if s.state == state {
		return
	}
	s.logger.Info("state transition",
		zap.String("from", s.state.String()),
		zap.String("to", state.String()))
	s.state = state
	s.metrics.SetState(state)
}

// OnStart handles a start-event: clears the manual-stop flag, arms the
// watchdog and boots the worker unless it is already running.
func (s *Supervisor) OnStart() error {
	return s.do(s.onStart)
}

// OnTaskRemoved schedules a short-delay restart while the worker runs.
func (s *Supervisor) OnTaskRemoved() error {
	return s.do(s.onTaskRemoved)
}

// OnDestroy handles process teardown. It reports whether a restart was
// scheduled, which is the case unless the service was stopped deliberately.
func (s *Supervisor) OnDestroy() (restartScheduled bool, err error) {
	err = s.do(func() { restartScheduled = s.onDestroy() })
	return restartScheduled, err
}

// RequestStop performs a deliberate stop, as if the worker called stopService.
func (s *Supervisor) RequestStop() error {
	return s.do(s.stopService)
}

// Bind attaches a client.
func (s *Supervisor) Bind(id domain.ClientID, handle domain.ClientHandle) {
	s.listeners.Bind(id, handle)
	s.metrics.ClientsAttached.Set(float64(s.listeners.Len()))
	s.logger.Info("client bound", zap.String("client_id", string(id)))
}

// Unbind detaches a client. No delivery reaches id after Unbind returns.
func (s *Supervisor) Unbind(id domain.ClientID) {
	if s.listeners.Unbind(id) {
		s.logger.Info("client unbound", zap.String("client_id", string(id)))
	}
	s.metrics.ClientsAttached.Set(float64(s.listeners.Len()))
}

// Invoke relays a client payload to the worker as onReceiveData. The
// payload must be a JSON object. It is dropped when no worker is live.
func (s *Supervisor) Invoke(id domain.ClientID, payload json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		s.logger.Warn("dropping malformed client payload", zap.String("client_id", string(id)), zap.Error(err))
		return fmt.Errorf("payload must be a JSON object")
	}
	data := append(json.RawMessage(nil), payload...)
	s.post(func() {
		if !s.session.Send(domain.MethodReceiveData, data) {
			s.logger.Debug("no live worker, client payload dropped", zap.String("client_id", string(id)))
		}
	})
	return nil
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() (domain.StatusReport, error) {
	var report domain.StatusReport
	err := s.do(func() {
		report = domain.StatusReport{
			State:        s.state.String(),
			Foreground:   s.settings.IsForeground(),
			AutoStart:    s.settings.IsAutoStartOnBoot(),
			Clients:      s.listeners.Len(),
			Notification: s.presenter.Descriptor(),
		}
		if due, ok := s.watchdog.Pending(); ok {
			report.Restart = &due
		}
	})
	return report, err
}

func (s *Supervisor) onStart() {
	s.manuallyStopped = false
	if err := s.settings.SetManuallyStopped(false); err != nil {
		s.logger.Warn("failed to clear manual-stop flag", zap.Error(err))
	}
	s.scheduleRestart(s.config.RestartDelay, "start")
	s.runService()
}

// onWatchdog delivers a due restart unless a stop or a newer schedule
// superseded it while it waited in the queue.
func (s *Supervisor) onWatchdog(gen uint64) {
	if !s.watchdog.IsCurrent(gen) || s.manuallyStopped {
		s.logger.Debug("stale watchdog restart dropped", zap.Uint64("generation", gen))
		return
	}
	s.onStart()
}

func (s *Supervisor) runService() {
	if s.session.Running() {
		s.logger.Debug("worker already running, start ignored")
		return
	}
	if s.session.Live() {
		s.logger.Warn("worker session no longer executing, tearing down before reboot")
		s.session.Teardown()
	}

	s.setState(domain.StateStarting)
	err := s.session.Boot(s.settings.ResumeToken(), s.settings.IsForeground(), s.handlerFor)
	if err != nil {
		reason := "error"
		if errors.Is(err, domain.ErrRuntimeNotReady) {
			reason = "runtime_not_ready"
			s.logger.Warn("worker runtime not ready, waiting for next start", zap.Error(err))
		} else {
			s.logger.Error("failed to boot worker", zap.Error(err))
		}
		s.metrics.BootFailures.WithLabelValues(reason).Inc()
		s.setState(domain.StateStopped)
		return
	}
	s.metrics.Boots.Inc()
	s.setState(domain.StateRunning)
}

func (s *Supervisor) onTaskRemoved() {
	if !s.session.Running() {
		return
	}
	s.scheduleRestart(s.config.TaskRemovedDelay, "task_removed")
}

func (s *Supervisor) onDestroy() bool {
	restart := !s.manuallyStopped
	if restart {
		s.scheduleRestart(s.config.RestartDelay, "destroy")
		s.setState(domain.StateCrashedPendingRestart)
	} else if err := s.settings.SetManuallyStopped(true); err != nil {
		s.logger.Warn("failed to persist manual-stop flag", zap.Error(err))
	}
	s.release()
	if !restart {
		s.setState(domain.StateStopped)
	}
	return restart
}

func (s *Supervisor) stopService() {
	s.manuallyStopped = true
	if err := s.settings.SetManuallyStopped(true); err != nil {
		s.logger.Warn("failed to persist manual-stop flag", zap.Error(err))
	}
	s.watchdog.Cancel()
	if s.state == domain.StateRunning || s.state == domain.StateStarting {
		s.setState(domain.StateManuallyStopping)
	}

	report := s.listeners.BroadcastStop()
	s.recordBroadcast("stop", report)

	// Teardown runs after the current worker call has returned its result.
	s.later(func() {
		s.release()
		s.setState(domain.StateStopped)
		s.manualStopOnce.Do(func() { close(s.manualStop) })
	})
}

// release hides the notification and tears down the worker session.
func (s *Supervisor) release() {
	if err := s.presenter.Hide(); err != nil {
		s.logger.Warn("failed to hide notification", zap.Error(err))
	}
	s.session.Teardown()
}

func (s *Supervisor) scheduleRestart(delay time.Duration, reason string) {
	s.watchdog.Enqueue(delay)
	s.metrics.Restarts.WithLabelValues(reason).Inc()
}

func (s *Supervisor) recordBroadcast(kind string, report BroadcastReport) {
	s.metrics.Deliveries.WithLabelValues(kind, "ok").Add(float64(report.Delivered))
	s.metrics.Deliveries.WithLabelValues(kind, "failed").Add(float64(report.Attempted - report.Delivered))
	if report.Err != nil {
		s.logger.Warn("broadcast had failures",
			zap.String("kind", kind),
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Error(report.Err))
	}
}
