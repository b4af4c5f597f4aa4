package supervisor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

// WatchdogScheduler keeps at most one pending restart. Enqueue replaces
// the pending restart; only the most recent one can fire. The due time is
// persisted so a guardian process can deliver the restart if this process
// is gone by then.
//
// fire receives the generation of the restart that came due. Callers that
// hand the restart to another goroutine confirm it with IsCurrent there: a
// Cancel or Enqueue in between makes it stale.
type WatchdogScheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	settings *settings.Settings
	fire     func(gen uint64)
	logger   *zap.Logger

	timer  *clock.Timer
	gen    uint64
	dueAt  time.Time
	closed bool
}

// NewWatchdogScheduler creates a scheduler that calls fire when a restart is due.
func NewWatchdogScheduler(clk clock.Clock, st *settings.Settings, fire func(gen uint64), logger *zap.Logger) *WatchdogScheduler {
	return &WatchdogScheduler{
		clock:    clk,
		settings: st,
		fire:     fire,
		logger:   logger.Named("watchdog"),
	}
}

// Enqueue replaces any pending restart with one firing after delay.
func (w *WatchdogScheduler) Enqueue(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.stopLocked()
	w.gen++
	gen := w.gen
	w.dueAt = w.clock.Now().Add(delay)
	w.timer = w.clock.AfterFunc(delay, func() { w.onTimer(gen) })

	if err := w.settings.SetWatchdogDueAt(w.dueAt); err != nil {
		w.logger.Warn("failed to persist restart alarm", zap.Error(err))
	}
	w.logger.Debug("restart scheduled", zap.Duration("delay", delay), zap.Time("due_at", w.dueAt))
}

// Cancel removes any pending restart, including the persisted alarm.
func (w *WatchdogScheduler) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.gen++
	if err := w.settings.ClearWatchdogDueAt(); err != nil {
		w.logger.Warn("failed to clear restart alarm", zap.Error(err))
	}
}

// Pending returns the due time of the pending restart, if any.
func (w *WatchdogScheduler) Pending() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return time.Time{}, false
	}
	return w.dueAt, true
}

// IsCurrent reports whether no Enqueue, Cancel or Close happened since the
// restart of generation gen was scheduled.
func (w *WatchdogScheduler) IsCurrent(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.gen
}

// Close stops the in-process timer but leaves the persisted alarm for the
// guardian. Later Enqueue calls are ignored.
func (w *WatchdogScheduler) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.closed = true
}

func (w *WatchdogScheduler) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *WatchdogScheduler) onTimer(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	if err := w.settings.ClearWatchdogDueAt(); err != nil {
		w.logger.Warn("failed to clear restart alarm", zap.Error(err))
	}
	w.mu.Unlock()

	w.logger.Info("watchdog restart firing")
	w.fire(gen)
}
