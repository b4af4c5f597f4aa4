package supervisor

import (
	"sync"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// WakeLockArbiter owns the process-wide wake lock. The lock is created on
// first use and acquired at most once; it is never released per session and
// goes away with the process.
type WakeLockArbiter struct {
	mu      sync.Mutex
	newLock func() domain.WakeLock
	lock    domain.WakeLock
}

// NewWakeLockArbiter creates an arbiter that builds its lock with newLock.
func NewWakeLockArbiter(newLock func() domain.WakeLock) *WakeLockArbiter {
	return &WakeLockArbiter{newLock: newLock}
}

// Acquire creates the lock if needed and acquires it unless already held.
func (a *WakeLockArbiter) Acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lock == nil {
		a.lock = a.newLock()
	}
	if a.lock.Held() {
		return nil
	}
	return a.lock.Acquire()
}

// Held reports whether the lock exists and is held.
func (a *WakeLockArbiter) Held() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lock != nil && a.lock.Held()
}
