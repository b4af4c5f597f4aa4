package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// listenerEntry guards one client handle. Deliveries hold the read lock;
// unbind takes the write lock, so it returns only after in-flight
// deliveries to that client have finished.
type listenerEntry struct {
	mu      sync.RWMutex
	id      domain.ClientID
	handle  domain.ClientHandle
	unbound bool
}

func (e *listenerEntry) deliver(fn func(domain.ClientHandle) error) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.unbound {
		return false, nil
	}
	return true, fn(e.handle)
}

func (e *listenerEntry) close() {
	e.mu.Lock()
	e.unbound = true
	e.mu.Unlock()
}

// ListenerRegistry maps client ids to handles. The map lock is held only
// while mutating or snapshotting the map, never across a client call.
type ListenerRegistry struct {
	mu      sync.Mutex
	entries map[domain.ClientID]*listenerEntry
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{entries: make(map[domain.ClientID]*listenerEntry)}
}

// Bind registers handle under id, replacing any previous handle for id.
func (r *ListenerRegistry) Bind(id domain.ClientID, handle domain.ClientHandle) {
	r.mu.Lock()
	prev := r.entries[id]
	r.entries[id] = &listenerEntry{id: id, handle: handle}
	r.mu.Unlock()

	if prev != nil {
		prev.close()
	}
}

// Unbind removes id. Once it returns, id receives no further deliveries.
// Unbinding an unknown id is a no-op.
func (r *ListenerRegistry) Unbind(id domain.ClientID) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		entry.close()
	}
	return ok
}

// Len returns the number of bound clients.
func (r *ListenerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the bound client ids in sorted order.
func (r *ListenerRegistry) IDs() []domain.ClientID {
	r.mu.Lock()
	ids := make([]domain.ClientID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *ListenerRegistry) snapshot() []*listenerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*listenerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}

// BroadcastReport summarizes one broadcast.
type BroadcastReport struct {
	Attempted int
	Delivered int
	Err       error // per-client failures joined
}

// AllFailed reports whether there were recipients and none succeeded.
func (b BroadcastReport) AllFailed() bool {
	return b.Attempted > 0 && b.Delivered == 0
}

// BroadcastInvoke delivers payload to every bound client. A failing client
// is skipped, not removed.
func (r *ListenerRegistry) BroadcastInvoke(payload json.RawMessage) BroadcastReport {
	return r.broadcast(func(h domain.ClientHandle) error { return h.Invoke(payload) })
}

// BroadcastStop tells every bound client that the service is stopping.
func (r *ListenerRegistry) BroadcastStop() BroadcastReport {
	return r.broadcast(func(h domain.ClientHandle) error { return h.Stop() })
}

func (r *ListenerRegistry) broadcast(fn func(domain.ClientHandle) error) BroadcastReport {
	var report BroadcastReport
	var errs []error
	for _, e := range r.snapshot() {
		attempted, err := e.deliver(fn)
		if !attempted {
			continue
		}
		report.Attempted++
		if err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", e.id, err))
			continue
		}
		report.Delivered++
	}
	report.Err = errors.Join(errs...)
	return report
}
