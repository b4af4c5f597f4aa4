package supervisor

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

type fakeEngine struct {
	mu         sync.Mutex
	handler    domain.MethodCallHandler
	token      string
	executing  bool
	destroyed  int
	foreground bool
	sent       []sentMessage
	executeErr error
}

type sentMessage struct {
	Method  string
	Payload json.RawMessage
}

func (e *fakeEngine) SetCallHandler(h domain.MethodCallHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *fakeEngine) Execute(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.executeErr != nil {
		return e.executeErr
	}
	e.token = token
	e.executing = true
	return nil
}

func (e *fakeEngine) Send(method string, payload json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed > 0 {
		return domain.ErrEngineClosed
	}
	e.sent = append(e.sent, sentMessage{Method: method, Payload: payload})
	return nil
}

func (e *fakeEngine) MoveToForeground() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foreground = true
}

func (e *fakeEngine) MoveToBackground() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foreground = false
}

func (e *fakeEngine) IsExecuting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executing && e.destroyed == 0
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed++
	e.executing = false
}

// call simulates the worker issuing a method call.
func (e *fakeEngine) call(method string, args any) domain.Result {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	var raw json.RawMessage
	if args != nil {
		raw, _ = json.Marshal(args)
	}
	return h.HandleMethodCall(method, raw)
}

func (e *fakeEngine) crash() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executing = false
}

func (e *fakeEngine) messages() []sentMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentMessage(nil), e.sent...)
}

func (e *fakeEngine) isForeground() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.foreground
}

func (e *fakeEngine) destroyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

type fakeFactory struct {
	mu      sync.Mutex
	initErr error
	engines []*fakeEngine
	modes   []bool
}

func (f *fakeFactory) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

func (f *fakeFactory) NewEngine(foreground bool) (domain.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{foreground: foreground}
	f.engines = append(f.engines, e)
	f.modes = append(f.modes, foreground)
	return e, nil
}

func (f *fakeFactory) setInitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	channels []string
	shown    []domain.NotificationDescriptor
	active   map[int]domain.NotificationDescriptor
	showErr  error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{active: make(map[int]domain.NotificationDescriptor)}
}

func (n *fakeNotifier) CreateChannel(id, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, id)
	return nil
}

func (n *fakeNotifier) Show(desc domain.NotificationDescriptor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.showErr != nil {
		return n.showErr
	}
	n.shown = append(n.shown, desc)
	n.active[desc.NotificationID] = desc
	return nil
}

func (n *fakeNotifier) Cancel(id int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.active, id)
	return nil
}

func (n *fakeNotifier) current(id int) (domain.NotificationDescriptor, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.active[id]
	return d, ok
}

func (n *fakeNotifier) channelsCreated() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.channels...)
}

type fakeWakeLock struct {
	mu       sync.Mutex
	acquires int
	held     bool
}

func (w *fakeWakeLock) Acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acquires++
	w.held = true
	return nil
}

func (w *fakeWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held = false
	return nil
}

func (w *fakeWakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

func (w *fakeWakeLock) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquires
}

type fakeClient struct {
	mu       sync.Mutex
	received []json.RawMessage
	stops    int
	fail     bool
}

func (c *fakeClient) Invoke(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrClientGone
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrClientGone
	}
	c.stops++
	return nil
}

func (c *fakeClient) payloads() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.received...)
}

func (c *fakeClient) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type fakeBootAgent struct {
	installed bool
	installs  int
	uninstall int
	err       error
}

func (a *fakeBootAgent) Install(string) error {
	if a.err != nil {
		return a.err
	}
	a.installed = true
	a.installs++
	return nil
}

func (a *fakeBootAgent) Uninstall() error {
	a.installed = false
	a.uninstall++
	return nil
}

func (a *fakeBootAgent) IsInstalled() bool       { return a.installed }
func (a *fakeBootAgent) NeedsUpdate(string) bool { return false }
func (a *fakeBootAgent) Path() string            { return "/tmp/agent" }

var errBoom = errors.New("boom")
