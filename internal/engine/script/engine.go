package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Worker events besides incoming methods.
const (
	EventForeground = "foreground"
	EventBackground = "background"
)

// minInterval keeps a zero-delay setInterval from spinning the loop.
const minInterval = time.Millisecond

// Engine is one goja runtime. The runtime is only touched by the loop
// goroutine started in Execute; everything else reaches it through the
// job queue.
type Engine struct {
	program *goja.Program
	clock   clock.Clock
	logger  *zap.Logger
	console *zap.Logger
	vm      *goja.Runtime

	mu      sync.Mutex
	queue   []func()
	handler domain.MethodCallHandler
	started bool
	closed  bool

	wake      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	executing  atomic.Bool
	foreground atomic.Bool

	// Loop-owned.
	listeners map[string][]goja.Callable
	timers    map[int64]*jsTimer
	nextTimer int64
}

type jsTimer struct {
	id       int64
	fn       goja.Callable
	args     []goja.Value
	delay    time.Duration
	interval bool
	timer    *clock.Timer
}

func newEngine(program *goja.Program, foreground bool, clk clock.Clock, logger *zap.Logger) *Engine {
	e := &Engine{
		program:   program,
		clock:     clk,
		logger:    logger,
		console:   logger.Named("worker"),
		vm:        goja.New(),
		wake:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[string][]goja.Callable),
		timers:    make(map[int64]*jsTimer),
	}
	e.foreground.Store(foreground)
	e.setupGlobals()
	return e
}

// SetCallHandler registers the receiver of service.invoke calls.
func (e *Engine) SetCallHandler(h domain.MethodCallHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Execute evaluates the bundle and calls entrypoint(token) on the loop.
// It returns once entrypoint has been found and scheduled.
func (e *Engine) Execute(resumeToken string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrEngineClosed
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already executing")
	}
	e.started = true
	e.mu.Unlock()

	e.executing.Store(true)
	go e.run()

	ready := make(chan error, 1)
	e.enqueue(func() {
		if _, err := e.vm.RunProgram(e.program); err != nil {
			ready <- fmt.Errorf("failed to evaluate bundle: %w", err)
			return
		}
		entrypoint, ok := goja.AssertFunction(e.vm.Get("entrypoint"))
		if !ok {
			ready <- fmt.Errorf("bundle does not define entrypoint()")
			return
		}
		ready <- nil
		if _, err := entrypoint(goja.Undefined(), e.vm.ToValue(resumeToken)); err != nil {
			e.logError("entrypoint threw", err)
		}
	})

	select {
	case err := <-ready:
		return err
	case <-e.done:
		return domain.ErrEngineClosed
	}
}

// Send delivers payload to the listeners of method.
func (e *Engine) Send(method string, payload json.RawMessage) error {
	var v any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("invalid payload for %s: %w", method, err)
		}
	}
	if !e.enqueue(func() { e.emit(method, v) }) {
		return domain.ErrEngineClosed
	}
	return nil
}

// MoveToForeground notifies the worker it is now in foreground mode.
func (e *Engine) MoveToForeground() {
	e.foreground.Store(true)
	e.enqueue(func() { e.emit(EventForeground, nil) })
}

// MoveToBackground notifies the worker it is now in background mode.
func (e *Engine) MoveToBackground() {
	e.foreground.Store(false)
	e.enqueue(func() { e.emit(EventBackground, nil) })
}

// IsExecuting reports whether the loop is alive.
func (e *Engine) IsExecuting() bool {
	return e.executing.Load()
}

// Destroy interrupts running script, stops timers and waits for the loop.
func (e *Engine) Destroy() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.queue = nil
		started := e.started
		e.mu.Unlock()

		close(e.closing)
		e.vm.Interrupt("engine destroyed")
		if started {
			<-e.done
		}
		e.executing.Store(false)
	})
}

func (e *Engine) enqueue(job func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, job)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) next() (func(), bool) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, false
		}
		if len(e.queue) > 0 {
			job := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return job, true
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.closing:
		}
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.executing.Store(false)
	defer e.stopTimers()

	for {
		job, ok := e.next()
		if !ok {
			return
		}
		job()
	}
}

func (e *Engine) emit(event string, v any) {
	for _, fn := range e.listeners[event] {
		var err error
		if v == nil {
			_, err = fn(goja.Undefined())
		} else {
			_, err = fn(goja.Undefined(), e.vm.ToValue(v))
		}
		if err != nil {
			e.logError("listener threw", err, zap.String("event", event))
		}
	}
}

func (e *Engine) logError(msg string, err error, fields ...zap.Field) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return
	}
	e.logger.Error(msg, append(fields, zap.Error(err))...)
}

func (e *Engine) setupGlobals() {
	vm := e.vm
	_ = vm.Set("require", goja.Undefined())

	service := vm.NewObject()
	_ = service.Set("invoke", e.jsInvoke)
	_ = service.Set("on", e.jsOn)
	_ = service.Set("isForeground", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(e.foreground.Load())
	})
	_ = vm.Set("service", service)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, e.makeConsoleFunc(level))
	}
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return e.setTimer(call, false) })
	_ = vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return e.setTimer(call, true) })
	_ = vm.Set("clearTimeout", e.clearTimer)
	_ = vm.Set("clearInterval", e.clearTimer)
}

// jsInvoke implements service.invoke(method, args). It blocks the loop until
// the supervisor answers or the engine is destroyed.
func (e *Engine) jsInvoke(call goja.FunctionCall) goja.Value {
	method := call.Argument(0).String()

	var args json.RawMessage
	if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
		raw, err := json.Marshal(a.Export())
		if err != nil {
			panic(e.vm.NewTypeError("service.invoke: arguments are not serializable: %v", err))
		}
		args = raw
	}

	res, err := e.callHandler(method, args)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	if err := res.Err(); err != nil {
		panic(e.vm.NewGoError(fmt.Errorf("%s: %w", method, err)))
	}
	return e.vm.ToValue(res.Value)
}

func (e *Engine) callHandler(method string, args json.RawMessage) (domain.Result, error) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return domain.NotImplemented(), nil
	}

	reply := make(chan domain.Result, 1)
	go func() { reply <- h.HandleMethodCall(method, args) }()
	select {
	case res := <-reply:
		return res, nil
	case <-e.closing:
		return domain.Result{}, domain.ErrEngineClosed
	}
}

func (e *Engine) jsOn(call goja.FunctionCall) goja.Value {
	event := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(e.vm.NewTypeError("service.on: listener for %q is not a function", event))
	}
	e.listeners[event] = append(e.listeners[event], fn)
	return goja.Undefined()
}

func (e *Engine) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")
		switch level {
		case "error":
			e.console.Error(msg)
		case "warn":
			e.console.Warn(msg)
		case "debug":
			e.console.Debug(msg)
		default:
			e.console.Info(msg)
		}
		return goja.Undefined()
	}
}

func (e *Engine) setTimer(call goja.FunctionCall, interval bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("timer callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if interval && delay < minInterval {
		delay = minInterval
	}

	e.nextTimer++
	t := &jsTimer{id: e.nextTimer, fn: fn, delay: delay, interval: interval}
	if len(call.Arguments) > 2 {
		t.args = append([]goja.Value(nil), call.Arguments[2:]...)
	}
	e.timers[t.id] = t
	e.arm(t)
	return e.vm.ToValue(t.id)
}

func (e *Engine) arm(t *jsTimer) {
	id := t.id
	t.timer = e.clock.AfterFunc(t.delay, func() {
		e.enqueue(func() { e.fireTimer(id) })
	})
}

func (e *Engine) fireTimer(id int64) {
	t, ok := e.timers[id]
	if !ok {
		return
	}
	if !t.interval {
		delete(e.timers, id)
	}
	if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
		e.logError("timer callback threw", err)
	}
	if _, still := e.timers[id]; still && t.interval {
		e.arm(t)
	}
}

func (e *Engine) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := e.timers[id]; ok {
		t.timer.Stop()
		delete(e.timers, id)
	}
	return goja.Undefined()
}

func (e *Engine) stopTimers() {
	for id, t := range e.timers {
		t.timer.Stop()
		delete(e.timers, id)
	}
}

var _ domain.Engine = (*Engine)(nil)
