package process

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const maxFrameSize = 1 << 20

// Engine is one worker child process.
type Engine struct {
	path      string
	pm        domain.ProcessManager
	clock     clock.Clock
	stopGrace time.Duration
	logger    *zap.Logger
	console   *zap.Logger

	foreground atomic.Bool

	mu      sync.Mutex
	handler domain.MethodCallHandler
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pid     int
	started bool
	closed  bool

	writeMu sync.Mutex
	enc     *json.Encoder

	closing   chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	calls     sync.WaitGroup
}

func newEngine(path string, foreground bool, pm domain.ProcessManager, clk clock.Clock, grace time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{
		path:      path,
		pm:        pm,
		clock:     clk,
		stopGrace: grace,
		logger:    logger,
		console:   logger.Named("worker"),
		closing:   make(chan struct{}),
		exited:    make(chan struct{}),
	}
	e.foreground.Store(foreground)
	return e
}

// SetCallHandler registers the receiver of call frames.
func (e *Engine) SetCallHandler(h domain.MethodCallHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Execute starts the worker with the resume token. It returns once the
// process has been started.
func (e *Engine) Execute(resumeToken string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrEngineClosed
	}
	if e.started {
		return fmt.Errorf("engine already executing")
	}

	cmd := exec.Command(e.path, resumeToken)
	cmd.Env = append(os.Environ(), EnvForeground+"="+modeFlag(e.foreground.Load()))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.enc = json.NewEncoder(stdin)
	e.pid = cmd.Process.Pid
	e.started = true

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		e.readFrames(stdout)
	}()
	go func() {
		defer readers.Done()
		e.forwardStderr(stderr)
	}()
	go func() {
		readers.Wait()
		e.reap(cmd.Wait())
	}()

	e.logger.Info("worker started", zap.Int("pid", e.pid), zap.String("path", e.path))
	return nil
}

// Send writes an invoke frame for method.
func (e *Engine) Send(method string, payload json.RawMessage) error {
	return e.write(Frame{Type: FrameInvoke, Method: method, Args: payload})
}

// MoveToForeground notifies the worker it is now in foreground mode.
func (e *Engine) MoveToForeground() {
	e.foreground.Store(true)
	e.notifyMode(MethodForeground)
}

// MoveToBackground notifies the worker it is now in background mode.
func (e *Engine) MoveToBackground() {
	e.foreground.Store(false)
	e.notifyMode(MethodBackground)
}

// IsExecuting reports whether the child process is alive.
func (e *Engine) IsExecuting() bool {
	e.mu.Lock()
	started, pid := e.started, e.pid
	e.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-e.exited:
		return false
	default:
	}
	return e.pm.IsRunning(pid)
}

// Destroy closes the worker's stdin, sends SIGTERM and kills the process if
// it has not exited after the grace period.
func (e *Engine) Destroy() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		started, stdin, cmd, pid := e.started, e.stdin, e.cmd, e.pid
		e.mu.Unlock()

		close(e.closing)
		if !started {
			return
		}

		_ = stdin.Close()
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			e.logger.Debug("failed to signal worker", zap.Int("pid", pid), zap.Error(err))
		}

		select {
		case <-e.exited:
		case <-e.clock.After(e.stopGrace):
			e.logger.Warn("worker ignored SIGTERM, killing", zap.Int("pid", pid))
			if err := e.pm.Kill(pid); err != nil {
				e.logger.Error("failed to kill worker", zap.Int("pid", pid), zap.Error(err))
			}
			<-e.exited
		}
		e.calls.Wait()
	})
}

func (e *Engine) notifyMode(method string) {
	if err := e.write(Frame{Type: FrameInvoke, Method: method}); err != nil {
		e.logger.Debug("mode change not delivered", zap.String("method", method), zap.Error(err))
	}
}

func (e *Engine) write(f Frame) error {
	e.mu.Lock()
	closed, enc := e.closed, e.enc
	e.mu.Unlock()
	if closed {
		return domain.ErrEngineClosed
	}
	if enc == nil {
		return fmt.Errorf("worker not started")
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.Type, err)
	}
	return nil
}

func (e *Engine) readFrames(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			e.logger.Warn("dropping malformed frame", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		if f.Type != FrameCall {
			e.logger.Warn("dropping unexpected frame", zap.String("type", f.Type))
			continue
		}
		e.calls.Add(1)
		go e.handleCall(f)
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("worker stdout closed", zap.Error(err))
	}
}

func (e *Engine) handleCall(f Frame) {
	defer e.calls.Done()

	res, ok := e.callHandler(f.Method, f.Args)
	if !ok {
		return
	}
	reply, err := ResultFrame(f.ID, res)
	if err != nil {
		e.logger.Error("failed to encode result", zap.String("method", f.Method), zap.Error(err))
		reply = Frame{Type: FrameResult, ID: f.ID, Status: domain.ResultError, Code: "encode", Message: err.Error()}
	}
	if err := e.write(reply); err != nil {
		e.logger.Debug("result not delivered", zap.String("method", f.Method), zap.Error(err))
	}
}

func (e *Engine) callHandler(method string, args json.RawMessage) (domain.Result, bool) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return domain.NotImplemented(), true
	}

	reply := make(chan domain.Result, 1)
	go func() { reply <- h.HandleMethodCall(method, args) }()
	select {
	case res := <-reply:
		return res, true
	case <-e.closing:
		return domain.Result{}, false
	}
}

func (e *Engine) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e.console.Info(scanner.Text())
	}
}

func (e *Engine) reap(err error) {
	select {
	case <-e.closing:
		e.logger.Info("worker stopped", zap.Int("pid", e.pid))
	default:
		if err != nil {
			e.logger.Warn("worker exited", zap.Int("pid", e.pid), zap.Error(err))
		} else {
			e.logger.Info("worker exited", zap.Int("pid", e.pid))
		}
	}
	close(e.exited)
}

func modeFlag(foreground bool) string {
	if foreground {
		return "1"
	}
	return "0"
}

var _ domain.Engine = (*Engine)(nil)
