package supervisor

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// errorCodeStaleWorker is returned to calls from an engine that has been torn down.
const errorCodeStaleWorker = "stale-worker"

// boundHandler receives calls from one engine generation.
type boundHandler struct {
	s   *Supervisor
	gen uint64
}

func (s *Supervisor) handlerFor(gen uint64) domain.MethodCallHandler {
	return boundHandler{s: s, gen: gen}
}

// HandleMethodCall runs on the engine's goroutine. The call is decoded here
// and dispatched on the supervisor loop.
func (h boundHandler) HandleMethodCall(method string, args json.RawMessage) domain.Result {
	call, err := domain.DecodeWorkerCall(method, args)
	if err != nil {
		h.s.logger.Warn("dropping malformed worker call", zap.String("method", method), zap.Error(err))
		h.s.metrics.WorkerCalls.WithLabelValues(methodLabel(method, nil), "malformed").Inc()
		return domain.NotImplemented()
	}

	var res domain.Result
	if err := h.s.do(func() { res = h.s.dispatch(call, h.gen) }); err != nil {
		return domain.Failure("service-unavailable", err.Error())
	}
	h.s.metrics.WorkerCalls.WithLabelValues(methodLabel(method, call), string(res.Status)).Inc()
	return res
}

// methodLabel keeps metric cardinality bounded for unknown method names.
func methodLabel(method string, call domain.WorkerCall) string {
	if call == nil {
		return method
	}
	if _, ok := call.(domain.UnknownCall); ok {
		return "unknown"
	}
	return call.Method()
}

// dispatch executes one worker call on the loop.
func (s *Supervisor) dispatch(call domain.WorkerCall, gen uint64) domain.Result {
	if !s.session.Live() || gen != s.session.Generation() {
		return domain.Failure(errorCodeStaleWorker, "worker session is no longer live")
	}

	switch c := call.(type) {
	case domain.SetNotificationInfoCall:
		return s.setNotificationInfo(c)
	case domain.SetAutoStartOnBootModeCall:
		return s.setAutoStartOnBootMode(c)
	case domain.SetForegroundModeCall:
		return s.setForegroundMode(c)
	case domain.IsForegroundModeCall:
		return domain.Success(s.settings.IsForeground())
	case domain.StopServiceCall:
		s.stopService()
		return domain.Success(true)
	case domain.SendDataCall:
		return s.sendData(c)
	case domain.UnknownCall:
		s.logger.Debug("worker called unknown method", zap.String("method", c.Name))
		return domain.NotImplemented()
	default:
		return domain.NotImplemented()
	}
}

func (s *Supervisor) setNotificationInfo(c domain.SetNotificationInfoCall) domain.Result {
	if !c.HasTitle {
		return domain.Success(false)
	}
	if err := s.presenter.Update(c.Title, c.Content); err != nil {
		s.logger.Warn("failed to publish notification", zap.Error(err))
	}
	return domain.Success(true)
}

func (s *Supervisor) setAutoStartOnBootMode(c domain.SetAutoStartOnBootModeCall) domain.Result {
	if err := s.settings.SetAutoStartOnBoot(c.Value); err != nil {
		s.logger.Error("failed to persist auto-start flag", zap.Error(err))
		return domain.Success(false)
	}
	s.syncBootAgent(c.Value)
	return domain.Success(true)
}

// syncBootAgent installs or removes the boot agent to match the auto-start flag.
func (s *Supervisor) syncBootAgent(enabled bool) {
	if s.bootAgent == nil || s.config.ExecPath == "" {
		return
	}
	var err error
	switch {
	case enabled && (!s.bootAgent.IsInstalled() || s.bootAgent.NeedsUpdate(s.config.ExecPath)):
		err = s.bootAgent.Install(s.config.ExecPath)
	case !enabled && s.bootAgent.IsInstalled():
		err = s.bootAgent.Uninstall()
	}
	if err != nil {
		s.logger.Warn("failed to update boot agent",
			zap.Bool("enabled", enabled),
			zap.String("path", s.bootAgent.Path()),
			zap.Error(err))
	}
}

func (s *Supervisor) setForegroundMode(c domain.SetForegroundModeCall) domain.Result {
	if err := s.settings.SetIsForeground(c.Value); err != nil {
		s.logger.Error("failed to persist foreground flag", zap.Error(err))
		return domain.Success(false)
	}
	engine := s.session.Engine()
	if c.Value {
		if err := s.presenter.Refresh(); err != nil {
			s.logger.Warn("failed to publish notification", zap.Error(err))
		}
		engine.MoveToForeground()
	} else {
		if err := s.presenter.Hide(); err != nil {
			s.logger.Warn("failed to hide notification", zap.Error(err))
		}
		engine.MoveToBackground()
	}
	return domain.Success(true)
}

func (s *Supervisor) sendData(c domain.SendDataCall) domain.Result {
	if !json.Valid(c.Payload) {
		return domain.Failure(domain.ErrorCodeSendData, "payload is not valid JSON")
	}
	report := s.listeners.BroadcastInvoke(c.Payload)
	s.recordBroadcast("invoke", report)
	if report.AllFailed() {
		return domain.Failure(domain.ErrorCodeSendData, report.Err.Error())
	}
	return domain.Success(true)
}
