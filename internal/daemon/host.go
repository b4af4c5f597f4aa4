// Package daemon implements the host and guardian processes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

var (
	// ErrHostRunning is returned when another live host owns the data dir.
	ErrHostRunning = errors.New("another host is already running")

	// ErrRestartPending is returned after an abnormal destroy. The process
	// should exit non-zero so the boot agent relaunches it.
	ErrRestartPending = errors.New("host destroyed, restart pending")
)

// Service is the supervisor surface the host drives.
type Service interface {
	Run(ctx context.Context) error
	OnStart() error
	OnTaskRemoved() error
	OnDestroy() (restartScheduled bool, err error)
	ManualStop() <-chan struct{}
}

// Server is the client transport.
type Server interface {
	Serve(ctx context.Context) error
}

// HostConfig holds host timing.
type HostConfig struct {
	HeartbeatInterval    time.Duration
	PartnerCheckInterval time.Duration
	AgentCheckInterval   time.Duration
	// Boot is set when the OS boot agent launched the host.
	Boot     bool
	ExecPath string
}

// DefaultHostConfig returns default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		HeartbeatInterval:    30 * time.Second,
		PartnerCheckInterval: 60 * time.Second,
		AgentCheckInterval:   60 * time.Second,
	}
}

// Host owns the supervisor and transport for the lifetime of the process and
// maps OS signals onto supervisor events.
type Host struct {
	config    HostConfig
	svc       Service
	server    Server
	settings  *settings.Settings
	registry  domain.DaemonRegistry
	launcher  Launcher
	bootAgent domain.BootAgentManager
	clock     clock.Clock
	daemon    domain.Daemon
	logger    *zap.Logger
}

// NewHost creates the host process. bootAgent may be nil.
func NewHost(
	config HostConfig,
	svc Service,
	server Server,
	st *settings.Settings,
	registry domain.DaemonRegistry,
	launcher Launcher,
	bootAgent domain.BootAgentManager,
	clk clock.Clock,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Host {
	return &Host{
		config:    config,
		svc:       svc,
		server:    server,
		settings:  st,
		registry:  registry,
		launcher:  launcher,
		bootAgent: bootAgent,
		clock:     clk,
		daemon:    daemon,
		logger:    logger.Named("host"),
	}
}

// Run starts the service and blocks until it is stopped. A nil return means
// the process should exit zero; ErrRestartPending asks for a non-zero exit.
func (h *Host) Run(ctx context.Context, signals <-chan os.Signal) error {
	if h.config.Boot && !h.settings.IsAutoStartOnBoot() {
		h.logger.Info("auto-start on boot disabled, exiting")
		return nil
	}
	if err := h.claim(); err != nil {
		return err
	}

	h.logger.Info("host started", zap.Int("pid", h.daemon.PID), zap.Bool("boot", h.config.Boot))

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := h.svc.Run(runCtx); err != nil {
			h.logger.Error("supervisor loop failed", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		serverErr <- h.server.Serve(runCtx)
	}()
	defer func() {
		cancel()
		wg.Wait()
		h.logger.Info("host stopped")
	}()

	if err := h.svc.OnStart(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	h.ensureBootAgent()
	h.checkGuardian()

	heartbeat := h.clock.Ticker(h.config.HeartbeatInterval)
	partnerCheck := h.clock.Ticker(h.config.PartnerCheckInterval)
	agentCheck := h.clock.Ticker(h.config.AgentCheckInterval)
	defer func() {
		heartbeat.Stop()
		partnerCheck.Stop()
		agentCheck.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("host context canceled")
			return h.destroy()

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				h.logger.Info("task removed")
				if err := h.svc.OnTaskRemoved(); err != nil {
					h.logger.Warn("failed to handle task removal", zap.Error(err))
				}
				continue
			}
			h.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			return h.destroy()

		case <-h.svc.ManualStop():
			h.logger.Info("service stopped by request")
			return h.destroy()

		case err := <-serverErr:
			h.logger.Error("transport failed", zap.Error(err))
			return h.destroy()

		case <-heartbeat.C:
			if err := h.registry.UpdateHeartbeat(domain.RoleHost); err != nil {
				h.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-partnerCheck.C:
			h.checkGuardian()

		case <-agentCheck.C:
			h.ensureBootAgent()
		}
	}
}

// claim registers this process as the host unless a live host already is.
func (h *Host) claim() error {
	if entry, err := h.registry.GetAll(); err == nil && entry != nil &&
		entry.HostPID != 0 && entry.HostPID != h.daemon.PID {
		alive, err := h.registry.IsAlive(domain.RoleHost)
		if err == nil && alive {
			h.logger.Info("host already running", zap.Int("pid", entry.HostPID))
			return ErrHostRunning
		}
	}
	if err := h.registry.Register(h.daemon); err != nil {
		return fmt.Errorf("failed to register host: %w", err)
	}
	return nil
}

func (h *Host) destroy() error {
	restart, err := h.svc.OnDestroy()
	if err != nil {
		return fmt.Errorf("failed to tear down service: %w", err)
	}
	if restart {
		return ErrRestartPending
	}
	return nil
}

// checkGuardian relaunches the guardian when it is registered but dead, or
// was never started.
func (h *Host) checkGuardian() {
	if h.launcher == nil {
		return
	}
	alive, err := h.registry.IsAlive(domain.RoleGuardian)
	if err != nil {
		h.logger.Debug("guardian liveness unknown", zap.Error(err))
		return
	}
	if alive {
		return
	}

	h.logger.Info("guardian not running, starting")
	pid, err := h.launcher.Launch(domain.RoleGuardian)
	if err != nil {
		h.logger.Error("failed to start guardian", zap.Error(err))
		return
	}
	h.logger.Info("guardian started", zap.Int("pid", pid))
}

// ensureBootAgent restores a missing or stale boot agent while auto-start
// is enabled.
func (h *Host) ensureBootAgent() {
	if h.bootAgent == nil || h.config.ExecPath == "" || !h.settings.IsAutoStartOnBoot() {
		return
	}

	switch {
	case !h.bootAgent.IsInstalled():
		h.logger.Info("boot agent missing, installing", zap.String("path", h.bootAgent.Path()))
	case h.bootAgent.NeedsUpdate(h.config.ExecPath):
		h.logger.Info("boot agent outdated, updating", zap.String("path", h.bootAgent.Path()))
	default:
		return
	}
	if err := h.bootAgent.Install(h.config.ExecPath); err != nil {
		h.logger.Error("failed to install boot agent", zap.Error(err))
	}
}
