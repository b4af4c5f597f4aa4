package daemon

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

// GuardianConfig holds guardian daemon configuration.
type GuardianConfig struct {
	CheckInterval     time.Duration // how often to check the host and the alarm
	HeartbeatInterval time.Duration
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		CheckInterval:     10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Guardian delivers the persisted restart alarm: when the host is dead, the
// alarm is due and the service was not stopped on purpose, it relaunches the
// host. It exits once the service was stopped and no alarm is left.
type Guardian struct {
	config   GuardianConfig
	settings *settings.Settings
	registry domain.DaemonRegistry
	launcher Launcher
	clock    clock.Clock
	daemon   domain.Daemon
	logger   *zap.Logger
}

// NewGuardian creates a new guardian daemon.
func NewGuardian(
	config GuardianConfig,
	st *settings.Settings,
	registry domain.DaemonRegistry,
	launcher Launcher,
	clk clock.Clock,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:   config,
		settings: st,
		registry: registry,
		launcher: launcher,
		clock:    clk,
		daemon:   daemon,
		logger:   logger.Named("guardian"),
	}
}

// Run blocks until ctx is canceled or there is nothing left to guard.
func (g *Guardian) Run(ctx context.Context) error {
	if entry, err := g.registry.GetAll(); err == nil && entry != nil &&
		entry.GuardianPID != 0 && entry.GuardianPID != g.daemon.PID {
		if alive, err := g.registry.IsAlive(domain.RoleGuardian); err == nil && alive {
			g.logger.Info("guardian already running", zap.Int("pid", entry.GuardianPID))
			return nil
		}
	}
	if err := g.registry.Register(g.daemon); err != nil {
		g.logger.Error("failed to register guardian", zap.Error(err))
		return err
	}

	g.logger.Info("guardian daemon started", zap.Int("pid", g.daemon.PID))

	check := g.clock.Ticker(g.config.CheckInterval)
	heartbeat := g.clock.Ticker(g.config.HeartbeatInterval)
	defer func() {
		check.Stop()
		heartbeat.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian daemon stopping")
			return nil

		case <-check.C:
			if done := g.checkHost(); done {
				g.logger.Info("service stopped and no restart pending, guardian exiting")
				return nil
			}

		case <-heartbeat.C:
			if err := g.registry.UpdateHeartbeat(domain.RoleGuardian); err != nil {
				g.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// checkHost relaunches the host when its alarm is due. It reports true when
// the guardian has nothing left to do.
func (g *Guardian) checkHost() bool {
	alive, err := g.registry.IsAlive(domain.RoleHost)
	if err != nil {
		g.logger.Warn("failed to read registry", zap.Error(err))
		return false
	}
	if alive {
		return false
	}

	due, pending := g.settings.WatchdogDueAt()
	if g.settings.IsManuallyStopped() {
		return !pending
	}
	if !pending {
		g.logger.Debug("host not running, no restart alarm")
		return false
	}
	if now := g.clock.Now(); now.Before(due) {
		g.logger.Debug("host not running, alarm not due yet", zap.Duration("in", due.Sub(now)))
		return false
	}

	g.logger.Info("restart alarm due, relaunching host", zap.Time("due_at", due))
	pid, err := g.launcher.Launch(domain.RoleHost)
	if err != nil {
		g.logger.Error("failed to relaunch host", zap.Error(err))
		return false
	}
	g.logger.Info("host relaunched", zap.Int("pid", pid))
	return false
}
