package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/config"
	"github.com/eliteGoblin/focusd/bgsvc/internal/daemon"
	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/engine/process"
	"github.com/eliteGoblin/focusd/bgsvc/internal/engine/script"
	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
	"github.com/eliteGoblin/focusd/bgsvc/internal/logging"
	"github.com/eliteGoblin/focusd/bgsvc/internal/metrics"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
	"github.com/eliteGoblin/focusd/bgsvc/internal/supervisor"
	"github.com/eliteGoblin/focusd/bgsvc/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the host in the foreground",
	Long: `Runs the host process: the supervisor, the worker engine and the client
socket. The boot agent runs this with --boot, which exits at once unless
auto-start on boot is enabled.

Exits 0 after a requested stop and 1 when a restart is pending.`,
	RunE: runHost,
}

// Hidden guardian command - spawned by the host and by `bgsvc start`
var guardianCmd = &cobra.Command{
	Use:    "guardian",
	Hidden: true,
	RunE:   runGuardian,
}

var bootLaunch bool

func init() {
	runCmd.Flags().BoolVar(&bootLaunch, "boot", false, "Launched by the boot agent")
}

func runHost(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	cfg := env.cfg

	logger := newLogger(cfg, "host")
	defer func() { _ = logger.Sync() }()

	execPath, err := executablePath()
	if err != nil {
		return err
	}

	store, err := infra.OpenSettingsStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open settings", zap.Error(err))
		return err
	}
	defer store.Close()
	st := settings.New(store, logger)

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	clk := clock.New()
	bootAgent := newBootAgent(env, store, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sup := supervisor.New(
		supervisor.Config{
			RestartDelay:     cfg.RestartDelay,
			TaskRemovedDelay: cfg.TaskRemovedDelay,
			ExecPath:         execPath,
			TapAction:        cfg.TapAction,
		},
		st,
		newEngineFactory(cfg, pm, clk, logger),
		newNotifier(cfg, logger),
		func() domain.WakeLock { return infra.NewInhibitorWakeLock(runtime.GOOS, pm, logger) },
		bootAgent,
		clk,
		m,
		logger,
	)
	server := transport.NewServer(cfg.SocketPath(), sup, reg, logger)

	hostConfig := daemon.DefaultHostConfig()
	hostConfig.HeartbeatInterval = cfg.HeartbeatInterval
	hostConfig.Boot = bootLaunch
	hostConfig.ExecPath = execPath

	host := daemon.NewHost(
		hostConfig,
		sup,
		server,
		st,
		registry,
		daemon.NewSpawner(execPath, env.spawnEnv()...),
		bootAgent,
		clk,
		domain.Daemon{PID: os.Getpid(), Role: domain.RoleHost, StartedAt: time.Now(), AppVersion: Version},
		logger,
	)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	err = host.Run(cmd.Context(), signals)
	switch {
	case errors.Is(err, daemon.ErrHostRunning):
		fmt.Println("bgsvc is already running")
		return nil
	case errors.Is(err, daemon.ErrRestartPending):
		logger.Info("exiting with restart pending")
		return err
	case err != nil:
		logger.Error("host failed", zap.Error(err))
		return err
	}
	return nil
}

func runGuardian(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	cfg := env.cfg

	logger := newLogger(cfg, "guardian")
	defer func() { _ = logger.Sync() }()

	execPath, err := executablePath()
	if err != nil {
		return err
	}

	store, err := infra.OpenSettingsStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open settings", zap.Error(err))
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guardian := daemon.NewGuardian(
		daemon.GuardianConfig{
			CheckInterval:     cfg.GuardianCheckInterval,
			HeartbeatInterval: cfg.HeartbeatInterval,
		},
		settings.New(store, logger),
		infra.NewFileRegistry(cfg.DataDir, infra.NewProcessManager()),
		daemon.NewSpawner(execPath, env.spawnEnv()...),
		clock.New(),
		domain.Daemon{PID: os.Getpid(), Role: domain.RoleGuardian, StartedAt: time.Now(), AppVersion: Version},
		logger,
	)
	return guardian.Run(ctx)
}

func newLogger(cfg *config.Config, role string) *zap.Logger {
	return logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.LogFile(role),
		Development: cfg.Log.Development,
	}).With(zap.String("role", role))
}

func newEngineFactory(cfg *config.Config, pm domain.ProcessManager, clk clock.Clock, logger *zap.Logger) domain.EngineFactory {
	if cfg.Engine == config.EngineProcess {
		return process.NewFactory(cfg.WorkerPath, pm, clk, logger)
	}
	return script.NewFactory(cfg.WorkerPath, clk, logger)
}

func newNotifier(cfg *config.Config, logger *zap.Logger) domain.Notifier {
	file := infra.NewFileNotifier(cfg.DataDir)
	if !cfg.DesktopNotifications {
		return file
	}
	return infra.MultiNotifier{file, infra.NewDesktopNotifier(runtime.GOOS, logger)}
}

// newBootAgent returns nil when the platform has no supported boot agent.
func newBootAgent(env *environment, store domain.KeyValueStore, logger *zap.Logger) domain.BootAgentManager {
	label, err := infra.EnsureAgentLabel(store)
	if err != nil {
		logger.Warn("failed to resolve boot agent label", zap.Error(err))
		label = infra.DefaultAgentLabel
	}
	agent, err := infra.NewBootAgentManager(env.mode, label)
	if err != nil {
		logger.Warn("boot agent unavailable", zap.Error(err))
		return nil
	}
	return agent
}
