// Package main is the CLI entry point for bgsvc.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/config"
	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
	"github.com/eliteGoblin/focusd/bgsvc/internal/transport"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bgsvc",
	Short: "Background service supervisor",
	Long: `bgsvc keeps one background worker alive and relays messages between it
and any attached clients. The worker is restarted automatically unless it is
stopped on purpose.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(guardianCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

// environment is what every command resolves first: where data lives and
// how the process is configured.
type environment struct {
	mode *infra.ExecModeConfig
	cfg  *config.Config
}

func loadEnvironment() (*environment, error) {
	mode := infra.DetectExecMode()
	cfg, err := config.Load(mode)
	if err != nil {
		return nil, err
	}
	return &environment{mode: mode, cfg: cfg}, nil
}

func (e *environment) client() *transport.Client {
	return transport.NewClient(e.cfg.SocketPath())
}

// spawnEnv keeps spawned daemons on the same data dir.
func (e *environment) spawnEnv() []string {
	return []string{config.Prefix + "_DATA_DIR=" + e.cfg.DataDir}
}

// openSettings opens the persisted settings for CLI use. Callers close the
// returned store.
func (e *environment) openSettings() (*settings.Settings, *infra.EncryptedStore, error) {
	store, err := infra.OpenSettingsStore(e.cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return settings.New(store, zap.NewNop()), store, nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"go":         runtime.Version(),
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("bgsvc %s (commit %s, built %s, %s)\n", Version, Commit, BuildTime, runtime.Version())
}

func executablePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return execPath, nil
}
