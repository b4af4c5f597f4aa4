package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/bgsvc/internal/daemon"
	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
	"github.com/eliteGoblin/focusd/bgsvc/internal/transport"
)

const hostWait = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	Long: `Starts the worker. When no host is running, launches the host and the
guardian in the background first. Clears a previous manual stop.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service on purpose",
	Long: `Stops the worker and the host without scheduling a restart. Pending
restart alarms are cancelled even when no host is running.`,
	RunE: runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE:  runStatus,
}

var sendCmd = &cobra.Command{
	Use:   "send <json-object>",
	Short: "Send a payload to the worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach as a client and print worker messages",
	Long: `Binds a client to the service and prints every payload the worker sends.
Each line typed on stdin is relayed to the worker as a JSON object.`,
	RunE: runAttach,
}

var attachID string

func init() {
	attachCmd.Flags().StringVar(&attachID, "id", "", "Client id (default: random UUID)")
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	client := env.client()

	if _, err := client.Status(cmd.Context()); err == nil {
		if err := client.Control(cmd.Context(), transport.ActionStart); err != nil {
			return err
		}
		fmt.Println("Start requested")
		return nil
	}

	execPath, err := executablePath()
	if err != nil {
		return err
	}
	if err := daemon.LaunchBoth(daemon.NewSpawner(execPath, env.spawnEnv()...)); err != nil {
		return fmt.Errorf("failed to start daemons: %w", err)
	}

	report, err := waitForHost(cmd.Context(), client)
	if err != nil {
		return err
	}
	fmt.Printf("bgsvc started (%s)\n", report.State)
	fmt.Printf("Mode: %s\n", env.mode.Mode)
	fmt.Printf("Data: %s\n", env.cfg.DataDir)
	return nil
}

func waitForHost(ctx context.Context, client *transport.Client) (domain.StatusReport, error) {
	deadline := time.Now().Add(hostWait)
	for {
		report, err := client.Status(ctx)
		if err == nil {
			return report, nil
		}
		if time.Now().After(deadline) {
			return report, fmt.Errorf("host did not come up within %s: %w", hostWait, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	if err := env.client().Control(cmd.Context(), transport.ActionStop); err == nil {
		fmt.Println("bgsvc stopped")
		return nil
	}

	// No host to ask: make sure the guardian does not bring it back.
	st, store, err := env.openSettings()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := st.SetManuallyStopped(true); err != nil {
		return err
	}
	if err := st.ClearWatchdogDueAt(); err != nil {
		return err
	}
	fmt.Println("bgsvc is not running; pending restarts cancelled")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	report, err := env.client().Status(cmd.Context())
	if err != nil {
		return printOfflineStatus(env)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Println("\n=== bgsvc Status ===")
	fmt.Printf("State: %s\n", report.State)
	fmt.Printf("Foreground: %t\n", report.Foreground)
	fmt.Printf("Auto-start on boot: %t\n", report.AutoStart)
	fmt.Printf("Clients: %d\n", report.Clients)
	if report.Restart != nil {
		fmt.Printf("Restart pending at: %s\n", report.Restart.Local().Format(time.RFC3339))
	}
	fmt.Printf("Notification: %s - %s\n", report.Notification.Title, report.Notification.Body)
	fmt.Println("====================")
	return nil
}

func printOfflineStatus(env *environment) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(env.cfg.DataDir, pm)

	fmt.Println("\n=== bgsvc Status ===")
	fmt.Println("Host: NOT RUNNING")

	entry, err := registry.GetAll()
	if err == nil && entry != nil {
		if pm.IsRunning(entry.GuardianPID) {
			fmt.Println("Guardian: running")
		} else {
			fmt.Println("Guardian: not running")
		}
		if entry.LastHeartbeat > 0 {
			lastBeat := time.Unix(entry.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	}

	st, store, err := env.openSettings()
	if err == nil {
		defer store.Close()
		fmt.Printf("Manually stopped: %t\n", st.IsManuallyStopped())
		if due, ok := st.WatchdogDueAt(); ok {
			fmt.Printf("Restart alarm: %s\n", due.Local().Format(time.RFC3339))
		}
	}
	fmt.Println("\nRun 'bgsvc start' to start the service.")
	fmt.Println("====================")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	payload := json.RawMessage(args[0])
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return env.client().Invoke(cmd.Context(), payload)
}

func runAttach(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	id := attachID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := env.client().Attach(ctx, domain.ClientID(id))
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(os.Stderr, "attached as %s\n", id)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Bytes()
			if !json.Valid(line) {
				fmt.Fprintln(os.Stderr, "skipped: not valid JSON")
				continue
			}
			if err := a.Send(append(json.RawMessage(nil), line...)); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-a.Messages():
			if !ok {
				fmt.Fprintln(os.Stderr, "connection closed")
				return nil
			}
			switch m.Type {
			case transport.MessageInvoke:
				fmt.Println(string(m.Data))
			case transport.MessageStop:
				fmt.Fprintln(os.Stderr, "service stopping")
			}
		}
	}
}
