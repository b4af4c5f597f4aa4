package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write persisted service settings",
	Long: `Writes the settings the supervisor reads at its next transition: the
initial notification text, channel and id, the worker resume token and the
foreground flag. Only flags that are given are written.`,
	RunE: runConfigure,
}

var autostartCmd = &cobra.Command{
	Use:       "autostart <on|off>",
	Short:     "Enable or disable starting on boot",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runAutostart,
}

var (
	cfgTitle          string
	cfgContent        string
	cfgChannel        string
	cfgNotificationID int
	cfgToken          string
	cfgForeground     bool
)

func init() {
	f := configureCmd.Flags()
	f.StringVar(&cfgTitle, "title", "", "Initial notification title")
	f.StringVar(&cfgContent, "content", "", "Initial notification content")
	f.StringVar(&cfgChannel, "channel", "", "Notification channel id")
	f.IntVar(&cfgNotificationID, "notification-id", domain.DefaultNotificationID, "Foreground notification id")
	f.StringVar(&cfgToken, "token", "", "Resume token handed to the worker entrypoint")
	f.BoolVar(&cfgForeground, "foreground", true, "Run the worker in foreground mode")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	st, store, err := env.openSettings()
	if err != nil {
		return err
	}
	defer store.Close()

	flags := cmd.Flags()
	writes := []struct {
		flag, key string
		value     func() string
	}{
		{"title", domain.KeyInitialNotificationTitle, func() string { return cfgTitle }},
		{"content", domain.KeyInitialNotificationContent, func() string { return cfgContent }},
		{"channel", domain.KeyNotificationChannelID, func() string { return cfgChannel }},
		{"notification-id", domain.KeyForegroundNotificationID, func() string { return strconv.Itoa(cfgNotificationID) }},
		{"token", domain.KeyResumeToken, func() string { return cfgToken }},
		{"foreground", domain.KeyIsForeground, func() string { return strconv.FormatBool(cfgForeground) }},
	}

	changed := 0
	for _, w := range writes {
		if !flags.Changed(w.flag) {
			continue
		}
		if err := st.SetString(w.key, w.value()); err != nil {
			return fmt.Errorf("failed to write %s: %w", w.key, err)
		}
		fmt.Printf("%s = %s\n", w.key, w.value())
		changed++
	}
	if changed == 0 {
		fmt.Println("nothing to change")
	}
	return nil
}

func runAutostart(cmd *cobra.Command, args []string) error {
	var enable bool
	switch args[0] {
	case "on":
		enable = true
	case "off":
	default:
		return fmt.Errorf("want on or off, got %q", args[0])
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	st, store, err := env.openSettings()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := st.SetAutoStartOnBoot(enable); err != nil {
		return err
	}

	agent := newBootAgent(env, store, zap.NewNop())
	if agent == nil {
		fmt.Println("auto-start saved; no boot agent on this platform")
		return nil
	}
	if enable {
		execPath, err := executablePath()
		if err != nil {
			return err
		}
		if err := agent.Install(execPath); err != nil {
			return fmt.Errorf("failed to install boot agent: %w", err)
		}
		fmt.Printf("auto-start enabled (%s)\n", agent.Path())
		return nil
	}
	if err := agent.Uninstall(); err != nil {
		return fmt.Errorf("failed to remove boot agent: %w", err)
	}
	fmt.Println("auto-start disabled")
	return nil
}
