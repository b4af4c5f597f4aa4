// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"errors"
	"time"
)

// SupervisorState is the lifecycle state of the background service.
type SupervisorState int

const (
	StateStopped SupervisorState = iota
	StateStarting
	StateRunning
	StateManuallyStopping
	StateCrashedPendingRestart
)

// String returns the lowercase state name used in logs and status output.
func (s SupervisorState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateManuallyStopping:
		return "manually_stopping"
	case StateCrashedPendingRestart:
		return "crashed_pending_restart"
	default:
		return "unknown"
	}
}

// ClientID identifies one attached client for the lifetime of its binding.
type ClientID string

// NotificationDescriptor is the foreground presentation shown while the worker runs.
type NotificationDescriptor struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ChannelID      string `json:"channel_id"`
	NotificationID int    `json:"notification_id"`
	TapAction      string `json:"tap_action,omitempty"`
}

// Persisted setting keys.
const (
	KeyInitialNotificationTitle   = "initial_notification_title"
	KeyInitialNotificationContent = "initial_notification_content"
	KeyForegroundNotificationID   = "foreground_notification_id"
	KeyNotificationChannelID      = "notification_channel_id"
	KeyResumeToken                = "background_handle"
	KeyIsForeground               = "is_foreground"
	KeyAutoStartOnBoot            = "auto_start_on_boot"
	KeyManuallyStopped            = "is_manually_stopped"
	KeyWatchdogDueAt              = "watchdog_due_at"
)

// Setting defaults.
const (
	DefaultNotificationTitle   = "Background Service"
	DefaultNotificationContent = "Preparing"
	DefaultNotificationID      = 112233
	DefaultChannelID           = "FOREGROUND_DEFAULT"
	DefaultChannelName         = "Background Service"
	DefaultChannelDescription  = "Executing process in background"
)

// Sentinel errors shared across layers.
var (
	// ErrRuntimeNotReady marks a transient boot failure: the worker runtime
	// cannot be loaded yet (typically right after a reboot).
	ErrRuntimeNotReady = errors.New("worker runtime not ready")

	// ErrEngineClosed is returned by engine operations after Destroy.
	ErrEngineClosed = errors.New("engine closed")

	// ErrClientGone is returned by a client handle whose connection is dead.
	ErrClientGone = errors.New("client gone")

	// ErrNotRunning is returned when the supervisor loop is not running.
	ErrNotRunning = errors.New("supervisor not running")
)

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleHost     DaemonRole = "host"
	RoleGuardian DaemonRole = "guardian"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry stores the state of both daemons for mutual discovery.
// Persisted to a file for cross-process communication.
type RegistryEntry struct {
	Version       int    `json:"version"`
	HostPID       int    `json:"host_pid"`
	GuardianPID   int    `json:"guardian_pid"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}

// StatusReport is the snapshot served to status queries.
type StatusReport struct {
	State        string                 `json:"state"`
	Foreground   bool                   `json:"foreground"`
	AutoStart    bool                   `json:"auto_start"`
	Clients      int                    `json:"clients"`
	Notification NotificationDescriptor `json:"notification"`
	Restart      *time.Time             `json:"restart_pending_at,omitempty"`
}
