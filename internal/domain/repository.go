package domain

import "encoding/json"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
// Host and guardian find each other via PIDs stored in a registry file.
type DaemonRegistry interface {
	// Register saves the daemon's PID under its role.
	Register(daemon Daemon) error

	// GetPartner returns the partner daemon info (host<->guardian).
	GetPartner(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsAlive checks whether the daemon registered under role is running.
	IsAlive(role DaemonRole) (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes registry file (for clean restart).
	Clear() error
}

// KeyValueStore is the persisted settings store.
type KeyValueStore interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// All returns every stored pair.
	All() (map[string]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the settings encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// BootAgentManager installs the OS agent that launches the host at login/boot
// and relaunches it after an abnormal exit.
type BootAgentManager interface {
	// Install writes and loads the agent definition for execPath.
	Install(execPath string) error

	// Uninstall unloads and removes the agent definition.
	Uninstall() error

	// IsInstalled checks if the agent definition exists.
	IsInstalled() bool

	// NeedsUpdate checks if the definition exists with stale content.
	NeedsUpdate(execPath string) bool

	// Path returns the agent definition file path.
	Path() string
}

// Notifier shows and hides the foreground presentation.
type Notifier interface {
	// CreateChannel registers a notification channel before first use.
	CreateChannel(id, name, description string) error

	// Show publishes or replaces the notification with desc.NotificationID.
	Show(desc NotificationDescriptor) error

	// Cancel removes the notification with the given id.
	Cancel(notificationID int) error
}

// WakeLock is a reference-counted handle that keeps the machine awake.
type WakeLock interface {
	Acquire() error
	Release() error
	Held() bool
}

// ClientHandle is the capability set of one attached client.
// Implementations must not call back into the registry synchronously.
type ClientHandle interface {
	// Invoke delivers a payload to the client.
	Invoke(payload json.RawMessage) error

	// Stop tells the client the service is stopping.
	Stop() error
}

// MethodCallHandler receives worker-to-supervisor method calls.
type MethodCallHandler interface {
	HandleMethodCall(method string, args json.RawMessage) Result
}

// Engine is one live worker instance.
type Engine interface {
	// SetCallHandler registers the receiver for calls issued by the worker.
	SetCallHandler(h MethodCallHandler)

	// Execute starts the worker entrypoint with the resume token.
	// It returns once the entrypoint has been launched, not when it finishes.
	Execute(resumeToken string) error

	// Send delivers a message to the worker without waiting for it to be handled.
	Send(method string, payload json.RawMessage) error

	// MoveToForeground and MoveToBackground notify the worker of mode changes.
	MoveToForeground()
	MoveToBackground()

	// IsExecuting reports whether the worker is still running.
	IsExecuting() bool

	// Destroy stops the worker and releases its resources. Safe to call twice.
	Destroy()
}

// EngineFactory prepares the worker runtime and creates engines.
type EngineFactory interface {
	// Initialize loads the worker runtime. Idempotent. Returns an error
	// wrapping ErrRuntimeNotReady when the runtime is not available yet.
	Initialize() error

	// NewEngine creates an engine attached in foreground or background mode.
	NewEngine(foreground bool) (Engine, error)
}
