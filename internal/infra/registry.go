package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const registryFileName = "daemons.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data dir.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry stored under dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register saves the daemon's PID under its role.
func (r *FileRegistry) Register(daemon domain.Daemon) error {
	return r.withLock(func() error {
		entry, err := r.GetAll()
		if err != nil {
			return err
		}
		if entry == nil {
			entry = &domain.RegistryEntry{Version: 1}
		}

		switch daemon.Role {
		case domain.RoleHost:
			entry.HostPID = daemon.PID
		case domain.RoleGuardian:
			entry.GuardianPID = daemon.PID
		default:
			return fmt.Errorf("unknown role: %s", daemon.Role)
		}
		entry.LastHeartbeat = time.Now().Unix()
		if daemon.AppVersion != "" {
			entry.AppVersion = daemon.AppVersion
		}
		return r.atomicWrite(entry)
	})
}

// GetPartner returns the partner daemon info.
func (r *FileRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	entry, err := r.GetAll()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("registry empty")
	}

	partnerRole := partnerOf(role)
	pid := pidFor(entry, partnerRole)
	if pid == 0 {
		return nil, fmt.Errorf("partner %s not registered", partnerRole)
	}
	return &domain.Daemon{PID: pid, Role: partnerRole}, nil
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	return r.withLock(func() error {
		entry, err := r.GetAll()
		if err != nil {
			return err
		}
		if entry == nil || pidFor(entry, role) == 0 {
			return fmt.Errorf("daemon %s not registered", role)
		}
		entry.LastHeartbeat = time.Now().Unix()
		return r.atomicWrite(entry)
	})
}

// IsAlive checks whether the daemon registered under role is running.
func (r *FileRegistry) IsAlive(role domain.DaemonRole) (bool, error) {
	entry, err := r.GetAll()
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	pid := pidFor(entry, role)
	if pid == 0 {
		return false, nil
	}
	return r.processManager.IsRunning(pid), nil
}

// GetAll returns full registry state, or nil when nothing is registered.
func (r *FileRegistry) GetAll() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear removes the registry file.
func (r *FileRegistry) Clear() error {
	err := os.Remove(r.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// withLock serializes read-modify-write cycles between host and guardian.
func (r *FileRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return err
	}
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return fn()
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(entry *domain.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.path, data, 0600)
}

// writeFileAtomic writes to a per-process temp file and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func partnerOf(role domain.DaemonRole) domain.DaemonRole {
	if role == domain.RoleHost {
		return domain.RoleGuardian
	}
	return domain.RoleHost
}

func pidFor(entry *domain.RegistryEntry, role domain.DaemonRole) int {
	switch role {
	case domain.RoleHost:
		return entry.HostPID
	case domain.RoleGuardian:
		return entry.GuardianPID
	}
	return 0
}

var _ domain.DaemonRegistry = (*FileRegistry)(nil)
