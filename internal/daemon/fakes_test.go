package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

type fakeProcessManager struct {
	mu      sync.Mutex
	running map[int]bool
}

func newFakeProcessManager() *fakeProcessManager {
	return &fakeProcessManager{running: make(map[int]bool)}
}

func (m *fakeProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[pid]
}

func (m *fakeProcessManager) Kill(pid int) error {
	m.setRunning(pid, false)
	return nil
}

func (m *fakeProcessManager) GetCurrentPID() int { return os.Getpid() }

func (m *fakeProcessManager) setRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[pid] = running
}

// fakeLauncher hands out PIDs from 1000 and marks them running.
type fakeLauncher struct {
	mu       sync.Mutex
	pm       *fakeProcessManager
	launched []domain.DaemonRole
	err      error
}

func (l *fakeLauncher) Launch(role domain.DaemonRole) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.launched = append(l.launched, role)
	pid := 1000 + len(l.launched)
	if l.pm != nil {
		l.pm.setRunning(pid, true)
	}
	return pid, nil
}

func (l *fakeLauncher) count(role domain.DaemonRole) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.launched {
		if r == role {
			n++
		}
	}
	return n
}

type fakeService struct {
	mu          sync.Mutex
	running     bool
	started     int
	taskRemoved int
	destroyed   int
	restart     bool
	manualStop  chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{manualStop: make(chan struct{})}
}

func (s *fakeService) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *fakeService) OnStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeService) OnTaskRemoved() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskRemoved++
	return nil
}

func (s *fakeService) OnDestroy() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	return s.restart, nil
}

func (s *fakeService) ManualStop() <-chan struct{} { return s.manualStop }

func (s *fakeService) counts() (started, taskRemoved, destroyed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.taskRemoved, s.destroyed
}

type fakeServer struct{}

func (fakeServer) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type fakeBootAgent struct {
	mu        sync.Mutex
	installed bool
	stale     bool
	installs  int
}

func (a *fakeBootAgent) Install(string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed, a.stale = true, false
	a.installs++
	return nil
}

func (a *fakeBootAgent) Uninstall() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = false
	return nil
}

func (a *fakeBootAgent) IsInstalled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.installed
}

func (a *fakeBootAgent) NeedsUpdate(string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.installed && a.stale
}

func (a *fakeBootAgent) Path() string { return "/tmp/io.bgsvc.host.plist" }

func (a *fakeBootAgent) installCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.installs
}

func newTestSettings(t *testing.T, preset map[string]string) *settings.Settings {
	t.Helper()
	store := settings.NewMemoryStore()
	for k, v := range preset {
		if err := store.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	return settings.New(store, zap.NewNop())
}

func newTestRegistry(t *testing.T, pm domain.ProcessManager) *infra.FileRegistry {
	t.Helper()
	return infra.NewFileRegistryWithPath(filepath.Join(t.TempDir(), "daemons.json"), pm)
}
