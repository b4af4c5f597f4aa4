package daemon

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const guardianPID = 5151

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type guardianHarness struct {
	guardian *Guardian
	pm       *fakeProcessManager
	launcher *fakeLauncher
	clock    *clock.Mock
	registry domain.DaemonRegistry
}

func newGuardianHarness(t *testing.T, preset map[string]string) *guardianHarness {
	t.Helper()
	pm := newFakeProcessManager()
	pm.setRunning(guardianPID, true)
	h := &guardianHarness{
		pm:       pm,
		launcher: &fakeLauncher{pm: pm},
		clock:    clock.NewMock(),
		registry: newTestRegistry(t, pm),
	}
	h.clock.Set(epoch)
	h.guardian = NewGuardian(DefaultGuardianConfig(), newTestSettings(t, preset), h.registry,
		h.launcher, h.clock, domain.Daemon{PID: guardianPID, Role: domain.RoleGuardian}, zap.NewNop())
	return h
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestGuardian_CheckHost(t *testing.T) {
	due := millis(epoch.Add(-time.Second))
	future := millis(epoch.Add(time.Minute))

	tests := []struct {
		name       string
		hostAlive  bool
		preset     map[string]string
		wantLaunch bool
		wantDone   bool
	}{
		{
			name:      "live host is left alone",
			hostAlive: true,
			preset:    map[string]string{domain.KeyWatchdogDueAt: due},
		},
		{
			name:       "due alarm relaunches dead host",
			preset:     map[string]string{domain.KeyWatchdogDueAt: due},
			wantLaunch: true,
		},
		{
			name:   "alarm not due yet",
			preset: map[string]string{domain.KeyWatchdogDueAt: future},
		},
		{
			name: "no alarm",
		},
		{
			name:   "manual stop with alarm waits",
			preset: map[string]string{domain.KeyManuallyStopped: "true", domain.KeyWatchdogDueAt: due},
		},
		{
			name:     "manual stop without alarm is done",
			preset:   map[string]string{domain.KeyManuallyStopped: "true"},
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGuardianHarness(t, tt.preset)
			h.pm.setRunning(900, tt.hostAlive)
			require.NoError(t, h.registry.Register(domain.Daemon{PID: 900, Role: domain.RoleHost}))

			assert.Equal(t, tt.wantDone, h.guardian.checkHost())
			want := 0
			if tt.wantLaunch {
				want = 1
			}
			assert.Equal(t, want, h.launcher.count(domain.RoleHost))
		})
	}
}

func TestGuardian_LaunchFailureIsRetried(t *testing.T) {
	h := newGuardianHarness(t, map[string]string{
		domain.KeyWatchdogDueAt: millis(epoch),
	})
	h.launcher.err = errors.New("exec format error")
	assert.False(t, h.guardian.checkHost())

	h.launcher.err = nil
	assert.False(t, h.guardian.checkHost())
	assert.Equal(t, 1, h.launcher.count(domain.RoleHost))
}

func TestGuardian_Run(t *testing.T) {
	t.Run("exits when nothing is left to guard", func(t *testing.T) {
		h := newGuardianHarness(t, map[string]string{domain.KeyManuallyStopped: "true"})
		done := make(chan error, 1)
		go func() { done <- h.guardian.Run(context.Background()) }()

		require.Eventually(t, func() bool {
			h.clock.Add(DefaultGuardianConfig().CheckInterval)
			select {
			case err := <-done:
				assert.NoError(t, err)
				return true
			default:
				return false
			}
		}, waitFor, 10*time.Millisecond)

		entry, err := h.registry.GetAll()
		require.NoError(t, err)
		assert.Equal(t, guardianPID, entry.GuardianPID)
	})

	t.Run("stops on cancel", func(t *testing.T) {
		h := newGuardianHarness(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.guardian.Run(ctx) }()

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("guardian did not stop")
		}
	})

	t.Run("defers to a live guardian", func(t *testing.T) {
		h := newGuardianHarness(t, nil)
		h.pm.setRunning(31, true)
		require.NoError(t, h.registry.Register(domain.Daemon{PID: 31, Role: domain.RoleGuardian}))

		require.NoError(t, h.guardian.Run(context.Background()))
		entry, err := h.registry.GetAll()
		require.NoError(t, err)
		assert.Equal(t, 31, entry.GuardianPID)
	})
}

func TestRoleArgs(t *testing.T) {
	args, err := roleArgs(domain.RoleHost)
	require.NoError(t, err)
	assert.Equal(t, []string{"run"}, args)

	args, err = roleArgs(domain.RoleGuardian)
	require.NoError(t, err)
	assert.Equal(t, []string{"guardian"}, args)

	_, err = roleArgs("watcher")
	assert.Error(t, err)
}

func TestLaunchBoth(t *testing.T) {
	l := &fakeLauncher{}
	require.NoError(t, LaunchBoth(l))
	assert.Equal(t, []domain.DaemonRole{domain.RoleHost, domain.RoleGuardian}, l.launched)
}
