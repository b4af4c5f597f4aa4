package infra

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

type fakeStarter struct {
	recordedCommands
	nextPID  int
	startErr error
}

func (f *fakeStarter) Start(name string, args ...string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	_ = f.Run(name, args...)
	f.nextPID++
	return f.nextPID, nil
}

func TestFileNotifier(t *testing.T) {
	dataDir := t.TempDir()
	n := NewFileNotifier(dataDir)
	desc := domain.NotificationDescriptor{
		Title: "Syncing", Body: "3 items", ChannelID: domain.DefaultChannelID, NotificationID: 7,
	}

	assert.Error(t, n.Show(desc), "channel must exist before publishing")

	require.NoError(t, n.CreateChannel(domain.DefaultChannelID, domain.DefaultChannelName, domain.DefaultChannelDescription))
	require.NoError(t, n.Show(desc))

	got, err := ReadNotificationFile(dataDir)
	require.NoError(t, err)
	assert.Equal(t, []domain.NotificationDescriptor{desc}, got)

	desc.Body = "done"
	require.NoError(t, n.Show(desc))
	got, err = ReadNotificationFile(dataDir)
	require.NoError(t, err)
	require.Len(t, got, 1, "same id replaces the notification")
	assert.Equal(t, "done", got[0].Body)

	require.NoError(t, n.Cancel(7))
	require.NoError(t, n.Cancel(7))
	got, err = ReadNotificationFile(dataDir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadNotificationFile_Missing(t *testing.T) {
	got, err := ReadNotificationFile(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDesktopNotifier(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		wantTool string
	}{
		{name: "darwin uses osascript", goos: "darwin", wantTool: "osascript"},
		{name: "linux uses notify-send", goos: "linux", wantTool: "notify-send"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordedCommands{}
			n := NewDesktopNotifier(tt.goos, zap.NewNop())
			n.cmd = rec

			desc := domain.NotificationDescriptor{Title: `Say "hi"`, Body: "b", NotificationID: 1}
			require.NoError(t, n.Show(desc))
			require.NoError(t, n.Show(desc))
			require.Len(t, rec.calls, 1, "identical descriptor is shown once")
			assert.True(t, strings.HasPrefix(rec.calls[0], tt.wantTool))

			require.NoError(t, n.Cancel(1))
			require.NoError(t, n.Show(desc))
			assert.Len(t, rec.calls, 2)
		})
	}
}

func TestAppleScriptString(t *testing.T) {
	assert.Equal(t, `"a \"b\" \\c"`, appleScriptString(`a "b" \c`))
}

type failingNotifier struct{}

func (failingNotifier) CreateChannel(string, string, string) error { return errors.New("boom") }
func (failingNotifier) Show(domain.NotificationDescriptor) error   { return errors.New("boom") }
func (failingNotifier) Cancel(int) error                           { return errors.New("boom") }

func TestMultiNotifier_ReachesAllAndJoinsErrors(t *testing.T) {
	dataDir := t.TempDir()
	file := NewFileNotifier(dataDir)
	multi := MultiNotifier{failingNotifier{}, file}

	assert.Error(t, multi.CreateChannel("c", "n", "d"))
	err := multi.Show(domain.NotificationDescriptor{ChannelID: "c", NotificationID: 1, Title: "t"})
	assert.Error(t, err)

	got, readErr := ReadNotificationFile(dataDir)
	require.NoError(t, readErr)
	assert.Len(t, got, 1, "later notifiers still run after an earlier failure")
}

func TestInhibitorWakeLock_ReferenceCounting(t *testing.T) {
	pm := newMockProcessManager()
	starter := &fakeStarter{nextPID: 500}
	lock := NewInhibitorWakeLock("darwin", pm, zap.NewNop())
	lock.cmd = starter

	assert.False(t, lock.Held())
	require.NoError(t, lock.Acquire())
	pm.SetRunning(501, true)
	require.NoError(t, lock.Acquire())

	assert.True(t, lock.Held())
	assert.Len(t, starter.calls, 1, "second acquire reuses the inhibitor")
	assert.True(t, strings.HasPrefix(starter.calls[0], "caffeinate -i -w"))

	require.NoError(t, lock.Release())
	assert.True(t, lock.Held())
	assert.Empty(t, pm.killedPIDs)

	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
	assert.Equal(t, []int{501}, pm.killedPIDs)

	require.NoError(t, lock.Release(), "extra release is ignored")
}

func TestInhibitorWakeLock_RestartsDeadInhibitor(t *testing.T) {
	pm := newMockProcessManager()
	starter := &fakeStarter{nextPID: 10}
	lock := NewInhibitorWakeLock("linux", pm, zap.NewNop())
	lock.cmd = starter

	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Acquire())
	assert.Len(t, starter.calls, 2, "inhibitor 11 was never running, so it is restarted")
	assert.Contains(t, starter.calls[0], "systemd-inhibit")
}

func TestInhibitorWakeLock_StartFailure(t *testing.T) {
	lock := NewInhibitorWakeLock("darwin", newMockProcessManager(), zap.NewNop())
	lock.cmd = &fakeStarter{startErr: errors.New("no caffeinate")}

	assert.Error(t, lock.Acquire())
	assert.False(t, lock.Held())
}
