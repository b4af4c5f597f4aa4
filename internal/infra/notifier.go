package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const notificationFileName = "notification.json"

// NotificationChannel is a registered notification channel.
type NotificationChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// notificationState is the on-disk shape of notification.json.
type notificationState struct {
	Channels      []NotificationChannel           `json:"channels"`
	Notifications []domain.NotificationDescriptor `json:"notifications"`
}

// FileNotifier keeps the foreground presentation in a JSON file so status
// tools and desktop widgets can render it.
type FileNotifier struct {
	mu            sync.Mutex
	path          string
	channels      map[string]NotificationChannel
	notifications map[int]domain.NotificationDescriptor
}

// NewFileNotifier creates a notifier writing to <dataDir>/notification.json.
// Any file left by a previous host is replaced on first write.
func NewFileNotifier(dataDir string) *FileNotifier {
	return &FileNotifier{
		path:          filepath.Join(dataDir, notificationFileName),
		channels:      make(map[string]NotificationChannel),
		notifications: make(map[int]domain.NotificationDescriptor),
	}
}

// Path returns the notification file path.
func (n *FileNotifier) Path() string {
	return n.path
}

// CreateChannel registers a channel. Re-creating a channel updates it.
func (n *FileNotifier) CreateChannel(id, name, description string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[id] = NotificationChannel{ID: id, Name: name, Description: description}
	return n.flush()
}

// Show publishes or replaces the notification with the same id.
func (n *FileNotifier) Show(desc domain.NotificationDescriptor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.channels[desc.ChannelID]; !ok {
		return fmt.Errorf("notification channel %q not created", desc.ChannelID)
	}
	n.notifications[desc.NotificationID] = desc
	return n.flush()
}

// Cancel removes a notification. Cancelling an unknown id is not an error.
func (n *FileNotifier) Cancel(notificationID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.notifications[notificationID]; !ok {
		return nil
	}
	delete(n.notifications, notificationID)
	return n.flush()
}

// flush writes the current state; callers hold n.mu.
func (n *FileNotifier) flush() error {
	state := notificationState{
		Channels:      make([]NotificationChannel, 0, len(n.channels)),
		Notifications: make([]domain.NotificationDescriptor, 0, len(n.notifications)),
	}
	for _, c := range n.channels {
		state.Channels = append(state.Channels, c)
	}
	for _, d := range n.notifications {
		state.Notifications = append(state.Notifications, d)
	}
	sort.Slice(state.Channels, func(i, j int) bool { return state.Channels[i].ID < state.Channels[j].ID })
	sort.Slice(state.Notifications, func(i, j int) bool {
		return state.Notifications[i].NotificationID < state.Notifications[j].NotificationID
	})

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(n.path), 0700); err != nil {
		return err
	}
	return writeFileAtomic(n.path, data, 0644)
}

// ReadNotificationFile loads the notification state written by a FileNotifier.
func ReadNotificationFile(dataDir string) ([]domain.NotificationDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, notificationFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state notificationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse notification file: %w", err)
	}
	return state.Notifications, nil
}

// DesktopNotifier pops up desktop notifications with osascript (darwin)
// or notify-send (linux). Repeated identical descriptors are shown once.
type DesktopNotifier struct {
	mu     sync.Mutex
	goos   string
	cmd    CommandRunner
	logger *zap.Logger
	shown  map[int]domain.NotificationDescriptor
}

// NewDesktopNotifier creates a desktop notifier for the given platform.
func NewDesktopNotifier(goos string, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		goos:   goos,
		cmd:    &RealCommandRunner{},
		logger: logger.Named("desktop-notifier"),
		shown:  make(map[int]domain.NotificationDescriptor),
	}
}

// CreateChannel is a no-op: desktop notification centers have no channels.
func (n *DesktopNotifier) CreateChannel(string, string, string) error {
	return nil
}

// Show pops up the notification unless the same content is already shown.
func (n *DesktopNotifier) Show(desc domain.NotificationDescriptor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.shown[desc.NotificationID]; ok && prev == desc {
		return nil
	}

	var err error
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(desc.Body), appleScriptString(desc.Title))
		err = n.cmd.Run("osascript", "-e", script)
	case "linux":
		err = n.cmd.Run("notify-send", "--app-name=bgsvc",
			"--hint=int:transient:0", "--hint=string:x-bgsvc-id:"+strconv.Itoa(desc.NotificationID),
			desc.Title, desc.Body)
	default:
		n.logger.Debug("desktop notifications unsupported", zap.String("goos", n.goos))
		return nil
	}
	if err != nil {
		return err
	}
	n.shown[desc.NotificationID] = desc
	return nil
}

// Cancel forgets the notification so the next Show pops up again.
func (n *DesktopNotifier) Cancel(notificationID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.shown, notificationID)
	return nil
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// MultiNotifier fans each call out to every notifier and joins the errors.
type MultiNotifier []domain.Notifier

func (m MultiNotifier) CreateChannel(id, name, description string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.CreateChannel(id, name, description))
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) Show(desc domain.NotificationDescriptor) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Show(desc))
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) Cancel(notificationID int) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Cancel(notificationID))
	}
	return errors.Join(errs...)
}

var (
	_ domain.Notifier = (*FileNotifier)(nil)
	_ domain.Notifier = (*DesktopNotifier)(nil)
	_ domain.Notifier = MultiNotifier(nil)
)
