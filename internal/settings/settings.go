// Package settings provides typed access to the persisted service settings.
package settings

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Settings reads and writes named settings on top of a KeyValueStore.
// Reads never fail: store errors are logged and the default is returned.
type Settings struct {
	store  domain.KeyValueStore
	logger *zap.Logger
}

// New creates a Settings accessor.
func New(store domain.KeyValueStore, logger *zap.Logger) *Settings {
	return &Settings{store: store, logger: logger.Named("settings")}
}

// InitialNotificationTitle returns the title shown before the worker sets one.
func (s *Settings) InitialNotificationTitle() string {
	return s.getString(domain.KeyInitialNotificationTitle, domain.DefaultNotificationTitle)
}

// InitialNotificationContent returns the body shown before the worker sets one.
func (s *Settings) InitialNotificationContent() string {
	return s.getString(domain.KeyInitialNotificationContent, domain.DefaultNotificationContent)
}

// ForegroundNotificationID returns the notification id.
func (s *Settings) ForegroundNotificationID() int {
	return int(s.getInt(domain.KeyForegroundNotificationID, domain.DefaultNotificationID))
}

// NotificationChannelID returns the configured channel id, or "" when unset.
func (s *Settings) NotificationChannelID() string {
	return s.getString(domain.KeyNotificationChannelID, "")
}

// ResumeToken returns the token handed to the worker entrypoint.
func (s *Settings) ResumeToken() string {
	return s.getString(domain.KeyResumeToken, "0")
}

// IsForeground reports whether the foreground presentation is enabled.
func (s *Settings) IsForeground() bool {
	return s.getBool(domain.KeyIsForeground, true)
}

// SetIsForeground persists the foreground flag.
func (s *Settings) SetIsForeground(v bool) error {
	return s.set(domain.KeyIsForeground, strconv.FormatBool(v))
}

// IsAutoStartOnBoot reports whether the host should start at boot.
func (s *Settings) IsAutoStartOnBoot() bool {
	return s.getBool(domain.KeyAutoStartOnBoot, true)
}

// SetAutoStartOnBoot persists the auto-start flag.
func (s *Settings) SetAutoStartOnBoot(v bool) error {
	return s.set(domain.KeyAutoStartOnBoot, strconv.FormatBool(v))
}

// IsManuallyStopped reports whether the last stop was deliberate.
func (s *Settings) IsManuallyStopped() bool {
	return s.getBool(domain.KeyManuallyStopped, false)
}

// SetManuallyStopped persists the manual-stop marker.
func (s *Settings) SetManuallyStopped(v bool) error {
	return s.set(domain.KeyManuallyStopped, strconv.FormatBool(v))
}

// WatchdogDueAt returns the persisted watchdog alarm, if any.
func (s *Settings) WatchdogDueAt() (time.Time, bool) {
	ms := s.getInt(domain.KeyWatchdogDueAt, 0)
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SetWatchdogDueAt persists a watchdog alarm.
func (s *Settings) SetWatchdogDueAt(t time.Time) error {
	return s.set(domain.KeyWatchdogDueAt, strconv.FormatInt(t.UnixMilli(), 10))
}

// ClearWatchdogDueAt removes the persisted watchdog alarm.
func (s *Settings) ClearWatchdogDueAt() error {
	return s.store.Delete(domain.KeyWatchdogDueAt)
}

// SetString stores an arbitrary setting. Used by the configure command.
func (s *Settings) SetString(key, value string) error {
	return s.set(key, value)
}

func (s *Settings) set(key, value string) error {
	if err := s.store.Set(key, value); err != nil {
		s.logger.Error("failed to write setting", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *Settings) getString(key, def string) string {
	v, ok, err := s.store.Get(key)
	if err != nil {
		s.logger.Warn("failed to read setting", zap.String("key", key), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	return v
}

func (s *Settings) getBool(key string, def bool) bool {
	raw := s.getString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("malformed boolean setting", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return v
}

func (s *Settings) getInt(key string, def int64) int64 {
	raw := s.getString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("malformed integer setting", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return v
}
