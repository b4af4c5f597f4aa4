package supervisor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
)

// NotificationPresenter builds and publishes the foreground notification.
// It caches the last title and body set by the worker. Not safe for
// concurrent use; the supervisor loop owns it.
type NotificationPresenter struct {
	notifier  domain.Notifier
	settings  *settings.Settings
	tapAction string
	logger    *zap.Logger

	channelID      string
	channelCreated bool
	notificationID int
	title          string
	body           string
	published      bool
}

// NewNotificationPresenter loads the initial notification from settings.
// When no channel id is configured the default channel is used.
func NewNotificationPresenter(notifier domain.Notifier, st *settings.Settings, tapAction string, logger *zap.Logger) *NotificationPresenter {
	p := &NotificationPresenter{
		notifier:       notifier,
		settings:       st,
		tapAction:      tapAction,
		logger:         logger.Named("presenter"),
		channelID:      st.NotificationChannelID(),
		notificationID: st.ForegroundNotificationID(),
		title:          st.InitialNotificationTitle(),
		body:           st.InitialNotificationContent(),
	}
	// A configured channel belongs to the host application.
	if p.channelID == "" {
		p.channelID = domain.DefaultChannelID
	} else {
		p.channelCreated = true
	}
	return p
}

// Descriptor returns the notification as it would be published now.
func (p *NotificationPresenter) Descriptor() domain.NotificationDescriptor {
	return domain.NotificationDescriptor{
		Title:          p.title,
		Body:           p.body,
		ChannelID:      p.channelID,
		NotificationID: p.notificationID,
		TapAction:      p.tapAction,
	}
}

// Published reports whether the notification is currently shown.
func (p *NotificationPresenter) Published() bool {
	return p.published
}

// SetContent updates the cached title and body without publishing.
func (p *NotificationPresenter) SetContent(title, body string) {
	p.title = title
	p.body = body
}

// Refresh publishes the current descriptor when foreground mode is on.
func (p *NotificationPresenter) Refresh() error {
	if !p.settings.IsForeground() {
		return nil
	}
	if !p.channelCreated {
		if err := p.notifier.CreateChannel(p.channelID, domain.DefaultChannelName, domain.DefaultChannelDescription); err != nil {
			return fmt.Errorf("failed to create notification channel: %w", err)
		}
		p.channelCreated = true
	}
	if err := p.notifier.Show(p.Descriptor()); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	p.published = true
	return nil
}

// Update sets title and body and republishes.
func (p *NotificationPresenter) Update(title, body string) error {
	p.SetContent(title, body)
	return p.Refresh()
}

// ShowError replaces the body with an error marker and republishes.
func (p *NotificationPresenter) ShowError(err error) {
	p.body = "Error " + err.Error()
	if rerr := p.Refresh(); rerr != nil {
		p.logger.Warn("failed to publish error notification", zap.Error(rerr))
	}
}

// Hide removes the foreground notification. Hiding twice is harmless.
func (p *NotificationPresenter) Hide() error {
	if !p.published {
		return nil
	}
	p.published = false
	return p.notifier.Cancel(p.notificationID)
}
