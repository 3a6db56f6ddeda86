// ABOUTME: Message mirror between a user's conduit and their relay channel
// ABOUTME: Renders relayed messages as cards and handles acks and delivery warnings

package modmail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/store"
)

// Mirror copies messages across a session.
type Mirror struct {
	cfg      Config
	platform Platform
	dir      *directory.Directory
	audit    auditor
	logger   *slog.Logger
	now      func() time.Time
}

// NewMirror creates a Mirror.
func NewMirror(cfg Config, platform Platform, dir *directory.Directory, sink AuditSink, logger *slog.Logger) *Mirror {
	logger = logger.With("component", "mirror")
	return &Mirror{
		cfg:      cfg.withDefaults(),
		platform: platform,
		dir:      dir,
		audit:    auditor{sink: sink, logger: logger},
		logger:   logger,
		now:      time.Now,
	}
}

// ToRelay posts a user's message into their relay channel and then marks
// the user's message as received. Returns a *DeliveryError if the post failed;
// the ack is best-effort.
func (m *Mirror) ToRelay(ctx context.Context, msg InboundMessage, channelID string) error {
	card := mirrorCard(msg, msg.Sender.Name(), footerUserMessage, ColorUser, m.timestamp(msg))

	if err := m.platform.SendToChannel(ctx, channelID, card); err != nil {
		return &DeliveryError{Direction: ToRelay, Target: channelID, Err: err}
	}
	m.logger.Debug("mirrored user message", "user_id", msg.Sender.ID, "channel_id", channelID)

	if m.cfg.AckMarker != "" && msg.ID != "" {
		if err := m.platform.React(ctx, msg.ChannelID, msg.ID, m.cfg.AckMarker); err != nil {
			m.logger.Warn("failed to acknowledge user message", "user_id", msg.Sender.ID, "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// ToUser relays a staff message from a relay channel to the paired user.
// Messages from non-staff members or in channels without a session are
// ignored. Delivery failures are reported back into the relay channel and
// never returned; the session stays open either way. Reports whether the
// user received the message.
func (m *Mirror) ToUser(ctx context.Context, msg InboundMessage) bool {
	userID, ok := m.dir.LookupUser(msg.ChannelID)
	if !ok {
		return false
	}
	if !msg.SenderIsStaff {
		m.logger.Debug("ignoring non-staff message in relay channel", "channel_id", msg.ChannelID, "sender", msg.Sender.ID)
		return false
	}

	// A user that no longer resolves keeps their session until staff closes
	// it; only the failed delivery is surfaced.
	if _, err := m.platform.FetchUser(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			m.logger.Warn("ticket user no longer resolves", "user_id", userID, "channel_id", msg.ChannelID)
		} else {
			m.logger.Warn("failed to refresh ticket user", "user_id", userID, "channel_id", msg.ChannelID, "error", err)
		}
		m.deliveryFailed(ctx, msg.ChannelID, userID, err)
		return false
	}

	card := mirrorCard(msg, staffAuthorPrefix+msg.Sender.Name(), footerStaffResponse, ColorStaff, m.timestamp(msg))
	if err := m.platform.SendDirect(ctx, userID, card); err != nil {
		m.deliveryFailed(ctx, msg.ChannelID, userID, &DeliveryError{Direction: ToUser, Target: userID, Err: err})
		return false
	}

	m.logger.Info("mirrored staff reply", "staff", msg.Sender.ID, "user_id", userID, "channel_id", msg.ChannelID)
	return true
}

func (m *Mirror) deliveryFailed(ctx context.Context, channelID, userID string, err error) {
	m.logger.Error("could not deliver staff reply", "user_id", userID, "channel_id", channelID, "error", err)
	m.audit.record(ctx, store.TicketDeliveryFailed, userID, channelID, "", map[string]any{"error": err.Error()})

	if warnErr := m.platform.SendToChannel(ctx, channelID, Text(msgDeliveryWarning)); warnErr != nil {
		m.logger.Error("could not post delivery warning", "channel_id", channelID, "error", warnErr)
	}
}

func (m *Mirror) timestamp(msg InboundMessage) time.Time {
	if !msg.Timestamp.IsZero() {
		return msg.Timestamp
	}
	return m.now()
}
