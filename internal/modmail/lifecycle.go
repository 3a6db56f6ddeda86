// ABOUTME: Session lifecycle controller handling the staff close command
// ABOUTME: Notifies the user, drops the session, then deletes the channel after a grace delay

package modmail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/scheduler"
	"github.com/2389/coven-modmail/internal/store"
)

// State is the lifecycle state of a session.
type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// Deferrer queues work that runs after a delay and cannot be cancelled.
// *scheduler.Scheduler implements it.
type Deferrer interface {
	After(name string, delay time.Duration, task scheduler.Task)
}

// Closer closes sessions on staff request.
type Closer struct {
	cfg      Config
	platform Platform
	dir      *directory.Directory
	deferrer Deferrer
	audit    auditor
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	closing map[string]struct{} // channel ids between close and deletion
}

// NewCloser creates a Closer.
func NewCloser(cfg Config, platform Platform, dir *directory.Directory, deferrer Deferrer, sink AuditSink, logger *slog.Logger) *Closer {
	logger = logger.With("component", "lifecycle")
	return &Closer{
		cfg:      cfg.withDefaults(),
		platform: platform,
		dir:      dir,
		deferrer: deferrer,
		audit:    auditor{sink: sink, logger: logger},
		logger:   logger,
		now:      time.Now,
		closing:  make(map[string]struct{}),
	}
}

// State reports where the channel's session is in its lifecycle.
func (c *Closer) State(channelID string) State {
	c.mu.Lock()
	_, closing := c.closing[channelID]
	c.mu.Unlock()
	if closing {
		return StateClosing
	}
	if _, ok := c.dir.LookupUser(channelID); ok {
		return StateOpen
	}
	return StateClosed
}

// Close handles a close command.
//
// Rejections (ErrPermissionDenied, ErrNotRelayChannel, ErrSessionClosing)
// are answered privately to the issuer and returned. On success the session
// is gone from the directory before the channel deletion is even queued, so
// nothing arriving in the grace window is mirrored.
func (c *Closer) Close(ctx context.Context, cmd Command) error {
	if !cmd.IssuerIsStaff {
		c.reply(ctx, cmd, msgNoPermission, true)
		return ErrPermissionDenied
	}

	userID, ok := c.dir.LookupUser(cmd.ChannelID)
	if !ok {
		c.reply(ctx, cmd, msgNotTicketChannel, true)
		return ErrNotRelayChannel
	}

	if !c.beginClosing(cmd.ChannelID) {
		c.reply(ctx, cmd, msgAlreadyClosing, true)
		return ErrSessionClosing
	}

	c.logger.Info("closing session", "user_id", userID, "channel_id", cmd.ChannelID, "closed_by", cmd.Issuer.ID)
	c.reply(ctx, cmd, msgClosing, false)

	closedAt := c.now()
	if err := c.platform.SendDirect(ctx, userID, closureCard(cmd.Issuer, closedAt)); err != nil {
		c.logger.Warn("could not notify user about closure", "user_id", userID, "error", err)
		if cmd.Responder != nil {
			if fuErr := cmd.Responder.FollowUp(ctx, msgCloseNotifyWarning); fuErr != nil {
				c.logger.Error("could not post closure warning", "channel_id", cmd.ChannelID, "error", fuErr)
			}
		}
	}

	c.dir.Remove(userID, cmd.ChannelID)
	c.audit.record(ctx, store.TicketClosed, userID, cmd.ChannelID, cmd.Issuer.ID, nil)

	channelID := cmd.ChannelID
	c.deferrer.After("delete-relay-channel", c.cfg.CloseDelay, func(ctx context.Context) {
		defer c.endClosing(channelID)
		if err := c.platform.DeleteChannel(ctx, channelID); err != nil {
			c.logger.Error("failed to delete relay channel", "channel_id", channelID, "error", err)
			return
		}
		c.logger.Info("deleted relay channel", "channel_id", channelID)
	})
	return nil
}

func (c *Closer) reply(ctx context.Context, cmd Command, text string, private bool) {
	if cmd.Responder == nil {
		return
	}
	if err := cmd.Responder.Reply(ctx, text, private); err != nil {
		c.logger.Warn("failed to reply to command", "channel_id", cmd.ChannelID, "error", err)
	}
}

func (c *Closer) beginClosing(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.closing[channelID]; ok {
		return false
	}
	c.closing[channelID] = struct{}{}
	return true
}

func (c *Closer) endClosing(channelID string) {
	c.mu.Lock()
	delete(c.closing, channelID)
	c.mu.Unlock()
}
