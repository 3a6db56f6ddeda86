// ABOUTME: Relay channel provisioner for first contact from a user
// ABOUTME: Creates the restricted channel, registers the session, and announces it to staff

package modmail

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/store"
)

// Provisioner opens relay channels.
type Provisioner struct {
	cfg      Config
	platform Platform
	dir      *directory.Directory
	audit    auditor
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(cfg Config, platform Platform, dir *directory.Directory, sink AuditSink, logger *slog.Logger) *Provisioner {
	logger = logger.With("component", "provisioner")
	return &Provisioner{
		cfg:      cfg.withDefaults(),
		platform: platform,
		dir:      dir,
		audit:    auditor{sink: sink, logger: logger},
		logger:   logger,
		now:      time.Now,
	}
}

// channelSpec builds the creation request for a user's relay channel:
// hidden from the default audience, open to staff and the bot.
func (p *Provisioner) channelSpec(user User) ChannelSpec {
	grant := []Permission{PermView, PermSend, PermReadHistory}
	return ChannelSpec{
		Name:     ChannelName(p.cfg.ChannelPrefix, user),
		Topic:    "Ticket for " + user.Name() + " (" + user.ID + ")",
		ParentID: p.cfg.ParentID,
		Overwrites: []Overwrite{
			{Kind: SubjectEveryone, Deny: []Permission{PermView}},
			{Kind: SubjectRole, ID: p.cfg.StaffRoleID, Allow: grant},
			{Kind: SubjectSelf, ID: p.cfg.SelfID, Allow: grant},
		},
	}
}

// Provision creates a relay channel for user and registers the session.
//
// The caller must hold the user's lock and have checked that no session
// exists. On failure no session is registered, the user has already been
// told (best-effort), and the returned error is a *ProvisioningError or a
// *directory.ConflictError.
func (p *Provisioner) Provision(ctx context.Context, user User) (string, error) {
	spec := p.channelSpec(user)
	p.logger.Info("creating relay channel", "user_id", user.ID, "name", spec.Name)

	channelID, err := p.platform.CreateChannel(ctx, spec)
	if err != nil {
		p.logger.Error("failed to create relay channel", "user_id", user.ID, "error", err)
		p.audit.record(ctx, store.TicketProvisionFailed, user.ID, "", "", map[string]any{"error": err.Error()})

		if dmErr := p.platform.SendDirect(ctx, user.ID, Text(msgTicketCreateFailed)); dmErr != nil {
			p.logger.Error("could not tell user about ticket creation failure", "user_id", user.ID, "error", dmErr)
		}
		return "", &ProvisioningError{UserID: user.ID, Err: err}
	}

	if err := p.dir.Create(user.ID, channelID); err != nil {
		p.logger.Error("relay channel created for user that already has a session", "user_id", user.ID, "channel_id", channelID, "error", err)
		if delErr := p.platform.DeleteChannel(ctx, channelID); delErr != nil {
			p.logger.Error("failed to remove duplicate relay channel", "channel_id", channelID, "error", delErr)
		}
		return "", err
	}

	createdAt := p.now()
	p.logger.Info("session opened", "user_id", user.ID, "channel_id", channelID)
	p.audit.record(ctx, store.TicketOpened, user.ID, channelID, user.ID, map[string]any{"channel_name": spec.Name})

	if err := p.platform.SendToChannel(ctx, channelID, announcementCard(user, createdAt)); err != nil {
		p.logger.Warn("failed to announce new ticket", "channel_id", channelID, "error", err)
	}

	return channelID, nil
}
