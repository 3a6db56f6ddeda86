// ABOUTME: Inbound router classifying messages and commands for the modmail core
// ABOUTME: Dispatches to provisioner, mirror, and closer; contains every failure at this boundary

package modmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/store"
)

// Router is the entry point the platform adapter feeds events into.
type Router struct {
	cfg         Config
	platform    Platform
	dir         *directory.Directory
	provisioner *Provisioner
	mirror      *Mirror
	closer      *Closer
	audit       auditor
	logger      *slog.Logger

	userLocks *keyedMutex
}

// Deps bundles the collaborators of a Router.
type Deps struct {
	Platform  Platform
	Directory *directory.Directory
	Deferrer  Deferrer
	Audit     AuditSink // optional
	Logger    *slog.Logger
}

// New wires the provisioner, mirror, and closer around one Directory and
// returns the Router that drives them.
func New(cfg Config, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Router{
		cfg:         cfg,
		platform:    deps.Platform,
		dir:         deps.Directory,
		provisioner: NewProvisioner(cfg, deps.Platform, deps.Directory, deps.Audit, logger),
		mirror:      NewMirror(cfg, deps.Platform, deps.Directory, deps.Audit, logger),
		closer:      NewCloser(cfg, deps.Platform, deps.Directory, deps.Deferrer, deps.Audit, logger),
		audit:       auditor{sink: deps.Audit, logger: logger.With("component", "router")},
		logger:      logger.With("component", "router"),
		userLocks:   newKeyedMutex(),
	}
}

// Directory returns the session registry the router operates on.
func (r *Router) Directory() *directory.Directory {
	return r.dir
}

// Closer returns the lifecycle controller.
func (r *Router) Closer() *Closer {
	return r.closer
}

// OnInboundMessage handles one message from any source. It never panics
// and never returns an error: failures are logged, and users writing
// through their conduit get a generic failure notice.
func (r *Router) OnInboundMessage(ctx context.Context, msg InboundMessage) {
	defer r.recoverPanic("message", msg.ChannelID)

	if msg.FromSelf || (r.cfg.SelfID != "" && msg.Sender.ID == r.cfg.SelfID) {
		return
	}

	r.logger.Debug("message received", "source", msg.Source, "sender", msg.Sender.ID, "channel_id", msg.ChannelID)

	switch msg.Source {
	case SourceDirect:
		if err := r.handleDirect(ctx, msg); err != nil {
			r.logger.Error("error handling direct message", "user_id", msg.Sender.ID, "error", err)
			r.notifyFailure(ctx, msg.Sender.ID)
		}
	case SourceChannel:
		r.mirror.ToUser(ctx, msg)
	default:
		r.logger.Debug("ignoring message from unknown source", "channel_id", msg.ChannelID)
	}
}

// handleDirect runs the user path with the user's lock held, so concurrent
// first contacts from one user produce exactly one relay channel and their
// messages are relayed in arrival order.
func (r *Router) handleDirect(ctx context.Context, msg InboundMessage) error {
	userID := msg.Sender.ID
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	channelID, ok := r.dir.LookupChannel(userID)
	if ok && r.isStale(ctx, userID, channelID) {
		ok = false
	}

	if !ok {
		var err error
		channelID, err = r.provisioner.Provision(ctx, msg.Sender)
		var provErr *ProvisioningError
		if errors.As(err, &provErr) {
			// The user was already told ticket creation failed.
			r.logger.Warn("ticket not opened", "user_id", userID, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("provisioning: %w", err)
		}
	}

	if err := r.mirror.ToRelay(ctx, msg, channelID); err != nil {
		return fmt.Errorf("mirroring to relay: %w", err)
	}
	return nil
}

// isStale checks that a session's relay channel still exists, invalidating
// the session when it does not. An inconclusive check keeps the session.
func (r *Router) isStale(ctx context.Context, userID, channelID string) bool {
	exists, err := r.platform.ChannelExists(ctx, channelID)
	if err != nil {
		r.logger.Warn("could not verify relay channel", "channel_id", channelID, "error", err)
		return false
	}
	if exists {
		return false
	}

	r.dir.Invalidate(userID)
	stale := &StaleSessionError{UserID: userID, ChannelID: channelID}
	r.logger.Info("invalidated session", "user_id", userID, "channel_id", channelID, "reason", stale.Error())
	r.audit.record(ctx, store.TicketInvalidated, userID, channelID, "", nil)
	return true
}

// OnChannelGone is called by the adapter when it learns a relay channel was
// removed out from under the bot. The session is dropped so the next
// message from the user opens a fresh ticket.
func (r *Router) OnChannelGone(ctx context.Context, channelID string) {
	userID, ok := r.dir.InvalidateChannel(channelID)
	if !ok {
		return
	}
	r.logger.Info("relay channel gone, session invalidated", "user_id", userID, "channel_id", channelID)
	r.audit.record(ctx, store.TicketInvalidated, userID, channelID, "", map[string]any{"reason": "channel_gone"})
}

// OnCommand handles one command invocation. Only close is recognised.
func (r *Router) OnCommand(ctx context.Context, cmd Command) {
	defer r.recoverPanic("command", cmd.ChannelID)

	if cmd.Name != CommandClose {
		r.logger.Debug("ignoring unknown command", "command", cmd.Name)
		return
	}

	err := r.closer.Close(ctx, cmd)
	switch {
	case err == nil:
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrNotRelayChannel), errors.Is(err, ErrSessionClosing):
		r.logger.Info("close rejected", "channel_id", cmd.ChannelID, "issuer", cmd.Issuer.ID, "reason", err)
	default:
		r.logger.Error("error handling close command", "channel_id", cmd.ChannelID, "error", err)
		if cmd.Responder != nil {
			if replyErr := cmd.Responder.Reply(ctx, msgCloseFailed, true); replyErr != nil {
				r.logger.Error("could not report close failure", "channel_id", cmd.ChannelID, "error", replyErr)
			}
		}
	}
}

func (r *Router) notifyFailure(ctx context.Context, userID string) {
	if err := r.platform.SendDirect(ctx, userID, Text(msgProcessingFailed)); err != nil {
		r.logger.Error("could not send error notice to user", "user_id", userID, "error", err)
	}
}

func (r *Router) recoverPanic(kind, channelID string) {
	if rec := recover(); rec != nil {
		r.logger.Error("panic while handling event", "kind", kind, "channel_id", channelID, "panic", rec, "stack", string(debug.Stack()))
	}
}
