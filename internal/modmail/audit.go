// ABOUTME: Best-effort audit trail of ticket lifecycle events
// ABOUTME: Failures to record are logged and never affect message handling

package modmail

import (
	"context"
	"log/slog"

	"github.com/2389/coven-modmail/internal/store"
)

// AuditSink receives ticket lifecycle events.
type AuditSink interface {
	AppendTicketEvent(ctx context.Context, e *store.TicketEvent) error
}

type auditor struct {
	sink   AuditSink
	logger *slog.Logger
}

func (a auditor) record(ctx context.Context, kind store.TicketEventKind, userID, channelID, actorID string, detail map[string]any) {
	if a.sink == nil {
		return
	}
	e := &store.TicketEvent{
		Kind:      kind,
		UserID:    userID,
		ChannelID: channelID,
		ActorID:   actorID,
		Detail:    detail,
	}
	if err := a.sink.AppendTicketEvent(ctx, e); err != nil {
		a.logger.Warn("failed to record ticket event", "kind", kind, "user_id", userID, "channel_id", channelID, "error", err)
	}
}
