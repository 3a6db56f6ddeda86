// ABOUTME: Ticket lifecycle ledger entries and their store methods
// ABOUTME: Records when tickets open, close, fail delivery, or go stale; never message content

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TicketEventKind is what happened to a ticket.
type TicketEventKind string

const (
	TicketOpened          TicketEventKind = "opened"
	TicketClosed          TicketEventKind = "closed"
	TicketDeliveryFailed  TicketEventKind = "delivery_failed"
	TicketProvisionFailed TicketEventKind = "provision_failed"
	TicketInvalidated     TicketEventKind = "invalidated"
)

// ValidTicketEventKinds lists every kind the ledger accepts.
var ValidTicketEventKinds = []TicketEventKind{
	TicketOpened,
	TicketClosed,
	TicketDeliveryFailed,
	TicketProvisionFailed,
	TicketInvalidated,
}

// IsValid reports whether k is a known kind.
func (k TicketEventKind) IsValid() bool {
	for _, v := range ValidTicketEventKinds {
		if k == v {
			return true
		}
	}
	return false
}

// TicketEvent is one ledger row.
type TicketEvent struct {
	ID        string          // UUID v4
	Kind      TicketEventKind // what happened
	UserID    string          // the end user the ticket belongs to
	ChannelID string          // relay channel, empty if none was created
	ActorID   string          // who caused it (staff for closes), may be empty
	CreatedAt time.Time
	Detail    map[string]any
}

// TicketEventFilter narrows ListTicketEvents. Nil fields match everything.
type TicketEventFilter struct {
	UserID    *string
	ChannelID *string
	Kind      *TicketEventKind
	Since     *time.Time
	Limit     int // default 100, max 1000
}

// AppendTicketEvent appends e to the ledger, filling ID and CreatedAt when
// unset.
func (s *SQLiteStore) AppendTicketEvent(ctx context.Context, e *TicketEvent) error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid ticket event kind %q", e.Kind)
	}
	if e.UserID == "" {
		return fmt.Errorf("ticket event requires a user id")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling ticket event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO ticket_events (event_id, kind, user_id, channel_id, actor_id, created_at, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.UserID,
		e.ChannelID,
		e.ActorID,
		e.CreatedAt.UnixNano(),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting ticket event: %w", err)
	}

	s.logger.Debug("appended ticket event", "id", e.ID, "kind", e.Kind, "user_id", e.UserID, "channel_id", e.ChannelID)
	return nil
}

// normalizeLimit applies the default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const ticketEventsQuery = `
	SELECT event_id, kind, user_id, channel_id, actor_id, created_at, detail_json
	FROM ticket_events
	WHERE (? IS NULL OR user_id = ?)
	  AND (? IS NULL OR channel_id = ?)
	  AND (? IS NULL OR kind = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
`

// ListTicketEvents returns ledger rows matching f, newest first.
func (s *SQLiteStore) ListTicketEvents(ctx context.Context, f TicketEventFilter) ([]TicketEvent, error) {
	var kind *string
	if f.Kind != nil {
		k := string(*f.Kind)
		kind = &k
	}
	var since *int64
	if f.Since != nil {
		n := f.Since.UnixNano()
		since = &n
	}

	rows, err := s.db.QueryContext(ctx, ticketEventsQuery,
		f.UserID, f.UserID,
		f.ChannelID, f.ChannelID,
		kind, kind,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying ticket events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []TicketEvent{}
	for rows.Next() {
		var e TicketEvent
		var kindStr string
		var createdAt int64
		var detailJSON *string

		if err := rows.Scan(&e.ID, &kindStr, &e.UserID, &e.ChannelID, &e.ActorID, &createdAt, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning ticket event: %w", err)
		}
		e.Kind = TicketEventKind(kindStr)
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ticket events: %w", err)
	}
	return events, nil
}

// TicketStats summarises the ledger.
type TicketStats struct {
	Opened         int
	Closed         int
	DeliveryFailed int
}

// CountTicketEvents tallies ledger rows by kind.
func (s *SQLiteStore) CountTicketEvents(ctx context.Context) (TicketStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM ticket_events GROUP BY kind`)
	if err != nil {
		return TicketStats{}, fmt.Errorf("counting ticket events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats TicketStats
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return TicketStats{}, fmt.Errorf("scanning count: %w", err)
		}
		switch TicketEventKind(kind) {
		case TicketOpened:
			stats.Opened = n
		case TicketClosed:
			stats.Closed = n
		case TicketDeliveryFailed:
			stats.DeliveryFailed = n
		}
	}
	return stats, rows.Err()
}
