// ABOUTME: Settings shared by the modmail components
// ABOUTME: Defaults mirror the classic ticket bot: ticket- prefix, 3s close grace, ✅ ack

package modmail

import (
	"strings"
	"time"
)

const (
	DefaultChannelPrefix = "ticket-"
	DefaultCloseDelay    = 3 * time.Second
	DefaultAckMarker     = "✅"

	// CommandClose is the only command the router acts on.
	CommandClose = "close"
)

// Config holds the fixed identities and knobs of a modmail deployment.
type Config struct {
	// SelfID is the bot's own user id; its messages are never relayed.
	SelfID string
	// ParentID is the grouping new relay channels are created under.
	ParentID string
	// StaffRoleID is the role allowed to see relay channels and close them.
	StaffRoleID string
	// ChannelPrefix is prepended to sanitized display names.
	ChannelPrefix string
	// CloseDelay is the grace period between close and channel deletion.
	CloseDelay time.Duration
	// AckMarker is applied to a user's message once it was relayed. Empty
	// disables acknowledgments.
	AckMarker string
}

// withDefaults fills unset knobs. A negative CloseDelay means "delete
// immediately".
func (c Config) withDefaults() Config {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
	if c.CloseDelay == 0 {
		c.CloseDelay = DefaultCloseDelay
	}
	if c.CloseDelay < 0 {
		c.CloseDelay = 0
	}
	return c
}

// ChannelName derives the relay channel name for a user: prefix plus the
// display name lowercased with everything outside [a-z0-9] stripped. Users
// whose name strips to nothing fall back to their id, then to "user".
func ChannelName(prefix string, user User) string {
	name := sanitizeName(user.DisplayName)
	if name == "" {
		name = sanitizeName(user.ID)
	}
	if name == "" {
		name = "user"
	}
	return prefix + name
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
