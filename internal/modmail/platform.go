// ABOUTME: Port between the modmail core and the chat platform adapter
// ABOUTME: Declares the outbound capabilities and the inbound event descriptors

package modmail

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by Platform.FetchUser when the id resolves to
// nobody.
var ErrUserNotFound = errors.New("user not found")

// User identifies an external party or a staff member.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Name returns the best human-readable label for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// Attachment is a file reference carried by an inbound message. Files are
// never re-uploaded; only the reference travels.
type Attachment struct {
	Filename string
	URL      string
}

// Permission is a capability granted or denied on a relay channel.
type Permission string

const (
	PermView        Permission = "view"
	PermSend        Permission = "send"
	PermReadHistory Permission = "read_history"
)

// SubjectKind says who an Overwrite applies to.
type SubjectKind string

const (
	// SubjectEveryone is the default audience of the parent grouping.
	SubjectEveryone SubjectKind = "everyone"
	// SubjectRole is a role; ID names it.
	SubjectRole SubjectKind = "role"
	// SubjectSelf is the bot's own identity.
	SubjectSelf SubjectKind = "self"
)

// Overwrite is one access-control entry on a new channel.
type Overwrite struct {
	Kind  SubjectKind
	ID    string
	Allow []Permission
	Deny  []Permission
}

// ChannelSpec describes a relay channel to create.
type ChannelSpec struct {
	Name       string
	Topic      string
	ParentID   string
	Overwrites []Overwrite
}

// Platform is everything the core needs from the chat network. Calls may be
// made concurrently for different sessions.
type Platform interface {
	// SendDirect delivers a message through the user's private conduit,
	// opening one if necessary.
	SendDirect(ctx context.Context, userID string, msg Message) error

	// SendToChannel posts a message into a relay channel.
	SendToChannel(ctx context.Context, channelID string, msg Message) error

	// CreateChannel creates a relay channel and returns its id.
	CreateChannel(ctx context.Context, spec ChannelSpec) (string, error)

	// DeleteChannel tears a relay channel down.
	DeleteChannel(ctx context.Context, channelID string) error

	// ChannelExists reports whether a relay channel still resolves. An error
	// means the answer is unknown.
	ChannelExists(ctx context.Context, channelID string) (bool, error)

	// FetchUser resolves a user id to a profile. Returns ErrUserNotFound
	// when the id does not resolve.
	FetchUser(ctx context.Context, userID string) (User, error)

	// React applies a marker to a message.
	React(ctx context.Context, channelID, messageID, marker string) error
}

// Source classifies where an inbound message was sent.
type Source int

const (
	// SourceUnknown messages are dropped by the router.
	SourceUnknown Source = iota
	// SourceDirect is the private one-to-one conduit with a user.
	SourceDirect
	// SourceChannel is a shared channel that may be a relay channel.
	SourceChannel
)

func (s Source) String() string {
	switch s {
	case SourceDirect:
		return "direct"
	case SourceChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// InboundMessage is the platform-neutral descriptor of one received message.
type InboundMessage struct {
	ID            string
	Source        Source
	ChannelID     string
	Sender        User
	Text          string
	Attachments   []Attachment
	SenderIsStaff bool
	FromSelf      bool
	Timestamp     time.Time
}

// Responder answers the issuer of a command.
type Responder interface {
	// Reply answers the command. Private replies should only be visible to
	// the issuer where the platform allows it.
	Reply(ctx context.Context, text string, private bool) error

	// FollowUp posts an additional message after Reply.
	FollowUp(ctx context.Context, text string) error
}

// Command is the descriptor of one command invocation.
type Command struct {
	Name          string
	ChannelID     string
	Issuer        User
	IssuerIsStaff bool
	Responder     Responder
	Timestamp     time.Time
}
