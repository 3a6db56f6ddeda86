// ABOUTME: Platform-neutral rendered message model (cards) and the modmail card builders
// ABOUTME: Adapters turn a Message into whatever rich format their network supports

package modmail

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Color is an accent color in 0xRRGGBB form.
type Color int

const (
	ColorOpened  Color = 0x00ff00
	ColorUser    Color = 0x3498db
	ColorStaff   Color = 0xe74c3c
	ColorClosed  Color = 0xff9900
	ColorNeutral Color = 0
)

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", int(c))
}

// Field is a labelled value on a card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Author is the byline shown at the top of a card.
type Author struct {
	Name    string
	IconURL string
}

// Message is a rendered outbound message. A message with only Content set
// is plain text; anything else makes it a card. Text values use markdown.
type Message struct {
	Content string
	// MentionStaff asks the adapter to ping the staff role ahead of Content.
	MentionStaff bool

	Title       string
	Description string
	Author      *Author
	Thumbnail   string
	Fields      []Field
	Footer      string
	Timestamp   time.Time
	Color       Color
}

// Text builds a plain text message.
func Text(s string) Message {
	return Message{Content: s}
}

// IsCard reports whether the message carries card parts beyond Content.
func (m Message) IsCard() bool {
	return m.Title != "" || m.Description != "" || m.Author != nil ||
		len(m.Fields) > 0 || m.Footer != "" || m.Thumbnail != ""
}

const (
	footerUserMessage   = "User Message"
	footerStaffResponse = "Staff Response"
	noTextContent       = "*No text content*"
	attachmentsField    = "📎 Attachments"
	staffAuthorPrefix   = "Staff: "
)

// Fixed user-facing copy.
const (
	msgTicketCreateFailed = "❌ Sorry, there was an error creating your ticket. Please try again later or contact an administrator."
	msgProcessingFailed   = "❌ Sorry, there was an error processing your message. Please try again or contact an administrator."
	msgDeliveryWarning    = "⚠️ **Warning:** Could not deliver this message to the user. They may have DMs disabled or have left the server."
	msgNoPermission       = "❌ You do not have permission to use this command."
	msgNotTicketChannel   = "❌ This command can only be used in ticket channels."
	msgAlreadyClosing     = "❌ This ticket is already being closed."
	msgClosing            = "🔄 Closing ticket..."
	msgCloseNotifyWarning = "⚠️ **Warning:** Could not notify the user about ticket closure."
	msgCloseFailed        = "❌ An error occurred while closing the ticket."
)

// formatTime renders timestamps shown inside cards.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// announcementCard is posted into a new relay channel.
func announcementCard(user User, createdAt time.Time) Message {
	return Message{
		Content:      "New ticket created!",
		MentionStaff: true,
		Title:        "🎫 New Ticket Created",
		Description:  fmt.Sprintf("Ticket created for %s (%s)", user.Name(), user.ID),
		Fields: []Field{
			{Name: "👤 User", Value: user.Name(), Inline: true},
			{Name: "🆔 User ID", Value: user.ID, Inline: true},
			{Name: "📅 Created", Value: formatTime(createdAt), Inline: true},
		},
		Thumbnail: user.AvatarURL,
		Timestamp: createdAt,
		Color:     ColorOpened,
	}
}

// mirrorCard renders a relayed message in either direction.
func mirrorCard(msg InboundMessage, authorName, footer string, color Color, at time.Time) Message {
	description := msg.Text
	if strings.TrimSpace(description) == "" {
		description = noTextContent
	}

	card := Message{
		Author:      &Author{Name: authorName, IconURL: msg.Sender.AvatarURL},
		Description: description,
		Footer:      footer,
		Timestamp:   at,
		Color:       color,
	}

	if len(msg.Attachments) > 0 {
		links := lo.Map(msg.Attachments, func(a Attachment, _ int) string {
			return fmt.Sprintf("[%s](%s)", a.Filename, a.URL)
		})
		card.Fields = append(card.Fields, Field{Name: attachmentsField, Value: strings.Join(links, "\n")})
	}
	return card
}

// closureCard is sent to the user when staff closes their ticket.
func closureCard(closedBy User, closedAt time.Time) Message {
	return Message{
		Title:       "🎫 Ticket Closed",
		Description: "This ticket has been closed by our staff team.",
		Fields: []Field{
			{Name: "👤 Closed by", Value: closedBy.Name(), Inline: true},
			{Name: "📅 Closed at", Value: formatTime(closedAt), Inline: true},
		},
		Timestamp: closedAt,
		Color:     ColorClosed,
	}
}
