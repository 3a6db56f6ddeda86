// ABOUTME: Translates Matrix timeline events into modmail messages, commands, and lifecycle signals
// ABOUTME: Classifies rooms as DM conduits or shared rooms and keeps the staff roster current

package matrix

import (
	"context"
	"errors"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-modmail/internal/modmail"
)

// handleMessage turns one m.room.message into a modmail event.
func (b *Bridge) handleMessage(ctx context.Context, h Handler, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	// Edits arrive as new events; only the original is relayed.
	if content.RelatesTo != nil && content.RelatesTo.GetReplaceID() != "" {
		return
	}

	roomID := evt.RoomID.String()
	source := b.classify(ctx, evt.RoomID, evt.Sender)

	// Only close is a command; any other prefixed text is an ordinary reply.
	if source == modmail.SourceChannel {
		if name, ok := parseCommand(b.opts.CommandPrefix, content.Body); ok && name == modmail.CommandClose {
			h.OnCommand(ctx, modmail.Command{
				Name:          name,
				ChannelID:     roomID,
				Issuer:        b.member(ctx, evt.RoomID, evt.Sender),
				IssuerIsStaff: b.staff.isStaff(evt.Sender.String()),
				Responder:     &replyResponder{bridge: b, roomID: evt.RoomID, eventID: evt.ID},
				Timestamp:     eventTime(evt),
			})
			return
		}
	}

	text, attachments := b.extractContent(content)
	h.OnInboundMessage(ctx, modmail.InboundMessage{
		ID:            evt.ID.String(),
		Source:        source,
		ChannelID:     roomID,
		Sender:        b.member(ctx, evt.RoomID, evt.Sender),
		Text:          text,
		Attachments:   attachments,
		SenderIsStaff: b.staff.isStaff(evt.Sender.String()),
		Timestamp:     eventTime(evt),
	})
}

// classify decides whether a room is a user's DM conduit. Relay rooms, the
// staff room, and anything linked to the space are shared rooms. Unknown
// rooms with exactly the bot and the sender are adopted as conduits.
func (b *Bridge) classify(ctx context.Context, roomID id.RoomID, sender id.UserID) modmail.Source {
	room := roomID.String()
	switch {
	case room == b.opts.StaffRoomID, room == b.opts.SpaceID, b.relays.has(room):
		return modmail.SourceChannel
	}
	if user, ok := b.conduits.userFor(room); ok {
		if user == sender.String() {
			return modmail.SourceDirect
		}
		return modmail.SourceChannel
	}

	if b.inSpace(ctx, roomID) {
		b.relays.add(room)
		return modmail.SourceChannel
	}

	members, err := b.client.JoinedMembers(ctx, roomID)
	if err != nil {
		b.logger.Warn("could not classify room", "room", room, "error", err)
		return modmail.SourceUnknown
	}
	if len(members.Joined) == 2 {
		if _, ok := members.Joined[sender]; ok {
			b.conduits.set(sender.String(), room)
			b.logger.Info("adopted direct conduit", "user_id", sender, "room", room)
			return modmail.SourceDirect
		}
	}
	return modmail.SourceChannel
}

// inSpace reports whether the room declares the configured space as its
// parent, which marks relay rooms left over from an earlier run.
func (b *Bridge) inSpace(ctx context.Context, roomID id.RoomID) bool {
	var parent event.SpaceParentEventContent
	err := b.client.StateEvent(ctx, roomID, event.StateSpaceParent, b.opts.SpaceID, &parent)
	return err == nil && len(parent.Via) > 0
}

// member resolves the display name and avatar a user has in a room,
// falling back to their global profile and then the bare id.
func (b *Bridge) member(ctx context.Context, roomID id.RoomID, userID id.UserID) modmail.User {
	u := modmail.User{ID: userID.String()}

	var m event.MemberEventContent
	if err := b.client.StateEvent(ctx, roomID, event.StateMember, userID.String(), &m); err == nil && m.Displayname != "" {
		u.DisplayName = m.Displayname
		u.AvatarURL = string(m.AvatarURL)
		return u
	}
	if p, err := b.client.GetProfile(ctx, userID); err == nil {
		u.DisplayName = p.DisplayName
		if !p.AvatarURL.IsEmpty() {
			u.AvatarURL = p.AvatarURL.String()
		}
	}
	return u
}

// extractContent returns the text and file references of a message.
func (b *Bridge) extractContent(content *event.MessageEventContent) (string, []modmail.Attachment) {
	switch content.MsgType {
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
		name := content.FileName
		caption := ""
		if name == "" {
			name = content.Body
		} else if content.Body != name {
			caption = content.Body
		}
		uri := content.URL
		if content.File != nil {
			uri = content.File.URL
		}
		return caption, []modmail.Attachment{{Filename: name, URL: b.downloadURL(uri)}}
	default:
		return stripReplyFallback(content.Body), nil
	}
}

// downloadURL converts an mxc:// reference into an authenticated-media
// download link on the bot's homeserver.
func (b *Bridge) downloadURL(uri id.ContentURIString) string {
	parsed, err := uri.Parse()
	if err != nil || parsed.IsEmpty() {
		return string(uri)
	}
	base := strings.TrimSuffix(b.opts.Homeserver, "/")
	return base + "/_matrix/client/v1/media/download/" + parsed.Homeserver + "/" + parsed.FileID
}

// handleMember tracks invites, the staff roster, conduits, and relay rooms
// the bot was removed from.
func (b *Bridge) handleMember(ctx context.Context, h Handler, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}
	target := id.UserID(evt.GetStateKey())
	room := evt.RoomID.String()

	if room == b.opts.StaffRoomID && target != b.client.UserID {
		switch content.Membership {
		case event.MembershipJoin:
			b.staff.add(target.String())
			b.logger.Info("staff member added", "user_id", target)
		case event.MembershipLeave, event.MembershipBan:
			b.staff.remove(target.String())
			b.logger.Info("staff member removed", "user_id", target)
		}
		return
	}

	if target == b.client.UserID {
		switch content.Membership {
		case event.MembershipInvite:
			b.acceptInvite(ctx, evt, content)
		case event.MembershipLeave, event.MembershipBan:
			b.conduits.forgetRoom(room)
			if b.relays.has(room) {
				b.relays.remove(room)
				h.OnChannelGone(ctx, room)
			}
		}
		return
	}

	// A user walking out of their conduit; the bot leaves too so the next
	// reply opens a fresh DM.
	if content.Membership == event.MembershipLeave || content.Membership == event.MembershipBan {
		if user, ok := b.conduits.userFor(room); ok && user == target.String() {
			b.conduits.forgetRoom(room)
			if _, err := b.client.LeaveRoom(ctx, evt.RoomID); err != nil {
				b.logger.Debug("could not leave abandoned conduit", "room", room, "error", err)
			}
			b.logger.Info("conduit closed by user", "user_id", target, "room", room)
		}
	}
}

// acceptInvite joins DMs and the configured rooms. Other invites are left
// pending.
func (b *Bridge) acceptInvite(ctx context.Context, evt *event.Event, content *event.MemberEventContent) {
	room := evt.RoomID.String()
	configured := room == b.opts.SpaceID || room == b.opts.StaffRoomID
	if !content.IsDirect && !configured {
		b.logger.Info("ignoring invite", "room", room, "inviter", evt.Sender)
		return
	}

	if _, err := b.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Error("failed to accept invite", "room", room, "inviter", evt.Sender, "error", err)
		return
	}
	if content.IsDirect && !configured {
		b.conduits.set(evt.Sender.String(), room)
		b.logger.Info("accepted direct invite", "user_id", evt.Sender, "room", room)
		return
	}
	b.logger.Info("joined configured room", "room", room)
	if room == b.opts.StaffRoomID {
		if err := b.loadStaff(ctx); err != nil {
			b.logger.Error("could not load staff roster", "error", err)
		}
	}
}

// parseCommand recognises "<prefix><name> [args]" and returns the lowercased
// name.
func parseCommand(prefix, body string) (string, bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// stripReplyFallback drops the "> quoted" lines clients prepend to replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

func eventTime(evt *event.Event) time.Time {
	if evt.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(evt.Timestamp).UTC()
}

// isGone reports whether a Matrix error means the room or user no longer
// exists or is no longer reachable by the bot.
func isGone(err error) bool {
	return errors.Is(err, mautrix.MNotFound) || errors.Is(err, mautrix.MForbidden)
}
