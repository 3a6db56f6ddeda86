// ABOUTME: modmail.Platform implementation on top of the Matrix client-server API
// ABOUTME: DMs, relay rooms under the support space, reactions, and profile lookups

package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-modmail/internal/modmail"
)

var _ modmail.Platform = (*Bridge)(nil)

// Power levels for relay rooms: the bot administers, staff post.
const (
	botPowerLevel   = 100
	staffPowerLevel = 0
)

// SendDirect posts msg into the user's DM conduit, creating one when the
// bot does not share a DM with them yet.
func (b *Bridge) SendDirect(ctx context.Context, userID string, msg modmail.Message) error {
	roomID, err := b.conduitFor(ctx, id.UserID(userID))
	if err != nil {
		return err
	}
	return b.send(ctx, roomID, renderMessage(msg))
}

// SendToChannel posts msg into a relay room.
func (b *Bridge) SendToChannel(ctx context.Context, channelID string, msg modmail.Message) error {
	return b.send(ctx, id.RoomID(channelID), renderMessage(msg))
}

func (b *Bridge) send(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	if _, err := b.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending to %s: %w", roomID, err)
	}
	return nil
}

func (b *Bridge) userLock(userID id.UserID) *sync.Mutex {
	b.dmMu.Lock()
	defer b.dmMu.Unlock()
	l, ok := b.dmLocks[userID.String()]
	if !ok {
		l = &sync.Mutex{}
		b.dmLocks[userID.String()] = l
	}
	return l
}

// conduitFor returns the user's DM room, opening a new one if needed.
func (b *Bridge) conduitFor(ctx context.Context, userID id.UserID) (id.RoomID, error) {
	l := b.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if room, ok := b.conduits.roomFor(userID.String()); ok {
		return id.RoomID(room), nil
	}

	resp, err := b.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		IsDirect: true,
		Invite:   []id.UserID{userID},
	})
	if err != nil {
		if isGone(err) {
			return "", fmt.Errorf("opening DM with %s: %w", userID, modmail.ErrUserNotFound)
		}
		return "", fmt.Errorf("opening DM with %s: %w", userID, err)
	}
	b.conduits.set(userID.String(), resp.RoomID.String())
	b.logger.Info("opened direct conduit", "user_id", userID, "room", resp.RoomID)
	return resp.RoomID, nil
}

// CreateChannel creates a private relay room linked into the support space.
// Access control maps onto Matrix as follows: the default audience is kept
// out by a restricted join rule, a role grant becomes "members of the staff
// room may join", and the bot gets admin power. Current staff are invited.
func (b *Bridge) CreateChannel(ctx context.Context, spec modmail.ChannelSpec) (string, error) {
	req := b.createRoomRequest(spec)

	resp, err := b.client.CreateRoom(ctx, req)
	if err != nil {
		return "", fmt.Errorf("creating relay room %q: %w", spec.Name, err)
	}
	roomID := resp.RoomID

	if spec.ParentID != "" {
		child := &event.SpaceChildEventContent{Via: []string{b.serverName()}}
		if _, err := b.client.SendStateEvent(ctx, id.RoomID(spec.ParentID), event.StateSpaceChild, roomID.String(), child); err != nil {
			b.abandon(ctx, roomID)
			return "", fmt.Errorf("linking relay room into space %s: %w", spec.ParentID, err)
		}
	}

	b.relays.add(roomID.String())
	b.logger.Info("created relay room", "room", roomID, "name", spec.Name)
	return roomID.String(), nil
}

// createRoomRequest translates a ChannelSpec into a room creation request.
func (b *Bridge) createRoomRequest(spec modmail.ChannelSpec) *mautrix.ReqCreateRoom {
	self := b.client.UserID
	users := map[id.UserID]int{self: botPowerLevel}

	var allow []event.JoinRuleAllow
	for _, o := range spec.Overwrites {
		if o.Kind == modmail.SubjectRole && lo.Contains(o.Allow, modmail.PermView) && o.ID != "" {
			allow = append(allow, event.JoinRuleAllow{RoomID: id.RoomID(o.ID), Type: event.JoinRuleAllowRoomMembership})
		}
		if o.Kind == modmail.SubjectSelf && o.ID != "" {
			users[id.UserID(o.ID)] = botPowerLevel
		}
	}

	joinRule := event.JoinRuleInvite
	if len(allow) > 0 {
		joinRule = event.JoinRuleRestricted
	}

	initial := []*event.Event{
		stateEvent(event.StateJoinRules, "", &event.JoinRulesEventContent{JoinRule: joinRule, Allow: allow}),
		stateEvent(event.StateHistoryVisibility, "", &event.HistoryVisibilityEventContent{HistoryVisibility: event.HistoryVisibilityShared}),
	}
	if spec.ParentID != "" {
		initial = append(initial, stateEvent(event.StateSpaceParent, spec.ParentID,
			&event.SpaceParentEventContent{Via: []string{b.serverName()}, Canonical: true}))
	}

	// Staff are invited so the announcement's @room reaches them; the join
	// rule still lets later staff members in on their own.
	invite := lo.FilterMap(b.staff.list(), func(u string, _ int) (id.UserID, bool) {
		return id.UserID(u), id.UserID(u) != self
	})

	return &mautrix.ReqCreateRoom{
		Visibility:   "private",
		Preset:       "private_chat",
		Name:         spec.Name,
		Topic:        spec.Topic,
		Invite:       invite,
		InitialState: initial,
		PowerLevelOverride: &event.PowerLevelsEventContent{
			Users:         users,
			UsersDefault:  staffPowerLevel,
			EventsDefault: staffPowerLevel,
		},
	}
}

func stateEvent(t event.Type, stateKey string, content any) *event.Event {
	key := stateKey
	return &event.Event{
		Type:     t,
		StateKey: &key,
		Content:  event.Content{Parsed: content},
	}
}

// abandon leaves and forgets a half-built room.
func (b *Bridge) abandon(ctx context.Context, roomID id.RoomID) {
	if _, err := b.client.LeaveRoom(ctx, roomID); err != nil {
		b.logger.Warn("could not leave abandoned room", "room", roomID, "error", err)
		return
	}
	if _, err := b.client.ForgetRoom(ctx, roomID); err != nil {
		b.logger.Debug("could not forget abandoned room", "room", roomID, "error", err)
	}
}

// DeleteChannel tears a relay room down: unlink it from the space, remove
// every member, then leave and forget it. A room that is already gone
// counts as deleted.
func (b *Bridge) DeleteChannel(ctx context.Context, channelID string) error {
	roomID := id.RoomID(channelID)
	b.relays.remove(channelID)

	if _, err := b.client.SendStateEvent(ctx, id.RoomID(b.opts.SpaceID), event.StateSpaceChild, channelID, &event.SpaceChildEventContent{}); err != nil {
		b.logger.Warn("could not unlink relay room from space", "room", channelID, "error", err)
	}

	members, err := b.client.JoinedMembers(ctx, roomID)
	if err != nil {
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("listing members of %s: %w", channelID, err)
	}
	for uid := range members.Joined {
		if uid == b.client.UserID {
			continue
		}
		if _, err := b.client.KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: uid, Reason: "Ticket closed"}); err != nil {
			b.logger.Warn("could not remove member from relay room", "room", channelID, "user_id", uid, "error", err)
		}
	}

	if _, err := b.client.LeaveRoom(ctx, roomID); err != nil && !isGone(err) {
		return fmt.Errorf("leaving %s: %w", channelID, err)
	}
	if _, err := b.client.ForgetRoom(ctx, roomID); err != nil && !isGone(err) {
		b.logger.Debug("could not forget relay room", "room", channelID, "error", err)
	}
	return nil
}

// ChannelExists reports whether the bot can still read the room's state.
func (b *Bridge) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var create event.CreateEventContent
	err := b.client.StateEvent(ctx, id.RoomID(channelID), event.StateCreate, "", &create)
	switch {
	case err == nil:
		return true, nil
	case isGone(err):
		return false, nil
	default:
		return false, fmt.Errorf("checking room %s: %w", channelID, err)
	}
}

// FetchUser resolves a profile. Unknown users map to modmail.ErrUserNotFound.
func (b *Bridge) FetchUser(ctx context.Context, userID string) (modmail.User, error) {
	uid := id.UserID(userID)
	if _, _, err := uid.Parse(); err != nil {
		return modmail.User{}, fmt.Errorf("%w: %v", modmail.ErrUserNotFound, err)
	}

	profile, err := b.client.GetProfile(ctx, uid)
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return modmail.User{}, modmail.ErrUserNotFound
		}
		return modmail.User{}, fmt.Errorf("fetching profile of %s: %w", userID, err)
	}

	u := modmail.User{ID: userID, DisplayName: profile.DisplayName}
	if !profile.AvatarURL.IsEmpty() {
		u.AvatarURL = profile.AvatarURL.String()
	}
	return u, nil
}

// React annotates a message with marker.
func (b *Bridge) React(ctx context.Context, channelID, messageID, marker string) error {
	if _, err := b.client.SendReaction(ctx, id.RoomID(channelID), id.EventID(messageID), marker); err != nil {
		return fmt.Errorf("reacting to %s: %w", messageID, err)
	}
	return nil
}

// replyResponder answers a command with notices threaded to it. Matrix has
// no ephemeral messages, so private replies are visible to the room.
type replyResponder struct {
	bridge  *Bridge
	roomID  id.RoomID
	eventID id.EventID
}

func (r *replyResponder) Reply(ctx context.Context, text string, private bool) error {
	content := renderMessage(modmail.Text(text))
	content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: r.eventID}}
	return r.bridge.send(ctx, r.roomID, content)
}

func (r *replyResponder) FollowUp(ctx context.Context, text string) error {
	return r.bridge.send(ctx, r.roomID, renderMessage(modmail.Text(text)))
}
