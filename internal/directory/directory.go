// ABOUTME: In-memory bidirectional registry of live modmail sessions
// ABOUTME: Keeps user->channel and channel->user in lockstep under one mutex

package directory

import (
	"fmt"
	"sort"
	"sync"
)

// Session pairs one end user with the relay channel serving them.
type Session struct {
	UserID    string
	ChannelID string
}

// ConflictError is returned by Create when either side of the pair is
// already registered. Seeing one outside tests means a caller skipped the
// per-user lock.
type ConflictError struct {
	UserID    string
	ChannelID string
	// Existing is the pair that already occupies the conflicting key.
	Existing Session
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("directory conflict: cannot pair user %s with channel %s, already paired %s<->%s",
		e.UserID, e.ChannelID, e.Existing.UserID, e.Existing.ChannelID)
}

// Directory maps end users to relay channels and back. Both maps are only
// ever touched together, so a reader never sees half of a pair.
// The zero value is not usable; call New.
type Directory struct {
	mu        sync.RWMutex
	byUser    map[string]string
	byChannel map[string]string
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		byUser:    make(map[string]string),
		byChannel: make(map[string]string),
	}
}

// LookupChannel returns the relay channel for a user.
func (d *Directory) LookupChannel(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	channelID, ok := d.byUser[userID]
	return channelID, ok
}

// LookupUser returns the user a relay channel serves.
func (d *Directory) LookupUser(channelID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userID, ok := d.byChannel[channelID]
	return userID, ok
}

// Create registers a new session. It fails with *ConflictError if the user
// or the channel already belongs to a live session; nothing is written in
// that case.
func (d *Directory) Create(userID, channelID string) error {
	if userID == "" || channelID == "" {
		return fmt.Errorf("directory: empty id (user=%q channel=%q)", userID, channelID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byUser[userID]; ok {
		return &ConflictError{UserID: userID, ChannelID: channelID, Existing: Session{UserID: userID, ChannelID: existing}}
	}
	if existing, ok := d.byChannel[channelID]; ok {
		return &ConflictError{UserID: userID, ChannelID: channelID, Existing: Session{UserID: existing, ChannelID: channelID}}
	}

	d.byUser[userID] = channelID
	d.byChannel[channelID] = userID
	return nil
}

// Remove deletes the session pairing userID with channelID. Removing a pair
// that is not registered is a no-op. If userID is now paired with some other
// channel (a newer session) that session is left alone.
// Reports whether a session was removed.
func (d *Directory) Remove(userID, channelID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byUser[userID] != channelID {
		return false
	}
	delete(d.byUser, userID)
	delete(d.byChannel, channelID)
	return true
}

// Invalidate drops whatever session the user has, returning the channel it
// pointed at. Used when the relay channel turned out to no longer exist.
func (d *Directory) Invalidate(userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	channelID, ok := d.byUser[userID]
	if !ok {
		return "", false
	}
	delete(d.byUser, userID)
	delete(d.byChannel, channelID)
	return channelID, true
}

// InvalidateChannel is Invalidate keyed by channel, for when the platform
// reports a relay channel gone before any user message notices it.
func (d *Directory) InvalidateChannel(channelID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.byChannel[channelID]
	if !ok {
		return "", false
	}
	delete(d.byChannel, channelID)
	delete(d.byUser, userID)
	return userID, true
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}

// Sessions returns a snapshot of all live sessions ordered by user ID.
func (d *Directory) Sessions() []Session {
	d.mu.RLock()
	sessions := make([]Session, 0, len(d.byUser))
	for userID, channelID := range d.byUser {
		sessions = append(sessions, Session{UserID: userID, ChannelID: channelID})
	}
	d.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})
	return sessions
}
