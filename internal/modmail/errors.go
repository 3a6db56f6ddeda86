// ABOUTME: Error taxonomy for the modmail core
// ABOUTME: Provisioning, delivery, permission, and stale-session failures

package modmail

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the actor lacks the staff role.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotRelayChannel means a command was issued outside a relay channel.
	ErrNotRelayChannel = errors.New("not a relay channel")

	// ErrSessionClosing means a close is already in progress for the channel.
	ErrSessionClosing = errors.New("session already closing")
)

// ProvisioningError is returned when a relay channel could not be created
// for a user. No session was registered.
type ProvisioningError struct {
	UserID string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning relay channel for %s: %v", e.UserID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Direction is the way a message travels through a session.
type Direction string

const (
	ToRelay Direction = "user_to_relay"
	ToUser  Direction = "staff_to_user"
)

// DeliveryError is returned when an outbound send failed.
type DeliveryError struct {
	Direction Direction
	Target    string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s to %s: %v", e.Direction, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StaleSessionError describes a session whose relay channel no longer
// exists. It is logged when the session is invalidated; it never reaches a
// user.
type StaleSessionError struct {
	UserID    string
	ChannelID string
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("stale session: relay channel %s for %s no longer exists", e.ChannelID, e.UserID)
}
