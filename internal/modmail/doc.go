// Package modmail implements the session and routing core of the modmail
// relay.
//
// # Overview
//
// An end user writes to the bot through a private conduit. On first contact
// the bot opens a relay channel that only staff (and the bot) can see, and
// from then on mirrors messages both ways:
//
//   - user → relay: every conduit message is posted into the relay channel
//     as a "User Message" card and acknowledged with a reaction.
//   - staff → user: messages from staff members inside a relay channel are
//     delivered to the user as "Staff Response" cards. Non-staff chatter in
//     the channel stays there.
//
// Staff end a session with the close command inside the relay channel.
//
// # Components
//
//   - Provisioner: creates and announces relay channels.
//   - Mirror: renders and delivers messages in both directions.
//   - Closer: lifecycle controller (open → closing → closed).
//   - Router: classifies inbound events and contains all failures.
//
// All of them share one *directory.Directory injected by the caller.
//
// # Concurrency
//
// The adapter may call the Router from many goroutines. The user path holds
// a per-user lock from "look up session" to "mirror message", which rules
// out duplicate relay channels for one user and keeps that user's messages
// in order. Different users never contend. Staff replies only read the
// Directory.
//
// # Platform
//
// The chat network is reached through the Platform interface; see
// internal/matrix for the Matrix implementation.
package modmail
