// Package matrix connects the modmail core to a Matrix homeserver.
//
// # Mapping
//
// A user's private conduit is a two-member direct-message room. Invites
// flagged is_direct are accepted automatically; the bot also opens DMs
// itself when it needs to reach a user.
//
// A relay channel is a private room created under the configured support
// space. Its join rule is restricted to members of the staff room, which is
// how the staff role is expressed: whoever is joined to the staff room is
// staff. Current staff are invited to each new relay room and the
// announcement pings them with an @room mention.
//
// Commands are plain messages starting with the command prefix (default
// "!"), e.g. "!close" in a relay room. Replies are m.notice events threaded
// to the command. Close is the only command; other prefixed text is relayed
// like any other reply.
//
// # Ordering and Shutdown
//
// Events are deduplicated by event id and handled on a per-room queue, so
// messages from one room are processed in timeline order while rooms run in
// parallel. Run returns after queued events have been handled.
//
// # Encryption
//
// Setting a recovery key enables E2EE through the mautrix crypto helper
// with a SQLite store under the data directory.
package matrix
