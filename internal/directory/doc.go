// Package directory holds the live session registry for modmail.
//
// A session pairs one end user (reachable through a direct conduit) with
// one relay channel visible to staff. The Directory enforces that the
// pairing is a bijection: at most one channel per user and at most one user
// per channel. Both directions are stored in a single struct guarded by a
// single mutex and are never exposed for independent mutation.
//
// State is in-memory only and is lost on restart;
// after a restart the next message from a user simply opens a new ticket.
//
// The Directory makes each individual operation atomic. Callers that need
// "look up, then create on miss" as one unit (the modmail router does)
// serialise per user on top of it.
package directory
