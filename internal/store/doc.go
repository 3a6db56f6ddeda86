// Package store provides the ticket ledger for modmail using SQLite.
//
// # Scope
//
// The ledger is an append-only record of ticket lifecycle facts: a ticket
// was opened, closed (and by whom), a staff reply could not be delivered,
// provisioning failed, or a session was invalidated because its relay
// channel disappeared. It never stores message content and is never read
// back to restore sessions; live session state lives only in
// internal/directory.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Timestamps are stored as Unix nanoseconds so ordering is exact.
//
// # Testing
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) or ":memory:".
package store
