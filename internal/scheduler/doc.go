// Package scheduler runs one-shot deferred tasks that cannot be cancelled.
//
// Modmail uses it to delete a relay channel a few seconds after the ticket
// is closed, giving clients time to render the closing notice. The contract
// is deliberately narrow: once queued, a task will run. If a user reopens a
// ticket inside the grace window a second relay channel is created and the
// old one is still deleted on schedule.
//
// Wait drains queued tasks during shutdown.
package scheduler
