// ABOUTME: Deferred task runner for irreversible follow-up actions
// ABOUTME: Tasks fire once after a delay, cannot be cancelled, and can be drained on shutdown

package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is a unit of deferred work. The context it receives is detached from
// whatever request queued it; tasks always run to completion.
type Task func(ctx context.Context)

// Scheduler runs tasks after a fixed delay.
//
// Once After returns the task is committed: there is no handle to cancel it
// and shutting down only waits for it. Callers that need to undo a queued
// action must make the action itself tolerate running late.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending sync.WaitGroup
	queued  int
	ctx     context.Context
}

// New creates a Scheduler. Tasks run with a context derived from
// context.Background so request cancellation never aborts them.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		ctx:    context.Background(),
	}
}

// After queues task to run once delay has elapsed. A non-positive delay runs
// the task on its own goroutine immediately.
func (s *Scheduler) After(name string, delay time.Duration, task Task) {
	s.mu.Lock()
	s.queued++
	s.pending.Add(1)
	s.mu.Unlock()

	s.logger.Debug("task queued", "task", name, "delay", delay)

	run := func() {
		defer s.done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task(s.ctx)
	}

	if delay <= 0 {
		go run()
		return
	}
	time.AfterFunc(delay, run)
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.queued--
	s.mu.Unlock()
	s.pending.Done()
}

// Pending returns the number of tasks queued or running.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Wait blocks until every queued task has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
