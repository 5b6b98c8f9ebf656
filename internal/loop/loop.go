// Package loop provides the single logical event loop on which inbound frames
// and agent actions run as discrete, non-overlapping tasks.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned when a task is submitted after the loop has exited.
var ErrStopped = errors.New("event loop stopped")

const defaultQueueSize = 256

// Loop executes tasks one at a time in submission order.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New creates a loop. Run must be called to start processing.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), defaultQueueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "loop"),
	}
}

// Run processes tasks until ctx is cancelled. It blocks.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	l.logger.Debug("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped", "reason", ctx.Err())
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

// exec runs one task; a panicking task must not take the loop down.
func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", r)
		}
	}()
	task()
}

// Post enqueues a task without waiting for it to run.
func (l *Loop) Post(task func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Do enqueues a task and waits until it has run.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
