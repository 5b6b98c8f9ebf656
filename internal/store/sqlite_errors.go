package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteConflictError reports SQLITE_BUSY and "database is locked" errors,
// the two concurrency failures worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const (
	maxRetries     = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry runs op, retrying SQLite conflicts with exponential backoff
// (50ms, 100ms).
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
