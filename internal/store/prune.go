package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs the archive prune at the top of every hour.
const DefaultPruneSchedule = "0 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse prune schedule %q: %w", expr, err)
	}
	return sched, nil
}

// StartPruneWorker runs a background goroutine that deletes archived
// transcripts older than ttl each time sched fires.
func StartPruneWorker(ctx context.Context, repo Repository, sched cron.Schedule, ttl time.Duration) {
	go func() {
		slog.Info("Archive prune worker started", "ttl", ttl)
		for {
			wait := time.Until(sched.Next(time.Now()))
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
				pruneArchive(ctx, repo, ttl)
			case <-ctx.Done():
				timer.Stop()
				slog.Info("Archive prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneArchive(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.PruneArchive(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Archive prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Archive prune removed sessions", "count", deleted)
	}
}
