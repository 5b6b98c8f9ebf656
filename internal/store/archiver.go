package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/metrics"
)

const (
	archiveQueueSize    = 64
	archiveWriteTimeout = 10 * time.Second
)

type archiveJob struct {
	session  domain.ChatSession
	messages []domain.Message
}

// Archiver writes closed-session transcripts in the background so the event
// loop never waits on disk.
type Archiver struct {
	repo   Repository
	jobs   chan archiveJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewArchiver starts the background writer.
func NewArchiver(repo Repository, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		repo:   repo,
		jobs:   make(chan archiveJob, archiveQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "archiver"),
	}
	a.wg.Add(1)
	go a.process()
	return a
}

// Archive queues a transcript. When the queue is full the oldest queued job
// is dropped to make room.
func (a *Archiver) Archive(session domain.ChatSession, messages []domain.Message) {
	job := archiveJob{session: session, messages: messages}

	select {
	case a.jobs <- job:
		return
	case <-a.ctx.Done():
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		return
	default:
	}

	select {
	case old := <-a.jobs:
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		a.logger.Warn("archive queue full, dropped oldest", "session_id", old.session.ID)
	default:
	}
	select {
	case a.jobs <- job:
	default:
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		a.logger.Warn("archive queue full, dropped transcript", "session_id", session.ID)
	}
}

func (a *Archiver) process() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case job := <-a.jobs:
			a.write(job)
		}
	}
}

func (a *Archiver) write(job archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()

	if err := a.repo.ArchiveSession(ctx, job.session, job.messages); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		a.logger.Error("failed to archive session", "error", err, "session_id", job.session.ID)
		return
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	a.logger.Debug("session archived", "session_id", job.session.ID, "messages", len(job.messages))
}

// Close stops the writer after flushing queued transcripts.
func (a *Archiver) Close() {
	a.cancel()
	a.wg.Wait()

	for {
		select {
		case job := <-a.jobs:
			a.write(job)
		default:
			return
		}
	}
}
