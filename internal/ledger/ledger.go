// Package ledger keeps the per-session ordered message log, merging history
// snapshots with live pushed messages and optimistic local sends.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/pubsub"
	"github.com/google/uuid"
)

// Update announces that the log of one session changed.
type Update struct {
	SessionID int64 `json:"session_id"`
	Count     int   `json:"count"`
	Replaced  bool  `json:"replaced,omitempty"`
}

// Ledger holds messages per session. Messages are stored in arrival order and
// sorted on read.
type Ledger struct {
	mu      sync.RWMutex
	logs    map[int64][]domain.Message
	now     func() time.Time
	changes *pubsub.Topic[Update]
	logger  *slog.Logger
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logs:    make(map[int64][]domain.Message),
		now:     time.Now,
		changes: pubsub.NewTopic[Update]("ledger", logger),
		logger:  logger.With("component", "ledger"),
	}
}

// Subscribe returns a channel of per-session change notifications.
func (l *Ledger) Subscribe(ctx context.Context) <-chan Update {
	return l.changes.Subscribe(ctx)
}

// ReplaceHistory discards everything held for sessionID, local messages
// included, and installs msgs as the authoritative log.
func (l *Ledger) ReplaceHistory(sessionID int64, msgs []domain.Message) {
	log := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		m.SessionID = sessionID
		m.LocalID = ""
		log = append(log, m)
	}

	l.mu.Lock()
	l.logs[sessionID] = log
	l.mu.Unlock()

	l.changes.Publish(Update{SessionID: sessionID, Count: len(log), Replaced: true})
}

// Append adds a server-delivered message. An agent message from the server
// retires the oldest local message of that session: the echo supersedes it.
func (l *Ledger) Append(sessionID int64, msg domain.Message) {
	msg.SessionID = sessionID
	msg.LocalID = ""

	l.mu.Lock()
	log := l.logs[sessionID]
	if msg.Sender == domain.SenderAgent {
		for i := range log {
			if log[i].IsLocal() {
				log = append(log[:i], log[i+1:]...)
				break
			}
		}
	}
	log = append(log, msg)
	l.logs[sessionID] = log
	n := len(log)
	l.mu.Unlock()

	l.changes.Publish(Update{SessionID: sessionID, Count: n})
}

// AppendLocal inserts the agent's own just-sent message ahead of the server
// echo and returns it with its local tag.
func (l *Ledger) AppendLocal(sessionID int64, content string) domain.Message {
	msg := domain.Message{
		SessionID: sessionID,
		Content:   content,
		Sender:    domain.SenderAgent,
		Timestamp: domain.At(l.now()),
		LocalID:   uuid.NewString(),
	}

	l.mu.Lock()
	l.logs[sessionID] = append(l.logs[sessionID], msg)
	n := len(l.logs[sessionID])
	l.mu.Unlock()

	l.changes.Publish(Update{SessionID: sessionID, Count: n})
	return msg
}

// Ordered returns the log sorted ascending by timestamp; equal timestamps keep
// arrival order.
func (l *Ledger) Ordered(sessionID int64) []domain.Message {
	l.mu.RLock()
	out := make([]domain.Message, len(l.logs[sessionID]))
	copy(out, l.logs[sessionID])
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp.Time)
	})
	return out
}

// Len returns the number of messages held for sessionID.
func (l *Ledger) Len(sessionID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.logs[sessionID])
}

// Forget drops the log of sessionID.
func (l *Ledger) Forget(sessionID int64) {
	l.mu.Lock()
	_, ok := l.logs[sessionID]
	delete(l.logs, sessionID)
	l.mu.Unlock()
	if ok {
		l.logger.Debug("session log dropped", "session_id", sessionID)
	}
}
