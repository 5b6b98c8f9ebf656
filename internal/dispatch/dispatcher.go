// Package dispatch routes inbound protocol frames to the directory, ledger,
// claim arbiter and settings store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/agentdesk/internal/claim"
	"github.com/ashureev/agentdesk/internal/directory"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/ledger"
	"github.com/ashureev/agentdesk/internal/metrics"
	"github.com/ashureev/agentdesk/internal/protocol"
	"github.com/ashureev/agentdesk/internal/pubsub"
	"github.com/ashureev/agentdesk/internal/settings"
)

// Archiver receives the final transcript of each closed session.
type Archiver interface {
	Archive(session domain.ChatSession, messages []domain.Message)
}

// Dispatcher is the first consumer of every inbound frame. Handle must be
// called sequentially; the event loop guarantees it.
type Dispatcher struct {
	dir      *directory.Directory
	ledger   *ledger.Ledger
	arbiter  *claim.Arbiter
	settings *settings.Store
	archiver Archiver
	notices  *pubsub.Topic[domain.Notice]
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a dispatcher. archiver may be nil, in which case closed
// transcripts stay in the ledger.
func New(dir *directory.Directory, led *ledger.Ledger, arbiter *claim.Arbiter, st *settings.Store, archiver Archiver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		dir:      dir,
		ledger:   led,
		arbiter:  arbiter,
		settings: st,
		archiver: archiver,
		notices:  pubsub.NewTopic[domain.Notice]("notices", logger),
		now:      time.Now,
		logger:   logger.With("component", "dispatch"),
	}
}

// Notices returns a channel of toast/sound signals.
func (d *Dispatcher) Notices(ctx context.Context) <-chan domain.Notice {
	return d.notices.Subscribe(ctx)
}

// Notify publishes a notice raised outside frame handling.
func (d *Dispatcher) Notify(n domain.Notice) {
	if n.At.IsZero() {
		n.At = d.now()
	}
	metrics.Notices.WithLabelValues(string(n.Kind)).Inc()
	d.notices.Publish(n)
}

// Handle decodes and applies one raw frame. Bad frames are logged and
// dropped; they never stop the pipeline.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		d.logger.Warn("ignoring inbound frame", "reason", reason, "error", err)
		return
	}
	metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()

	switch p := frame.Payload.(type) {
	case protocol.DashboardUpdate:
		d.onSnapshot(p)
	case protocol.ChatAssigned:
		d.onAssigned(p)
	case protocol.ChatTaken:
		d.onTaken(p)
	case protocol.ChatAlreadyTaken:
		d.onAlreadyTaken(p)
	case protocol.History:
		if d.tracksLive(p.SessionID, frame.Type) {
			d.ledger.ReplaceHistory(p.SessionID, p.Messages)
		}
	case protocol.LiveMessage:
		if d.tracksLive(p.SessionID, frame.Type) {
			d.onMessage(p)
		}
	case protocol.SessionClosed:
		d.onClosed(p.SessionID)
	case protocol.SettingsUpdate:
		if _, err := d.settings.Merge(ctx, p.Settings); err != nil {
			d.logger.Warn("ignoring settings update", "error", err)
		}
	}
}

// CloseSession applies a locally initiated close exactly like session_closed.
func (d *Dispatcher) CloseSession(sessionID int64) bool {
	return d.onClosed(sessionID)
}

// tracksLive reports whether sessionID is pending or active. Transcripts of
// closed or unknown sessions would never be archived or forgotten.
func (d *Dispatcher) tracksLive(sessionID int64, t protocol.FrameType) bool {
	switch d.dir.Where(sessionID) {
	case directory.PartitionPending, directory.PartitionActive:
		return true
	}
	metrics.FramesDropped.WithLabelValues("stale_session").Inc()
	d.logger.Debug("ignoring frame for untracked session", "type", t, "session_id", sessionID)
	return false
}

func (d *Dispatcher) onSnapshot(p protocol.DashboardUpdate) {
	grew := d.dir.ApplySnapshot(p.Pending, p.Active)
	d.arbiter.ReconcileSnapshot()

	metrics.PendingSessions.Set(float64(len(p.Pending)))
	metrics.ActiveSessions.Set(float64(len(d.dir.Active())))

	if grew {
		d.Notify(domain.Notice{
			Kind:  domain.NoticeNewPending,
			Level: domain.LevelInfo,
			Text:  fmt.Sprintf("%d customer(s) waiting", len(p.Pending)),
			Sound: d.settings.Get().SoundAlerts,
		})
	}
}

func (d *Dispatcher) onAssigned(p protocol.ChatAssigned) {
	d.arbiter.Confirm(p.SessionID)

	text := p.Message
	if text == "" {
		text = fmt.Sprintf("You are now chatting with %s", p.CustomerName)
	}
	d.Notify(domain.Notice{
		Kind:      domain.NoticeAssigned,
		Level:     domain.LevelSuccess,
		SessionID: p.SessionID,
		Text:      text,
	})
}

func (d *Dispatcher) onTaken(p protocol.ChatTaken) {
	if d.dir.RemoveFromPending(p.SessionID) {
		d.logger.Debug("session taken by another agent", "session_id", p.SessionID, "taken_by", p.TakenBy)
	}
}

func (d *Dispatcher) onAlreadyTaken(p protocol.ChatAlreadyTaken) {
	d.arbiter.Reject(p.SessionID)

	text := p.Message
	if text == "" {
		text = "This chat was already taken by another agent"
	}
	d.Notify(domain.Notice{
		Kind:      domain.NoticeRaceLost,
		Level:     domain.LevelError,
		SessionID: p.SessionID,
		Text:      text,
	})
}

func (d *Dispatcher) onMessage(p protocol.LiveMessage) {
	d.ledger.Append(p.SessionID, domain.Message{
		SessionID: p.SessionID,
		Content:   p.Content,
		Sender:    p.Sender,
		Timestamp: p.Timestamp,
	})

	if p.Sender == domain.SenderCustomer {
		d.Notify(domain.Notice{
			Kind:      domain.NoticeCustomerMessage,
			Level:     domain.LevelInfo,
			SessionID: p.SessionID,
			Text:      p.Content,
			Sound:     d.settings.Get().SoundAlerts,
		})
	}
}

func (d *Dispatcher) onClosed(sessionID int64) bool {
	s, ok := d.dir.Close(sessionID)
	if !ok {
		return false
	}
	d.arbiter.Deselect(sessionID)
	metrics.ActiveSessions.Set(float64(len(d.dir.Active())))

	// Once archived, the transcript is served from the archive.
	if d.archiver != nil {
		d.archiver.Archive(s, d.ledger.Ordered(sessionID))
		d.ledger.Forget(sessionID)
	}
	d.Notify(domain.Notice{
		Kind:      domain.NoticeSessionClosed,
		Level:     domain.LevelInfo,
		SessionID: sessionID,
		Text:      fmt.Sprintf("Chat with %s closed", s.CustomerName),
	})
	return true
}
