// Package claim implements optimistic claiming of pending sessions and the
// reconciliation that follows the server's verdict.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/directory"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/ledger"
	"github.com/ashureev/agentdesk/internal/metrics"
	"github.com/ashureev/agentdesk/internal/protocol"
)

// DefaultTimeout is how long a claim may stay unresolved before its intent is cleared.
const DefaultTimeout = 5 * time.Second

var (
	ErrNotPending    = errors.New("session is not pending")
	ErrClaimInFlight = errors.New("claim already in flight")
	ErrNotActive     = errors.New("session is not active")
	ErrEmptyMessage  = errors.New("message content is empty")
)

// Sender delivers outbound frames to the server.
type Sender interface {
	Send(ctx context.Context, frame protocol.Outbound) error
}

// Intent is an outstanding claim awaiting the server's verdict.
type Intent struct {
	SessionID int64     `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	TimeoutAt time.Time `json:"timeout_at"`
}

type pendingIntent struct {
	Intent
	seq   uint64
	timer *time.Timer
}

// Rejection describes what a lost race undid.
type Rejection struct {
	HadIntent  bool
	RolledBack bool
	Deselected bool
}

// Arbiter is the only component that applies optimistic moves to the
// directory, and the only one that undoes them.
type Arbiter struct {
	dir     *directory.Directory
	ledger  *ledger.Ledger
	sender  Sender
	agentID string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	intents  map[int64]*pendingIntent
	seq      uint64
	selected int64
}

// New creates an arbiter acting for agentID. timeout <= 0 uses DefaultTimeout.
func New(dir *directory.Directory, led *ledger.Ledger, sender Sender, agentID string, timeout time.Duration, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Arbiter{
		dir:     dir,
		ledger:  led,
		sender:  sender,
		agentID: agentID,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With("component", "claim"),
		intents: make(map[int64]*pendingIntent),
	}
}

// Claim asks the server for sessionID and optimistically moves it to active.
func (a *Arbiter) Claim(ctx context.Context, sessionID int64) error {
	if a.dir.Where(sessionID) != directory.PartitionPending {
		return fmt.Errorf("claim %d: %w", sessionID, ErrNotPending)
	}

	a.mu.Lock()
	if _, inFlight := a.intents[sessionID]; inFlight {
		a.mu.Unlock()
		return fmt.Errorf("claim %d: %w", sessionID, ErrClaimInFlight)
	}
	a.mu.Unlock()

	if err := a.sender.Send(ctx, protocol.JoinChat(sessionID)); err != nil {
		return fmt.Errorf("claim %d: %w", sessionID, err)
	}

	if !a.dir.MovePendingToActive(sessionID, directory.Patch{AssignedAgent: a.agentID}) {
		// A frame cannot interleave on the event loop, so this only happens
		// when Claim is driven from outside it.
		return fmt.Errorf("claim %d: %w", sessionID, ErrNotPending)
	}

	now := a.now()
	a.mu.Lock()
	a.seq++
	p := &pendingIntent{
		Intent: Intent{SessionID: sessionID, IssuedAt: now, TimeoutAt: now.Add(a.timeout)},
		seq:    a.seq,
	}
	seq := p.seq
	p.timer = time.AfterFunc(a.timeout, func() { a.expire(sessionID, seq) })
	a.intents[sessionID] = p
	a.mu.Unlock()

	metrics.ClaimOutcomes.WithLabelValues("issued").Inc()
	a.logger.Info("claim issued", "session_id", sessionID, "timeout", a.timeout)
	return nil
}

// Confirm resolves a claim as won. It also clears the optimistic flag when
// the confirmation arrives after the intent already timed out.
func (a *Arbiter) Confirm(sessionID int64) bool {
	resolved := a.resolve(sessionID)
	a.dir.Confirm(sessionID)
	if resolved {
		metrics.ClaimOutcomes.WithLabelValues("won").Inc()
		a.logger.Info("claim confirmed", "session_id", sessionID)
	}
	return resolved
}

// Reject resolves a claim as lost: the optimistic placement is undone and the
// session is deselected if it was open.
func (a *Arbiter) Reject(sessionID int64) Rejection {
	var r Rejection
	r.HadIntent = a.resolve(sessionID)

	a.mu.Lock()
	if a.selected == sessionID {
		a.selected = 0
		r.Deselected = true
	}
	a.mu.Unlock()

	r.RolledBack = a.dir.RemoveOptimistic(sessionID)
	if !r.HadIntent && !r.RolledBack {
		a.logger.Debug("rejection for a session with no claim", "session_id", sessionID)
		return r
	}
	metrics.ClaimOutcomes.WithLabelValues("lost").Inc()
	a.logger.Info("claim lost to another agent",
		"session_id", sessionID,
		"had_intent", r.HadIntent,
		"rolled_back", r.RolledBack)
	return r
}

// ReconcileSnapshot settles outstanding claims against the latest snapshot.
// A claimed session listed as active under this agent, or with no assignee,
// is confirmed. One listed under another agent resolves the claim as lost;
// the directory keeps what the snapshot says.
func (a *Arbiter) ReconcileSnapshot() {
	for _, in := range a.Intents() {
		s, where, ok := a.dir.Lookup(in.SessionID)
		if !ok || where != directory.PartitionActive {
			continue
		}
		if s.AssignedAgent == "" || s.IsAssignedTo(a.agentID) {
			a.Confirm(in.SessionID)
			continue
		}
		if a.resolve(in.SessionID) {
			metrics.ClaimOutcomes.WithLabelValues("lost").Inc()
			a.logger.Info("snapshot assigns claimed session to another agent",
				"session_id", in.SessionID,
				"assigned_agent", s.AssignedAgent)
		}
	}
}

// Open requests the full history of an active session and marks it selected.
func (a *Arbiter) Open(ctx context.Context, sessionID int64) error {
	if a.dir.Where(sessionID) != directory.PartitionActive {
		return fmt.Errorf("open %d: %w", sessionID, ErrNotActive)
	}
	if err := a.sender.Send(ctx, protocol.OpenChat(sessionID)); err != nil {
		return fmt.Errorf("open %d: %w", sessionID, err)
	}

	a.mu.Lock()
	a.selected = sessionID
	a.mu.Unlock()
	return nil
}

// SendMessage posts content to an active session and inserts it locally
// ahead of the server echo.
func (a *Arbiter) SendMessage(ctx context.Context, sessionID int64, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if a.dir.Where(sessionID) != directory.PartitionActive {
		return domain.Message{}, fmt.Errorf("send to %d: %w", sessionID, ErrNotActive)
	}
	if err := a.sender.Send(ctx, protocol.SendMessage(sessionID, content)); err != nil {
		return domain.Message{}, fmt.Errorf("send to %d: %w", sessionID, err)
	}
	return a.ledger.AppendLocal(sessionID, content), nil
}

// Selected returns the session currently open in the UI.
func (a *Arbiter) Selected() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected, a.selected != 0
}

// Deselect clears the selection if it is sessionID.
func (a *Arbiter) Deselect(sessionID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selected != sessionID {
		return false
	}
	a.selected = 0
	return true
}

// Intent returns the outstanding claim for sessionID, if any.
func (a *Arbiter) Intent(sessionID int64) (Intent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.intents[sessionID]
	if !ok {
		return Intent{}, false
	}
	return p.Intent, true
}

// Intents returns all outstanding claims ordered by issue time.
func (a *Arbiter) Intents() []Intent {
	a.mu.Lock()
	out := make([]Intent, 0, len(a.intents))
	for _, p := range a.intents {
		out = append(out, p.Intent)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// Stop cancels all timeout guards.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, p := range a.intents {
		p.timer.Stop()
		delete(a.intents, id)
	}
}

func (a *Arbiter) resolve(sessionID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.intents[sessionID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(a.intents, sessionID)
	return true
}

// expire clears a stale intent. The directory is left untouched; the next
// snapshot corrects any placement that was never confirmed.
func (a *Arbiter) expire(sessionID int64, seq uint64) {
	a.mu.Lock()
	p, ok := a.intents[sessionID]
	if !ok || p.seq != seq {
		a.mu.Unlock()
		return
	}
	delete(a.intents, sessionID)
	a.mu.Unlock()

	metrics.ClaimOutcomes.WithLabelValues("timeout").Inc()
	a.logger.Warn("claim timed out without a verdict", "session_id", sessionID)
}
