// Package directory mirrors the server's partition of chat sessions into
// pending, active and closed sets.
package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/pubsub"
)

// DefaultClosedLimit bounds how many recently closed sessions are retained.
const DefaultClosedLimit = 200

// Partition names the set a session currently belongs to.
type Partition int

const (
	// PartitionNone means the id is not tracked.
	PartitionNone Partition = iota
	PartitionPending
	PartitionActive
	PartitionClosed
)

func (p Partition) String() string {
	switch p {
	case PartitionPending:
		return "pending"
	case PartitionActive:
		return "active"
	case PartitionClosed:
		return "closed"
	default:
		return "none"
	}
}

// View is an immutable copy of all partitions.
type View struct {
	Pending []domain.ChatSession `json:"pending"`
	Active  []domain.ChatSession `json:"active"`
	Closed  []domain.ChatSession `json:"closed"`
}

// Patch holds the fields an optimistic claim sets on the moved session.
type Patch struct {
	AssignedAgent string
}

// Directory is the single source of truth for session placement on the client.
// Every mutation leaves each id in at most one partition.
type Directory struct {
	mu          sync.RWMutex
	pending     *partition
	active      *partition
	closed      *partition
	closedLimit int
	now         func() time.Time
	changes     *pubsub.Topic[View]
	logger      *slog.Logger
}

// New creates an empty directory. closedLimit <= 0 uses DefaultClosedLimit.
func New(closedLimit int, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if closedLimit <= 0 {
		closedLimit = DefaultClosedLimit
	}
	return &Directory{
		pending:     newPartition(),
		active:      newPartition(),
		closed:      newPartition(),
		closedLimit: closedLimit,
		now:         time.Now,
		changes:     pubsub.NewTopic[View]("directory", logger),
		logger:      logger.With("component", "directory"),
	}
}

// Subscribe returns a channel of views published after each change.
func (d *Directory) Subscribe(ctx context.Context) <-chan View {
	return d.changes.Subscribe(ctx)
}

// Pending returns the pending sessions in server order.
func (d *Directory) Pending() []domain.ChatSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pending.list()
}

// Active returns the active sessions in server order.
func (d *Directory) Active() []domain.ChatSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active.list()
}

// Closed returns recently closed sessions, oldest first.
func (d *Directory) Closed() []domain.ChatSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed.list()
}

// View returns a copy of all partitions taken under one lock.
func (d *Directory) View() View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewLocked()
}

// Lookup returns the session and the partition holding it.
func (d *Directory) Lookup(id int64) (domain.ChatSession, Partition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range []struct {
		part *partition
		name Partition
	}{
		{d.pending, PartitionPending},
		{d.active, PartitionActive},
		{d.closed, PartitionClosed},
	} {
		if s, ok := p.part.get(id); ok {
			return s, p.name, true
		}
	}
	return domain.ChatSession{}, PartitionNone, false
}

// Where returns the partition holding id.
func (d *Directory) Where(id int64) Partition {
	_, p, _ := d.Lookup(id)
	return p
}

// ReplacePending swaps the pending set for list. Listed ids are evicted from
// the other partitions.
func (d *Directory) ReplacePending(list []domain.ChatSession) {
	d.mu.Lock()
	d.replaceLocked(d.pending, domain.StatusPending, list)
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
}

// ReplaceActive swaps the active set for list, dropping any unconfirmed
// optimistic entry that is not listed.
func (d *Directory) ReplaceActive(list []domain.ChatSession) {
	d.mu.Lock()
	d.replaceLocked(d.active, domain.StatusActive, list)
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
}

// ApplySnapshot replaces both live partitions atomically and reports whether
// the pending set grew. An id listed in both is placed in active.
func (d *Directory) ApplySnapshot(pending, active []domain.ChatSession) (grew bool) {
	d.mu.Lock()
	before := d.pending.len()
	d.replaceLocked(d.pending, domain.StatusPending, pending)
	d.replaceLocked(d.active, domain.StatusActive, active)
	grew = d.pending.len() > before
	v := d.viewLocked()
	d.mu.Unlock()

	d.logger.Debug("snapshot applied", "pending", len(v.Pending), "active", len(v.Active), "grew", grew)
	d.changes.Publish(v)
	return grew
}

// RemoveFromPending drops id from the pending set. It reports whether anything
// was removed; removing an absent id is a no-op.
func (d *Directory) RemoveFromPending(id int64) bool {
	return d.removeFrom(d.pending, id)
}

// RemoveFromActive drops id from the active set; absent ids are a no-op.
func (d *Directory) RemoveFromActive(id int64) bool {
	return d.removeFrom(d.active, id)
}

// RemoveOptimistic drops id from the active set only while it is still an
// unconfirmed optimistic entry.
func (d *Directory) RemoveOptimistic(id int64) bool {
	d.mu.Lock()
	s, ok := d.active.get(id)
	if !ok || !s.Optimistic {
		d.mu.Unlock()
		return false
	}
	d.active.remove(id)
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
	return true
}

// MovePendingToActive moves id into the active set as an optimistic entry.
// It returns false when id is not pending.
func (d *Directory) MovePendingToActive(id int64, patch Patch) bool {
	d.mu.Lock()
	s, ok := d.pending.get(id)
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.pending.remove(id)
	d.closed.remove(id)
	s.Status = domain.StatusActive
	s.Optimistic = true
	if patch.AssignedAgent != "" {
		s.AssignedAgent = patch.AssignedAgent
	}
	d.active.put(s)
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
	return true
}

// Confirm clears the optimistic flag on an active entry.
func (d *Directory) Confirm(id int64) bool {
	d.mu.Lock()
	s, ok := d.active.get(id)
	if !ok || !s.Optimistic {
		d.mu.Unlock()
		return false
	}
	s.Optimistic = false
	d.active.put(s)
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
	return true
}

// Close moves id out of the live partitions into the closed set. It returns
// the closed session and whether a transition happened; closing an id that is
// not live is a no-op.
func (d *Directory) Close(id int64) (domain.ChatSession, bool) {
	d.mu.Lock()
	s, ok := d.active.get(id)
	if ok {
		d.active.remove(id)
	} else if s, ok = d.pending.get(id); ok {
		d.pending.remove(id)
	}
	if !ok {
		d.mu.Unlock()
		return domain.ChatSession{}, false
	}

	closedAt := d.now()
	s.Status = domain.StatusClosed
	s.Optimistic = false
	s.ClosedAt = &closedAt
	d.closed.put(s)
	for d.closed.len() > d.closedLimit {
		d.closed.removeOldest()
	}
	v := d.viewLocked()
	d.mu.Unlock()

	d.changes.Publish(v)
	return s, true
}

func (d *Directory) removeFrom(p *partition, id int64) bool {
	d.mu.Lock()
	if !p.remove(id) {
		d.mu.Unlock()
		return false
	}
	v := d.viewLocked()
	d.mu.Unlock()
	d.changes.Publish(v)
	return true
}

// replaceLocked installs list into target and removes the listed ids from
// every other partition. Must be called with mu held.
func (d *Directory) replaceLocked(target *partition, status domain.SessionStatus, list []domain.ChatSession) {
	target.reset()
	for _, s := range list {
		if s.ID <= 0 {
			d.logger.Warn("dropping snapshot entry without id", "partition", status)
			continue
		}
		s.Status = status
		s.Optimistic = false
		target.put(s)
		for _, other := range []*partition{d.pending, d.active, d.closed} {
			if other != target {
				other.remove(s.ID)
			}
		}
	}
}

func (d *Directory) viewLocked() View {
	return View{
		Pending: d.pending.list(),
		Active:  d.active.list(),
		Closed:  d.closed.list(),
	}
}
