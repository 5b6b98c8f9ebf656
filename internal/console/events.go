package console

import (
	"context"

	"github.com/ashureev/agentdesk/internal/domain"
)

// EventType discriminates console events pushed to local UIs.
type EventType string

const (
	EventDashboard  EventType = "dashboard"
	EventMessages   EventType = "messages"
	EventConnection EventType = "connection"
	EventNotice     EventType = "notice"
	EventSettings   EventType = "settings"
)

// Event is one observable change.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// MessagesData accompanies EventMessages.
type MessagesData struct {
	SessionID int64            `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
}

const eventBufferSize = 64

// Events merges every store's change stream into one channel, closed when
// ctx is cancelled. Stores never block on a slow reader; their topics drop
// instead.
func (c *Console) Events(ctx context.Context) <-chan Event {
	views := c.dir.Subscribe(ctx)
	updates := c.ledger.Subscribe(ctx)
	statuses := c.conn.Subscribe(ctx)
	notices := c.dispatch.Notices(ctx)
	changes := c.settings.Subscribe(ctx)

	out := make(chan Event, eventBufferSize)
	go func() {
		defer close(out)
		for {
			var ev Event
			select {
			case <-ctx.Done():
				return
			case v, ok := <-views:
				if !ok {
					return
				}
				ev = Event{Type: EventDashboard, Data: v}
			case u, ok := <-updates:
				if !ok {
					return
				}
				ev = Event{Type: EventMessages, Data: MessagesData{
					SessionID: u.SessionID,
					Messages:  c.ledger.Ordered(u.SessionID),
				}}
			case s, ok := <-statuses:
				if !ok {
					return
				}
				ev = Event{Type: EventConnection, Data: s}
			case n, ok := <-notices:
				if !ok {
					return
				}
				ev = Event{Type: EventNotice, Data: n}
			case st, ok := <-changes:
				if !ok {
					return
				}
				ev = Event{Type: EventSettings, Data: st}
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
