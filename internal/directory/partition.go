package directory

import "github.com/ashureev/agentdesk/internal/domain"

// partition is an insertion-ordered set of sessions keyed by id.
// It is not safe for concurrent use; Directory guards it.
type partition struct {
	order []int64
	items map[int64]domain.ChatSession
}

func newPartition() *partition {
	return &partition{items: make(map[int64]domain.ChatSession)}
}

func (p *partition) len() int { return len(p.items) }

func (p *partition) get(id int64) (domain.ChatSession, bool) {
	s, ok := p.items[id]
	return s, ok
}

// put inserts or updates s; an update keeps the original position.
func (p *partition) put(s domain.ChatSession) {
	if _, exists := p.items[s.ID]; !exists {
		p.order = append(p.order, s.ID)
	}
	p.items[s.ID] = s
}

func (p *partition) remove(id int64) bool {
	if _, ok := p.items[id]; !ok {
		return false
	}
	delete(p.items, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *partition) removeOldest() {
	if len(p.order) == 0 {
		return
	}
	p.remove(p.order[0])
}

func (p *partition) reset() {
	p.order = nil
	p.items = make(map[int64]domain.ChatSession)
}

func (p *partition) list() []domain.ChatSession {
	out := make([]domain.ChatSession, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.items[id])
	}
	return out
}
