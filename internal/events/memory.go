package events

import (
	"context"
	"sync"
	"time"

	"stagegate/internal/domain"
)

// MemoryLog keeps the most recent events in a bounded slice.
type MemoryLog struct {
	mu     sync.Mutex
	events []domain.Event
	nextID int64
	max    int
	Now    func() time.Time
}

// NewMemoryLog keeps at most max events; zero means 1000.
func NewMemoryLog(max int) *MemoryLog {
	if max <= 0 {
		max = 1000
	}
	return &MemoryLog{max: max}
}

func (m *MemoryLog) Record(_ context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.events = append(m.events, domain.Event{
		ID:         m.nextID,
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorOrSystem(actorID),
		Payload:    data,
	})
	if len(m.events) > m.max {
		m.events = append([]domain.Event(nil), m.events[len(m.events)-m.max:]...)
	}
	return nil
}

func (m *MemoryLog) Latest(_ context.Context, f Filter) ([]domain.Event, error) {
	limit := limitOrDefault(f.Limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []domain.Event{}
	for i := len(m.events) - 1; i >= 0 && len(res) < limit; i-- {
		e := m.events[i]
		if f.Cursor > 0 && e.ID >= f.Cursor {
			continue
		}
		if (f.Type != "" && e.Type != f.Type) ||
			(f.EntityKind != "" && e.EntityKind != f.EntityKind) ||
			(f.EntityID != "" && e.EntityID != f.EntityID) {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

func (m *MemoryLog) After(_ context.Context, cursor int64, limit int) ([]domain.Event, error) {
	limit = limitOrDefault(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []domain.Event{}
	for _, e := range m.events {
		if e.ID <= cursor {
			continue
		}
		res = append(res, e)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}
