package store

import (
	"context"
	"sync"

	"stagegate/internal/domain"
)

// Collection is an insertion-ordered, concurrency-safe map of values keyed by
// string. Put keeps the position of an existing key.
type Collection[T any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T
	keyOf func(T) string
}

func NewCollection[T any](keyOf func(T) string) *Collection[T] {
	return &Collection[T]{items: map[string]T{}, keyOf: keyOf}
}

func (c *Collection[T]) Put(v T) {
	key := c.keyOf(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = v
}

// Replace overwrites an existing value and reports whether the key existed.
func (c *Collection[T]) Replace(v T) bool {
	key := c.keyOf(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return false
	}
	c.items[key] = v
	return true
}

func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Values returns values oldest first.
func (c *Collection[T]) Values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// PutCapped inserts v and drops the oldest entries until at most capacity
// remain. A non-positive capacity means unbounded.
func (c *Collection[T]) PutCapped(v T, capacity int) []string {
	key := c.keyOf(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = v
	var evicted []string
	for capacity > 0 && len(c.order) > capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Memory keeps workflows and documents in process memory. State is lost on
// restart.
type Memory struct {
	workflows *Collection[domain.Workflow]
	documents *Collection[domain.Document]
}

func NewMemory() *Memory {
	return &Memory{
		workflows: NewCollection(func(w domain.Workflow) string { return w.ID }),
		documents: NewCollection(func(d domain.Document) string { return d.ID }),
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, wf domain.Workflow) error {
	m.workflows.Put(wf.Clone())
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (domain.Workflow, error) {
	wf, ok := m.workflows.Get(id)
	if !ok {
		return domain.Workflow{}, domain.NotFound("workflow", id)
	}
	return wf.Clone(), nil
}

func (m *Memory) ListWorkflows(_ context.Context) ([]domain.Workflow, error) {
	values := m.workflows.Values()
	out := make([]domain.Workflow, len(values))
	for i, wf := range values {
		out[i] = wf.Clone()
	}
	return out, nil
}

func (m *Memory) InsertDocument(_ context.Context, doc domain.Document, capacity int) ([]string, error) {
	return m.documents.PutCapped(cloneDocument(doc), capacity), nil
}

func (m *Memory) UpdateDocument(_ context.Context, doc domain.Document) error {
	if !m.documents.Replace(cloneDocument(doc)) {
		return domain.NotFound("document", doc.ID)
	}
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (domain.Document, error) {
	doc, ok := m.documents.Get(id)
	if !ok {
		return domain.Document{}, domain.NotFound("document", id)
	}
	return cloneDocument(doc), nil
}

func (m *Memory) ListDocuments(_ context.Context) ([]domain.Document, error) {
	values := m.documents.Values()
	out := make([]domain.Document, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, cloneDocument(values[i]))
	}
	return out, nil
}

func cloneDocument(d domain.Document) domain.Document {
	if d.FollowUp != nil {
		f := *d.FollowUp
		d.FollowUp = &f
	}
	return d
}
