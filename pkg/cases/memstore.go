package cases

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-process [Store] used when no database is configured.
// Cases are lost on restart.
type MemStore struct {
	mu    sync.RWMutex
	cases map[string]Case
	now   func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{cases: make(map[string]Case), now: time.Now}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, c Case) (Case, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	c = clone(c)

	s.mu.Lock()
	s.cases[c.ID] = c
	s.mu.Unlock()
	return clone(c), nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	return clone(c), nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, opts ListOptions) ([]Case, error) {
	s.mu.RLock()
	out := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		if opts.Priority != "" && c.Priority != opts.Priority {
			continue
		}
		out = append(out, clone(c))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Case) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

func clone(c Case) Case {
	c.Transcript = slices.Clone(c.Transcript)
	c.Metadata = maps.Clone(c.Metadata)
	return c
}
