// Package mock provides a recording [cases.Store] for tests.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/MrWong99/callintake/pkg/cases"
)

var _ cases.Store = (*Store)(nil)

// Store records every created case. CreateErr and PingErr, when set, are
// returned by the matching methods. CreateFunc overrides Create entirely.
type Store struct {
	mu sync.Mutex

	CreateFunc func(ctx context.Context, c cases.Case) (cases.Case, error)
	CreateErr  error
	PingErr    error

	created []cases.Case
}

// Create records c and assigns an ID of the form "case-<n>" when empty.
func (s *Store) Create(ctx context.Context, c cases.Case) (cases.Case, error) {
	s.mu.Lock()
	fn, err := s.CreateFunc, s.CreateErr
	s.mu.Unlock()

	if fn != nil {
		out, err := fn(ctx, c)
		if err == nil {
			s.mu.Lock()
			s.created = append(s.created, out)
			s.mu.Unlock()
		}
		return out, err
	}
	if err != nil {
		return cases.Case{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = "case-" + strconv.Itoa(len(s.created)+1)
	}
	s.created = append(s.created, c)
	return c, nil
}

// Get returns a recorded case by ID.
func (s *Store) Get(_ context.Context, id string) (cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.ID == id {
			return c, nil
		}
	}
	return cases.Case{}, cases.ErrNotFound
}

// List returns every recorded case in creation order, ignoring opts.
func (s *Store) List(context.Context, cases.ListOptions) ([]cases.Case, error) {
	return s.Created(), nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Created returns a snapshot of every successfully created case.
func (s *Store) Created() []cases.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cases.Case, len(s.created))
	copy(out, s.created)
	return out
}
