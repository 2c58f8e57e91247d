package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storyloom/storyloom/core"
)

// InMemoryStore is a volatile core.RunStore implementation keeping runs in a
// process-local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned run is cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*core.Run
}

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]*core.Run)}
}

// Create stores a clone of the run. Creating an existing id overwrites it.
func (s *InMemoryStore) Create(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get returns an existing run (clone) or core.ErrRunNotFound.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return run.Clone(), nil
}

// Update persists the full run snapshot including phase outputs.
func (s *InMemoryStore) Update(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return core.ErrRunNotFound
	}
	clone := run.Clone()
	clone.Updated = time.Now().UTC()
	s.runs[run.ID] = clone
	return nil
}

// List returns clones of all runs ordered by creation time.
func (s *InMemoryStore) List(_ context.Context) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}
