package operations

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRunStore is an in-memory implementation of RunStore
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
	seq  map[string]int
	next int
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*RunRecord),
		seq:  make(map[string]int),
	}
}

// Create stores a new run
func (s *MemoryRunStore) Create(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	s.runs[run.ID] = run.Clone()
	s.next++
	s.seq[run.ID] = s.next
	return nil
}

// Update replaces an existing run
func (s *MemoryRunStore) Update(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrOperationNotFound)
	}

	s.runs[run.ID] = run.Clone()
	return nil
}

// Get retrieves a run by ID
func (s *MemoryRunStore) Get(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, ErrOperationNotFound)
	}

	// Return a copy to prevent external modification
	return run.Clone(), nil
}

// List returns the newest runs first. A limit <= 0 returns every run.
func (s *MemoryRunStore) List(_ context.Context, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		result = append(result, run.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return s.seq[a.ID] > s.seq[b.ID]
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
