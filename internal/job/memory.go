package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; swap for persistent storage in production.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
	}
}

// Put persists a job to the in-memory storage.
// Creates a clone to avoid external mutations.
func (s *MemoryStore) Put(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update applies the patch under the write lock, so the condition check
// and the write are a single step.
func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Matches(patch.When) {
		return ErrPreconditionFailed
	}
	job.Apply(patch, time.Now().UTC())
	return nil
}

// Scan returns clones of matching jobs ordered by ID.
func (s *MemoryStore) Scan(_ context.Context, filter ScanFilter, limit int, cursor string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var page Page
	for _, id := range ids {
		job := s.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if limit > 0 && len(page.Jobs) == limit {
			page.NextCursor = page.Jobs[len(page.Jobs)-1].ID
			break
		}
		page.Jobs = append(page.Jobs, job.Clone())
	}
	return page, nil
}
