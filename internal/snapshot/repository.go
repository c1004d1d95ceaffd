package snapshot

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a snapshot id does not resolve.
var ErrNotFound = errors.New("snapshot not found")

// Repository persists snapshots. Snapshots are never updated once created.
type Repository interface {
	// Create stores s. ID and CreatedAt must already be set.
	Create(ctx context.Context, s *Snapshot) error

	// GetByID returns the snapshot or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Snapshot, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewInMemoryRepository creates a new in-memory snapshot repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{snapshots: make(map[string]*Snapshot)}
}

// Create stores a copy of s.
func (r *InMemoryRepository) Create(_ context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = clone(s)
	return nil
}

// GetByID returns a copy of the stored snapshot.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Count returns the number of stored snapshots.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshots)
}

func clone(s *Snapshot) *Snapshot {
	c := *s
	c.Files = append([]File(nil), s.Files...)
	return &c
}
