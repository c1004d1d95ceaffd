package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when an audit id does not resolve.
	ErrNotFound = errors.New("audit not found")

	// ErrNotRunning is returned when a terminal audit would transition again.
	ErrNotRunning = errors.New("audit is not running")
)

// Repository persists audits. Complete and Fail apply only to running
// records so each audit reaches a terminal state exactly once.
type Repository interface {
	// Create stores a new running audit.
	Create(ctx context.Context, a *Audit) error

	// Complete stores the result fields of a and flips status to completed.
	Complete(ctx context.Context, a *Audit) error

	// Fail records msg and flips status to failed.
	Fail(ctx context.Context, id, msg string, at time.Time) error

	GetByID(ctx context.Context, id string) (*Audit, error)

	// ListByProject returns every audit of the project, newest first.
	ListByProject(ctx context.Context, projectID string) ([]*Audit, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	audits map[string]*Audit
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		audits: make(map[string]*Audit),
		order:  make([]string, 0),
	}
}

func (r *InMemoryRepository) Create(_ context.Context, a *Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *a
	r.audits[a.ID] = &c
	r.order = append(r.order, a.ID)
	return nil
}

func (r *InMemoryRepository) Complete(_ context.Context, a *Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.audits[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusRunning {
		return ErrNotRunning
	}
	c := *a
	c.Status = StatusCompleted
	c.CreatedAt = stored.CreatedAt
	r.audits[a.ID] = &c
	return nil
}

func (r *InMemoryRepository) Fail(_ context.Context, id, msg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.audits[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusRunning {
		return ErrNotRunning
	}
	stored.Status = StatusFailed
	stored.Error = msg
	stored.UpdatedAt = at
	return nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Audit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.audits[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *InMemoryRepository) ListByProject(_ context.Context, projectID string) ([]*Audit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*Audit, 0)
	// Iterate in reverse order (newest first)
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.audits[r.order[i]]
		if a.ProjectID == projectID {
			c := *a
			results = append(results, &c)
		}
	}
	return results, nil
}

// Count returns the number of stored audits.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.audits)
}
