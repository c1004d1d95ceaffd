package project

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrProjectNotFound is returned when a project id does not resolve.
	ErrProjectNotFound = errors.New("project not found")

	// ErrCredentialNotFound is returned when no active credential matches a key.
	ErrCredentialNotFound = errors.New("credential not found")
)

// Repository persists projects.
type Repository interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id string) (*Project, error)

	// ListByOwner returns the owner's projects sorted newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Project, error)

	// SetAPIKey replaces the project's current key.
	SetAPIKey(ctx context.Context, id, key string, at time.Time) error

	// SetStatus overwrites the lifecycle status.
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error

	// SetSnapshot points the project at snapshotID and advances status to audit.
	SetSnapshot(ctx context.Context, id, snapshotID string, at time.Time) error

	// SetLatestAudit overwrites the latest audit pointer and score.
	SetLatestAudit(ctx context.Context, id, auditID string, score float64, at time.Time) error
}

// CredentialRepository persists API credentials.
type CredentialRepository interface {
	Create(ctx context.Context, c *Credential) error

	// FindActiveByKey returns the newest active credential for key or ErrCredentialNotFound.
	FindActiveByKey(ctx context.Context, key string) (*Credential, error)

	// Deactivate marks a single credential inactive.
	Deactivate(ctx context.Context, id string) error

	// DeactivateByApp marks every active credential of appID inactive and
	// returns how many changed.
	DeactivateByApp(ctx context.Context, appID string) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]*Project
	order    []string
}

// NewInMemoryRepository creates a new in-memory project repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		projects: make(map[string]*Project),
		order:    make([]string, 0),
	}
}

func (r *InMemoryRepository) Create(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.projects[p.ID] = copyProject(p)
	r.order = append(r.order, p.ID)
	return nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (r *InMemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*Project, 0)
	// Iterate in reverse order (newest first)
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.projects[r.order[i]]
		if p.OwnerID == ownerID {
			results = append(results, copyProject(p))
		}
	}
	return results, nil
}

func (r *InMemoryRepository) SetAPIKey(_ context.Context, id, key string, at time.Time) error {
	return r.mutate(id, func(p *Project) {
		p.APIKey = key
		p.UpdatedAt = at
	})
}

func (r *InMemoryRepository) SetStatus(_ context.Context, id string, status Status, at time.Time) error {
	return r.mutate(id, func(p *Project) {
		p.Status = status
		p.UpdatedAt = at
	})
}

func (r *InMemoryRepository) SetSnapshot(_ context.Context, id, snapshotID string, at time.Time) error {
	return r.mutate(id, func(p *Project) {
		p.CodebaseSnapshotID = snapshotID
		p.Status = StatusAudit
		p.UpdatedAt = at
	})
}

func (r *InMemoryRepository) SetLatestAudit(_ context.Context, id, auditID string, score float64, at time.Time) error {
	return r.mutate(id, func(p *Project) {
		p.LatestAuditID = auditID
		p.LatestAuditScore = &score
		p.UpdatedAt = at
	})
}

func (r *InMemoryRepository) mutate(id string, fn func(p *Project)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	fn(p)
	return nil
}

func copyProject(p *Project) *Project {
	c := *p
	if p.LatestAuditScore != nil {
		score := *p.LatestAuditScore
		c.LatestAuditScore = &score
	}
	return &c
}

// InMemoryCredentialRepository is an in-memory implementation of CredentialRepository.
type InMemoryCredentialRepository struct {
	mu    sync.RWMutex
	creds map[string]*Credential
	order []string
}

// NewInMemoryCredentialRepository creates a new in-memory credential repository.
func NewInMemoryCredentialRepository() *InMemoryCredentialRepository {
	return &InMemoryCredentialRepository{
		creds: make(map[string]*Credential),
		order: make([]string, 0),
	}
}

func (r *InMemoryCredentialRepository) Create(_ context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *c
	r.creds[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *InMemoryCredentialRepository) FindActiveByKey(_ context.Context, key string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.creds[r.order[i]]
		if c.Active && c.Key == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (r *InMemoryCredentialRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	c.Active = false
	return nil
}

func (r *InMemoryCredentialRepository) DeactivateByApp(_ context.Context, appID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.creds {
		if c.AppID == appID && c.Active {
			c.Active = false
			n++
		}
	}
	return n, nil
}

// ActiveForApp returns the active credentials bound to appID.
func (r *InMemoryCredentialRepository) ActiveForApp(appID string) []*Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Credential
	for _, id := range r.order {
		c := r.creds[id]
		if c.AppID == appID && c.Active {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}
