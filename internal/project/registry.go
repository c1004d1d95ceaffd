package project

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/lock"
)

// Registry owns project lifecycle and credential policy.
//
// Credential policy: issuing a key for a project deactivates every prior
// active credential of that project, so at most one active key exists per
// project at any time.
type Registry struct {
	projects Repository
	creds    CredentialRepository
	now      func() time.Time
	newKey   func() (string, error)
	locker   lock.Locker
}

// Option configures a Registry.
type Option func(*Registry)

// WithLocker sets the Locker that serializes self-registration per key.
// Multi-instance deployments pass a shared locker.
func WithLocker(l lock.Locker) Option {
	return func(r *Registry) { r.locker = l }
}

// NewRegistry creates a Registry over the given repositories.
func NewRegistry(projects Repository, creds CredentialRepository, opts ...Option) *Registry {
	r := &Registry{
		projects: projects,
		creds:    creds,
		now:      func() time.Time { return time.Now().UTC() },
		newKey:   auth.GenerateAPIKey,
		locker:   lock.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateName trims name and checks the 1-100 character bound.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("project name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Validation("project name must be at most %d characters", MaxNameLength)
	}
	return name, nil
}

// Create registers a new project for the principal and issues its first key.
func (r *Registry) Create(ctx context.Context, p auth.Principal, name string) (*Project, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	key, err := r.newKey()
	if err != nil {
		return nil, apperr.Internal("failed to generate api key", err)
	}
	return r.create(ctx, p.OwnerID, name, key)
}

func (r *Registry) create(ctx context.Context, ownerID, name, key string) (*Project, error) {
	now := r.now()
	proj := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		APIKey:    key,
		Status:    StatusSetup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.projects.Create(ctx, proj); err != nil {
		return nil, apperr.Internal("failed to create project", err)
	}

	cred := &Credential{
		ID:        uuid.New().String(),
		AppID:     proj.ID,
		OwnerID:   ownerID,
		Key:       key,
		Active:    true,
		CreatedAt: now,
	}
	if err := r.creds.Create(ctx, cred); err != nil {
		return nil, apperr.Internal("failed to store api credential", err)
	}

	slog.InfoContext(ctx, "project created", "project_id", proj.ID, "owner_id", ownerID)
	return proj, nil
}

// List returns the principal's projects, newest first.
func (r *Registry) List(ctx context.Context, p auth.Principal) ([]*Project, error) {
	projects, err := r.projects.ListByOwner(ctx, p.OwnerID)
	if err != nil {
		return nil, apperr.Internal("failed to list projects", err)
	}
	return projects, nil
}

// Get resolves a project and checks that the principal owns it.
func (r *Registry) Get(ctx context.Context, p auth.Principal, id string) (*Project, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("project id is required")
	}
	proj, err := r.projects.GetByID(ctx, id)
	if errors.Is(err, ErrProjectNotFound) {
		return nil, apperr.NotFound("project")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load project", err)
	}
	if proj.OwnerID != p.OwnerID {
		return nil, apperr.Forbidden("you do not have access to this project")
	}
	return proj, nil
}

// RotateKey issues a new key for the project and deactivates all prior ones.
func (r *Registry) RotateKey(ctx context.Context, p auth.Principal, id string) (*Project, error) {
	proj, err := r.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	key, err := r.newKey()
	if err != nil {
		return nil, apperr.Internal("failed to generate api key", err)
	}

	n, err := r.creds.DeactivateByApp(ctx, proj.ID)
	if err != nil {
		return nil, apperr.Internal("failed to deactivate credentials", err)
	}

	now := r.now()
	if err := r.creds.Create(ctx, &Credential{
		ID:        uuid.New().String(),
		AppID:     proj.ID,
		OwnerID:   proj.OwnerID,
		Key:       key,
		Active:    true,
		CreatedAt: now,
	}); err != nil {
		return nil, apperr.Internal("failed to store api credential", err)
	}
	if err := r.projects.SetAPIKey(ctx, proj.ID, key, now); err != nil {
		return nil, apperr.Internal("failed to update project key", err)
	}

	slog.InfoContext(ctx, "api key rotated", "project_id", proj.ID, "deactivated", n)
	proj.APIKey = key
	proj.UpdatedAt = now
	return proj, nil
}

// IssueAccountKey creates an active credential for the owner that is not yet
// bound to any project. The inline channel binds it on first use.
func (r *Registry) IssueAccountKey(ctx context.Context, p auth.Principal) (string, error) {
	key, err := r.newKey()
	if err != nil {
		return "", apperr.Internal("failed to generate api key", err)
	}
	if err := r.creds.Create(ctx, &Credential{
		ID:        uuid.New().String(),
		OwnerID:   p.OwnerID,
		Key:       key,
		Active:    true,
		CreatedAt: r.now(),
	}); err != nil {
		return "", apperr.Internal("failed to store api credential", err)
	}
	return key, nil
}

// SelfRegister creates a project for a principal whose key is not yet bound
// to one. The unbound credential is replaced by a credential with the same
// key bound to the new project, so exactly one active record matches it.
//
// Calls are serialized per key. A caller that loses the race gets the
// project the winner bound the key to.
func (r *Registry) SelfRegister(ctx context.Context, p auth.Principal, key, name string) (*Project, error) {
	if p.AppID != "" {
		return nil, apperr.Validation("credential is already bound to a project")
	}
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, lock.CredentialKey(key))
	if err != nil {
		return nil, apperr.Internal("failed to lock api credential", err)
	}
	defer unlock()

	cred, err := r.creds.FindActiveByKey(ctx, key)
	if err != nil || cred.OwnerID != p.OwnerID {
		return nil, apperr.Unauthenticated()
	}
	if cred.AppID != "" {
		return r.Get(ctx, auth.Principal{OwnerID: cred.OwnerID, AppID: cred.AppID}, cred.AppID)
	}

	proj, err := r.create(ctx, p.OwnerID, name, key)
	if err != nil {
		return nil, err
	}
	if err := r.creds.Deactivate(ctx, cred.ID); err != nil {
		return nil, apperr.Internal("failed to retire unbound credential", err)
	}

	slog.InfoContext(ctx, "project self-registered", "project_id", proj.ID, "owner_id", p.OwnerID)
	return proj, nil
}

// LookupActiveKey implements auth.KeyLookup.
func (r *Registry) LookupActiveKey(ctx context.Context, key string) (string, string, error) {
	cred, err := r.creds.FindActiveByKey(ctx, key)
	if err != nil {
		return "", "", err
	}
	return cred.OwnerID, cred.AppID, nil
}

// AttachSnapshot points the project at a newly captured snapshot.
func (r *Registry) AttachSnapshot(ctx context.Context, projectID, snapshotID string) error {
	if err := r.projects.SetSnapshot(ctx, projectID, snapshotID, r.now()); err != nil {
		return apperr.Internal("failed to update project snapshot", err)
	}
	return nil
}

// RecordAudit overwrites the project's latest audit pointer and score.
func (r *Registry) RecordAudit(ctx context.Context, projectID, auditID string, score float64) error {
	if err := r.projects.SetLatestAudit(ctx, projectID, auditID, score, r.now()); err != nil {
		return apperr.Internal("failed to update latest audit", err)
	}
	return nil
}

// MarkConfigured advances a project still in setup to configured.
func (r *Registry) MarkConfigured(ctx context.Context, projectID string) error {
	proj, err := r.projects.GetByID(ctx, projectID)
	if err != nil {
		return apperr.Internal("failed to load project", err)
	}
	if proj.Status != StatusSetup {
		return nil
	}
	if err := r.projects.SetStatus(ctx, projectID, StatusConfigured, r.now()); err != nil {
		return apperr.Internal("failed to update project status", err)
	}
	return nil
}
