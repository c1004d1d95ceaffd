package github

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTokenNotFound is returned when an owner never connected an account.
var ErrTokenNotFound = errors.New("github token not found")

// Token is a stored remote-host access token, one per owner.
type Token struct {
	OwnerID     string
	ProjectID   string // project the authorization was started from
	AccessToken string
	Username    string
	UserID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenStore persists tokens keyed by owner.
type TokenStore interface {
	// Upsert replaces any token stored for t.OwnerID, keeping CreatedAt.
	Upsert(ctx context.Context, t *Token) error

	// Get returns the owner's token or ErrTokenNotFound.
	Get(ctx context.Context, ownerID string) (*Token, error)
}

// InMemoryTokenStore is an in-memory implementation of TokenStore.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewInMemoryTokenStore creates an empty store.
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]*Token)}
}

func (s *InMemoryTokenStore) Upsert(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	if prev, ok := s.tokens[t.OwnerID]; ok {
		c.CreatedAt = prev.CreatedAt
	}
	s.tokens[t.OwnerID] = &c
	return nil
}

func (s *InMemoryTokenStore) Get(_ context.Context, ownerID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[ownerID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	c := *t
	return &c, nil
}
