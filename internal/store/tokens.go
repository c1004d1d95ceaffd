package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/scanara/internal/github"
	"github.com/onnwee/scanara/internal/tracing"
)

// TokenRepository implements github.TokenStore.
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Upsert(ctx context.Context, t *github.Token) error {
	_, err := r.db.exec(ctx, "github_tokens", tracing.DBOperationInsert,
		`INSERT INTO github_tokens (owner_id, project_id, access_token, username, github_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			project_id = excluded.project_id,
			access_token = excluded.access_token,
			username = excluded.username,
			github_user_id = excluded.github_user_id,
			updated_at = excluded.updated_at`,
		t.OwnerID, t.ProjectID, t.AccessToken, t.Username, t.UserID, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert github token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, ownerID string) (*github.Token, error) {
	var t github.Token
	err := r.db.queryRow(ctx, "github_tokens",
		`SELECT owner_id, project_id, access_token, username, github_user_id, created_at, updated_at
		FROM github_tokens WHERE owner_id = ?`, ownerID,
	).Scan(&t.OwnerID, &t.ProjectID, &t.AccessToken, &t.Username, &t.UserID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, github.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get github token: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
