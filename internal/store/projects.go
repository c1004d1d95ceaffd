package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/tracing"
)

// ProjectRepository implements project.Repository.
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a ProjectRepository.
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, owner_id, api_key, status, codebase_snapshot_id,
	latest_audit_id, latest_audit_score, created_at, updated_at`

func (r *ProjectRepository) Create(ctx context.Context, p *project.Project) error {
	_, err := r.db.exec(ctx, "projects", tracing.DBOperationInsert,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, p.APIKey, string(p.Status), p.CodebaseSnapshotID,
		p.LatestAuditID, nullFloat(p.LatestAuditScore), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*project.Project, error) {
	row := r.db.queryRow(ctx, "projects", `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, project.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*project.Project, error) {
	rows, err := r.db.query(ctx, "projects",
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*project.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepository) SetAPIKey(ctx context.Context, id, key string, at time.Time) error {
	return r.update(ctx, `UPDATE projects SET api_key = ?, updated_at = ? WHERE id = ?`, key, at.UTC(), id)
}

func (r *ProjectRepository) SetStatus(ctx context.Context, id string, status project.Status, at time.Time) error {
	return r.update(ctx, `UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, string(status), at.UTC(), id)
}

func (r *ProjectRepository) SetSnapshot(ctx context.Context, id, snapshotID string, at time.Time) error {
	return r.update(ctx, `UPDATE projects SET codebase_snapshot_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		snapshotID, string(project.StatusAudit), at.UTC(), id)
}

func (r *ProjectRepository) SetLatestAudit(ctx context.Context, id, auditID string, score float64, at time.Time) error {
	return r.update(ctx, `UPDATE projects SET latest_audit_id = ?, latest_audit_score = ?, updated_at = ? WHERE id = ?`,
		auditID, score, at.UTC(), id)
}

func (r *ProjectRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.exec(ctx, "projects", tracing.DBOperationUpdate, query, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n == 0 {
		return project.ErrProjectNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*project.Project, error) {
	var (
		p      project.Project
		status string
		score  sql.NullFloat64
	)
	if err := s.Scan(&p.ID, &p.Name, &p.OwnerID, &p.APIKey, &status, &p.CodebaseSnapshotID,
		&p.LatestAuditID, &score, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = project.Status(status)
	if score.Valid {
		v := score.Float64
		p.LatestAuditScore = &v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// CredentialRepository implements project.CredentialRepository.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a CredentialRepository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, c *project.Credential) error {
	_, err := r.db.exec(ctx, "api_credentials", tracing.DBOperationInsert,
		`INSERT INTO api_credentials (id, app_id, owner_id, api_key, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AppID, c.OwnerID, c.Key, c.Active, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindActiveByKey(ctx context.Context, key string) (*project.Credential, error) {
	var c project.Credential
	err := r.db.queryRow(ctx, "api_credentials",
		`SELECT id, app_id, owner_id, api_key, active, created_at FROM api_credentials
		WHERE api_key = ? AND active = ? ORDER BY created_at DESC LIMIT 1`, key, true,
	).Scan(&c.ID, &c.AppID, &c.OwnerID, &c.Key, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, project.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r *CredentialRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.exec(ctx, "api_credentials", tracing.DBOperationUpdate,
		`UPDATE api_credentials SET active = ? WHERE id = ?`, false, id)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrCredentialNotFound
	}
	return nil
}

func (r *CredentialRepository) DeactivateByApp(ctx context.Context, appID string) (int, error) {
	res, err := r.db.exec(ctx, "api_credentials", tracing.DBOperationUpdate,
		`UPDATE api_credentials SET active = ? WHERE app_id = ? AND active = ?`, false, appID, true)
	if err != nil {
		return 0, fmt.Errorf("deactivate credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate credentials: %w", err)
	}
	return int(n), nil
}
