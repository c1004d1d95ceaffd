package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/scanara/internal/audit"
	"github.com/onnwee/scanara/internal/tracing"
)

// AuditRepository implements audit.Repository. The structured report is
// stored as a single JSON document.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

type auditDocument struct {
	Scores            map[string]any `json:"scores"`
	Summary           map[string]any `json:"summary"`
	DetailedFindings  []any          `json:"detailed_findings"`
	Metrics           map[string]any `json:"metrics"`
	RemediationPlan   []any          `json:"remediation_plan"`
	ComponentAnalysis map[string]any `json:"component_analysis"`
	ActionsRequired   map[string]any `json:"actions_required"`
	Metadata          map[string]any `json:"metadata"`
}

const auditColumns = `id, project_id, owner_id, snapshot_id, status, compliance_score,
	compliance_tier, result, error, created_at, updated_at`

func (r *AuditRepository) Create(ctx context.Context, a *audit.Audit) error {
	doc, err := encodeAudit(a)
	if err != nil {
		return err
	}
	_, err = r.db.exec(ctx, "audits", tracing.DBOperationInsert,
		`INSERT INTO audits (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.OwnerID, a.SnapshotID, string(a.Status), a.ComplianceScore,
		string(a.ComplianceTier), doc, a.Error, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (r *AuditRepository) Complete(ctx context.Context, a *audit.Audit) error {
	doc, err := encodeAudit(a)
	if err != nil {
		return err
	}
	res, err := r.db.exec(ctx, "audits", tracing.DBOperationUpdate,
		`UPDATE audits SET status = ?, compliance_score = ?, compliance_tier = ?, result = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(audit.StatusCompleted), a.ComplianceScore, string(a.ComplianceTier), doc, a.UpdatedAt.UTC(),
		a.ID, string(audit.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("complete audit: %w", err)
	}
	return r.checkTransition(ctx, res, a.ID)
}

func (r *AuditRepository) Fail(ctx context.Context, id, msg string, at time.Time) error {
	res, err := r.db.exec(ctx, "audits", tracing.DBOperationUpdate,
		`UPDATE audits SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(audit.StatusFailed), msg, at.UTC(), id, string(audit.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("fail audit: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// checkTransition distinguishes a missing audit from one already terminal
// when a guarded update touched no rows.
func (r *AuditRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("audit transition: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return audit.ErrNotRunning
}

func (r *AuditRepository) GetByID(ctx context.Context, id string) (*audit.Audit, error) {
	row := r.db.queryRow(ctx, "audits", `SELECT `+auditColumns+` FROM audits WHERE id = ?`, id)
	a, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return a, nil
}

func (r *AuditRepository) ListByProject(ctx context.Context, projectID string) ([]*audit.Audit, error) {
	rows, err := r.db.query(ctx, "audits",
		`SELECT `+auditColumns+` FROM audits WHERE project_id = ? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	audits := make([]*audit.Audit, 0)
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func encodeAudit(a *audit.Audit) (string, error) {
	doc, err := json.Marshal(auditDocument{
		Scores:            a.Scores,
		Summary:           a.Summary,
		DetailedFindings:  a.DetailedFindings,
		Metrics:           a.Metrics,
		RemediationPlan:   a.RemediationPlan,
		ComponentAnalysis: a.ComponentAnalysis,
		ActionsRequired:   a.ActionsRequired,
		Metadata:          a.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encode audit result: %w", err)
	}
	return string(doc), nil
}

func scanAudit(s scanner) (*audit.Audit, error) {
	var (
		a      audit.Audit
		status string
		tier   string
		raw    string
	)
	if err := s.Scan(&a.ID, &a.ProjectID, &a.OwnerID, &a.SnapshotID, &status, &a.ComplianceScore,
		&tier, &raw, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	var doc auditDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode audit result: %w", err)
	}
	a.Status = audit.Status(status)
	a.ComplianceTier = audit.Tier(tier)
	a.Scores = doc.Scores
	a.Summary = doc.Summary
	a.DetailedFindings = doc.DetailedFindings
	a.Metrics = doc.Metrics
	a.RemediationPlan = doc.RemediationPlan
	a.ComponentAnalysis = doc.ComponentAnalysis
	a.ActionsRequired = doc.ActionsRequired
	a.Metadata = doc.Metadata
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
