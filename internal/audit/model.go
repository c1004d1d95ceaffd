// Package audit runs compliance audits: it turns a project's current
// snapshot into an analysis request, calls the external engine, extracts the
// structured report and persists it as an Audit record.
package audit

import (
	"time"
)

// Status is the lifecycle state of an Audit. running transitions exactly
// once to completed or failed.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Tier is the coarse compliance bucket derived from the overall score.
type Tier string

const (
	TierCompliant      Tier = "Compliant"
	TierNeedsAttention Tier = "NeedsAttention"
	TierNonCompliant   Tier = "NonCompliant"
)

// Audit is one run of the analysis pipeline against a snapshot.
type Audit struct {
	ID         string
	ProjectID  string
	OwnerID    string
	SnapshotID string // the exact snapshot that was analysed
	Status     Status

	ComplianceScore float64
	ComplianceTier  Tier

	Scores            map[string]any
	Summary           map[string]any
	DetailedFindings  []any
	Metrics           map[string]any
	RemediationPlan   []any
	ComponentAnalysis map[string]any
	ActionsRequired   map[string]any
	Metadata          map[string]any

	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApplyResult copies a parsed engine result onto a.
func (a *Audit) ApplyResult(r Result) {
	a.ComplianceScore = r.OverallScore
	a.ComplianceTier = TierFor(r.OverallScore)
	a.Scores = r.Scores
	a.Summary = r.Summary
	a.DetailedFindings = r.DetailedFindings
	a.Metrics = r.Metrics
	a.RemediationPlan = r.RemediationPlan
	a.ComponentAnalysis = r.ComponentAnalysis
	a.ActionsRequired = r.ActionsRequired
	a.Metadata = r.Metadata
}
