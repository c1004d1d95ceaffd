package api

import (
	"context"
	"net/http"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/audit"
	"github.com/onnwee/scanara/internal/auth"
)

// AuditService runs audits and lists their history.
type AuditService interface {
	Run(ctx context.Context, p auth.Principal, projectID string) (*audit.Audit, error)
	History(ctx context.Context, p auth.Principal, projectID string) ([]*audit.Audit, error)
}

// AuditHandlers serves audit runs and history.
type AuditHandlers struct {
	audits AuditService
}

// NewAuditHandlers creates AuditHandlers.
func NewAuditHandlers(audits AuditService) *AuditHandlers {
	return &AuditHandlers{audits: audits}
}

// ProjectRef names a project in a request body. appId is accepted for
// older clients.
type ProjectRef struct {
	ProjectID string `json:"projectId"`
	AppID     string `json:"appId"`
}

func (r ProjectRef) id() string {
	if r.ProjectID != "" {
		return r.ProjectID
	}
	return r.AppID
}

// AuditReport is the response of a completed run.
type AuditReport struct {
	Success           bool           `json:"success"`
	AuditID           string         `json:"auditId"`
	SnapshotID        string         `json:"snapshotId"`
	ComplianceScore   float64        `json:"complianceScore"`
	Status            string         `json:"status"`
	Scores            map[string]any `json:"scores"`
	Summary           map[string]any `json:"summary"`
	Findings          []any          `json:"findings"`
	Metrics           map[string]any `json:"metrics"`
	RemediationPlan   []any          `json:"remediationPlan"`
	ActionsRequired   map[string]any `json:"actionsRequired"`
	ComponentAnalysis map[string]any `json:"componentAnalysis"`
	Message           string         `json:"message"`
}

// AuditHistoryItem is one entry of GET /api/audit/history/{projectId}.
// Status is the compliance tier for completed audits and the lifecycle
// state otherwise.
type AuditHistoryItem struct {
	ID                string         `json:"id"`
	SnapshotID        string         `json:"snapshotId"`
	ComplianceScore   float64        `json:"complianceScore"`
	Status            string         `json:"status"`
	Summary           map[string]any `json:"summary"`
	Findings          []any          `json:"findings"`
	Scores            map[string]any `json:"scores"`
	Metrics           map[string]any `json:"metrics"`
	RemediationPlan   []any          `json:"remediationPlan"`
	ActionsRequired   map[string]any `json:"actionsRequired"`
	ComponentAnalysis map[string]any `json:"componentAnalysis"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         string         `json:"createdAt"`
	UpdatedAt         string         `json:"updatedAt"`
}

func orEmptyObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyArray(a []any) []any {
	if a == nil {
		return []any{}
	}
	return a
}

func auditReport(a *audit.Audit) AuditReport {
	return AuditReport{
		Success:           true,
		AuditID:           a.ID,
		SnapshotID:        a.SnapshotID,
		ComplianceScore:   a.ComplianceScore,
		Status:            string(a.ComplianceTier),
		Scores:            orEmptyObject(a.Scores),
		Summary:           orEmptyObject(a.Summary),
		Findings:          orEmptyArray(a.DetailedFindings),
		Metrics:           orEmptyObject(a.Metrics),
		RemediationPlan:   orEmptyArray(a.RemediationPlan),
		ActionsRequired:   orEmptyObject(a.ActionsRequired),
		ComponentAnalysis: orEmptyObject(a.ComponentAnalysis),
		Message:           "Audit completed successfully",
	}
}

func auditHistoryItem(a *audit.Audit) AuditHistoryItem {
	status := string(a.Status)
	if a.Status == audit.StatusCompleted {
		status = string(a.ComplianceTier)
	}
	return AuditHistoryItem{
		ID:                a.ID,
		SnapshotID:        a.SnapshotID,
		ComplianceScore:   a.ComplianceScore,
		Status:            status,
		Summary:           orEmptyObject(a.Summary),
		Findings:          orEmptyArray(a.DetailedFindings),
		Scores:            orEmptyObject(a.Scores),
		Metrics:           orEmptyObject(a.Metrics),
		RemediationPlan:   orEmptyArray(a.RemediationPlan),
		ActionsRequired:   orEmptyObject(a.ActionsRequired),
		ComponentAnalysis: orEmptyObject(a.ComponentAnalysis),
		Error:             a.Error,
		CreatedAt:         formatTime(a.CreatedAt),
		UpdatedAt:         formatTime(a.UpdatedAt),
	}
}

// Run handles POST /api/audit/run.
func (h *AuditHandlers) Run(w http.ResponseWriter, r *http.Request) {
	var req ProjectRef
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.id() == "" {
		WriteError(w, r, apperr.Validation("projectId is required"))
		return
	}

	a, err := h.audits.Run(r.Context(), principal(r), req.id())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, auditReport(a))
}

// History handles GET /api/audit/history/{projectId}.
func (h *AuditHandlers) History(w http.ResponseWriter, r *http.Request) {
	audits, err := h.audits.History(r.Context(), principal(r), r.PathValue("projectId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	items := make([]AuditHistoryItem, 0, len(audits))
	for _, a := range audits {
		items = append(items, auditHistoryItem(a))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "audits": items})
}
