package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/project"
)

// ProjectService is the part of the project registry served over HTTP.
type ProjectService interface {
	Create(ctx context.Context, p auth.Principal, name string) (*project.Project, error)
	List(ctx context.Context, p auth.Principal) ([]*project.Project, error)
	Get(ctx context.Context, p auth.Principal, id string) (*project.Project, error)
	RotateKey(ctx context.Context, p auth.Principal, id string) (*project.Project, error)
	IssueAccountKey(ctx context.Context, p auth.Principal) (string, error)
	LookupActiveKey(ctx context.Context, key string) (ownerID, appID string, err error)
}

// ProjectHandlers serves project and credential management.
type ProjectHandlers struct {
	projects ProjectService
}

// NewProjectHandlers creates ProjectHandlers.
func NewProjectHandlers(projects ProjectService) *ProjectHandlers {
	return &ProjectHandlers{projects: projects}
}

// CreateProjectRequest is the body of POST /api/projects and POST /api/cli/projects.
// appName is accepted for older clients.
type CreateProjectRequest struct {
	Name    string `json:"name"`
	AppName string `json:"appName"`
}

func (r CreateProjectRequest) name() string {
	if r.Name != "" {
		return r.Name
	}
	return r.AppName
}

// ProjectCreated is the only view that carries the API key.
type ProjectCreated struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	APIKey    string `json:"apiKey"`
	CreatedAt string `json:"createdAt"`
}

// ProjectSummary is the listing view of a project.
type ProjectSummary struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Status           string   `json:"status"`
	LatestAuditID    string   `json:"latestAuditId,omitempty"`
	LatestAuditScore *float64 `json:"latestAuditScore,omitempty"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func projectCreated(p *project.Project) ProjectCreated {
	return ProjectCreated{ID: p.ID, Name: p.Name, APIKey: p.APIKey, CreatedAt: formatTime(p.CreatedAt)}
}

func projectSummary(p *project.Project) ProjectSummary {
	return ProjectSummary{
		ID:               p.ID,
		Name:             p.Name,
		Status:           string(p.Status),
		LatestAuditID:    p.LatestAuditID,
		LatestAuditScore: p.LatestAuditScore,
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

// principal returns the Principal attached by the auth middleware.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// VerifyIdentity handles POST /api/auth/verify.
func (h *ProjectHandlers) VerifyIdentity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"user":    map[string]string{"uid": principal(r).OwnerID},
		"message": "Token verified successfully",
	})
}

// CheckAuth handles GET /api/auth/check.
func (h *ProjectHandlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          map[string]string{"uid": principal(r).OwnerID},
	})
}

// Create handles POST /api/projects and POST /api/cli/projects.
func (h *ProjectHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	proj, err := h.projects.Create(r.Context(), principal(r), req.name())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Project created successfully",
		"app":     projectCreated(proj),
	})
}

// List handles GET /api/projects. API keys are never listed.
func (h *ProjectHandlers) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context(), principal(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	apps := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		apps = append(apps, projectSummary(p))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "apps": apps})
}

// RotateKey handles POST /api/projects/{id}/rotate-key.
func (h *ProjectHandlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	proj, err := h.projects.RotateKey(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "app": projectCreated(proj)})
}

// IssueKey handles POST /api/keys, an account key not yet bound to a project.
func (h *ProjectHandlers) IssueKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.projects.IssueAccountKey(r.Context(), principal(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{"success": true, "apiKey": key})
}

// VerifyKeyRequest is the body of POST /api/cli/verify.
type VerifyKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// VerifyKey handles POST /api/cli/verify. The key travels in the body so
// the CLI can test a key before storing it.
func (h *ProjectHandlers) VerifyKey(w http.ResponseWriter, r *http.Request) {
	var req VerifyKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		WriteError(w, r, apperr.Validation("apiKey is required"))
		return
	}

	ownerID, appID, err := h.projects.LookupActiveKey(r.Context(), req.APIKey)
	if err != nil || ownerID == "" {
		WriteError(w, r, apperr.Unauthenticated())
		return
	}

	var app any
	if appID != "" {
		proj, err := h.projects.Get(r.Context(), auth.Principal{OwnerID: ownerID, AppID: appID}, appID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			WriteError(w, r, err)
			return
		}
		if proj != nil {
			app = map[string]string{"id": proj.ID, "name": proj.Name, "status": string(proj.Status)}
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":   true,
		"connected": true,
		"message":   "Connected successfully",
		"app":       app,
	})
}
