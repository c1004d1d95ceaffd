package api

import (
	"context"
	"net/http"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/github"
)

// GitHubService runs the OAuth round trip and lists repositories.
type GitHubService interface {
	Initiate(ctx context.Context, p auth.Principal, projectID string) (string, error)
	Callback(ctx context.Context, code, state string) string
	ListRepos(ctx context.Context, p auth.Principal) ([]github.Repo, error)
}

// GitHubHandlers serves the GitHub connection endpoints.
type GitHubHandlers struct {
	github GitHubService
}

// NewGitHubHandlers creates GitHubHandlers.
func NewGitHubHandlers(gh GitHubService) *GitHubHandlers {
	return &GitHubHandlers{github: gh}
}

// Authorize handles GET /api/github/auth?projectId=.
func (h *GitHubHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		projectID = r.URL.Query().Get("appId")
	}
	if projectID == "" {
		WriteError(w, r, apperr.Validation("projectId is required"))
		return
	}

	authURL, err := h.github.Initiate(r.Context(), principal(r), projectID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "authUrl": authURL})
}

// Callback handles GET /api/github/callback. It always redirects to the
// frontend; the outcome travels in the query string.
func (h *GitHubHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.github.Callback(r.Context(), q.Get("code"), q.Get("state"))
	http.Redirect(w, r, target, http.StatusFound)
}

// Repos handles GET /api/github/repos.
func (h *GitHubHandlers) Repos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.github.ListRepos(r.Context(), principal(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "repos": repos})
}
