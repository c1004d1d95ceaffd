package api

import (
	"net/http"

	"github.com/onnwee/scanara/internal/middleware"
)

// Deps are the services bound by NewRouter.
type Deps struct {
	Gate     middleware.Authenticator
	Projects ProjectService
	Uploads  Uploader
	Inline   InlineCapturer
	Audits   AuditService
	Health   *HealthHandlers

	// Repos and GitHub are nil when no GitHub application is configured;
	// their routes then answer 404.
	Repos  RepoCapturer
	GitHub GitHubService

	// Metrics serves the Prometheus exposition; nil disables /metrics.
	Metrics http.Handler
}

// NewRouter binds every route. Identity-token routes sit behind
// RequireBearer and CLI routes behind RequireAPIKey, except /api/cli/verify
// which checks the key from its body.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	bearer := middleware.RequireBearer(d.Gate, WriteError)
	apiKey := middleware.RequireAPIKey(d.Gate, WriteError)

	projects := NewProjectHandlers(d.Projects)
	captures := NewCaptureHandlers(d.Uploads, d.Repos)
	audits := NewAuditHandlers(d.Audits)
	cli := NewCLIHandlers(d.Inline, d.Audits)

	if d.Health != nil {
		mux.HandleFunc("GET /health", d.Health.Health)
		mux.HandleFunc("GET /ready", d.Health.Ready)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.Handle("POST /api/auth/verify", bearer(http.HandlerFunc(projects.VerifyIdentity)))
	mux.Handle("GET /api/auth/check", bearer(http.HandlerFunc(projects.CheckAuth)))
	mux.Handle("POST /api/projects", bearer(http.HandlerFunc(projects.Create)))
	mux.Handle("GET /api/projects", bearer(http.HandlerFunc(projects.List)))
	mux.Handle("POST /api/projects/{id}/rotate-key", bearer(http.HandlerFunc(projects.RotateKey)))
	mux.Handle("POST /api/keys", bearer(http.HandlerFunc(projects.IssueKey)))

	mux.Handle("POST /api/upload/codebase", bearer(http.HandlerFunc(captures.Upload)))
	mux.Handle("POST /api/audit/run", bearer(http.HandlerFunc(audits.Run)))
	mux.Handle("GET /api/audit/history/{projectId}", bearer(http.HandlerFunc(audits.History)))

	if d.GitHub != nil {
		gh := NewGitHubHandlers(d.GitHub)
		mux.Handle("GET /api/github/auth", bearer(http.HandlerFunc(gh.Authorize)))
		mux.HandleFunc("GET /api/github/callback", gh.Callback)
		mux.Handle("GET /api/github/repos", bearer(http.HandlerFunc(gh.Repos)))
		mux.Handle("POST /api/github/clone", bearer(http.HandlerFunc(captures.Clone)))
	}

	mux.HandleFunc("POST /api/cli/verify", projects.VerifyKey)
	mux.Handle("POST /api/cli/projects", apiKey(http.HandlerFunc(projects.Create)))
	mux.Handle("POST /api/cli/audit", apiKey(http.HandlerFunc(cli.Audit)))

	mux.HandleFunc("/", NotFound)
	return mux
}
