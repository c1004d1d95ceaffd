package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/capture"
	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/snapshot"
)

// InlineCapturer captures an inline payload for the caller's key.
type InlineCapturer interface {
	Inline(ctx context.Context, p auth.Principal, req capture.InlineRequest) (*project.Project, *snapshot.Snapshot, error)
}

// CLIHandlers serves the API-key authenticated editor and CLI endpoints.
type CLIHandlers struct {
	inline InlineCapturer
	audits AuditService
}

// NewCLIHandlers creates CLIHandlers.
func NewCLIHandlers(inline InlineCapturer, audits AuditService) *CLIHandlers {
	return &CLIHandlers{inline: inline, audits: audits}
}

// InlineAuditRequest is the body of POST /api/cli/audit. Codebase is either
// an array of {path, content} or one pre-joined string.
type InlineAuditRequest struct {
	AppName  string          `json:"appName"`
	Codebase json.RawMessage `json:"codebase"`
}

func (req InlineAuditRequest) capture(key string) (capture.InlineRequest, error) {
	out := capture.InlineRequest{APIKey: key, ProjectName: req.AppName}

	raw := bytes.TrimSpace(req.Codebase)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, apperr.Validation("codebase is required")
	}
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return out, apperr.Validation("codebase must be a string or an array of files")
		}
		out.Text = &text
	case '[':
		if err := json.Unmarshal(raw, &out.Files); err != nil {
			return out, apperr.Validation("codebase must be a string or an array of files")
		}
	default:
		return out, apperr.Validation("codebase must be a string or an array of files")
	}
	return out, nil
}

// Audit handles POST /api/cli/audit: capture the inline payload, then audit
// the project it landed on.
func (h *CLIHandlers) Audit(w http.ResponseWriter, r *http.Request) {
	var body InlineAuditRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	key, _ := auth.BearerToken(r.Header.Get("Authorization"))
	req, err := body.capture(key)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	p := principal(r)
	proj, _, err := h.inline.Inline(r.Context(), p, req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	a, err := h.audits.Run(r.Context(), auth.Principal{OwnerID: p.OwnerID, AppID: proj.ID}, proj.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, auditReport(a))
}
