package api

import (
	"context"
	"net/http"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/capture"
	"github.com/onnwee/scanara/internal/snapshot"
)

// Uploader captures files that arrive already materialized.
type Uploader interface {
	Upload(ctx context.Context, p auth.Principal, req capture.UploadRequest) (*snapshot.Snapshot, error)
}

// RepoCapturer captures a snapshot by cloning a remote repository.
type RepoCapturer interface {
	Capture(ctx context.Context, p auth.Principal, req capture.CloneRequest) (*snapshot.Snapshot, error)
}

// CaptureHandlers serves the direct-upload and repo-clone channels.
type CaptureHandlers struct {
	uploads Uploader
	repos   RepoCapturer
}

// NewCaptureHandlers creates CaptureHandlers. repos may be nil when no
// remote host is configured.
func NewCaptureHandlers(uploads Uploader, repos RepoCapturer) *CaptureHandlers {
	return &CaptureHandlers{uploads: uploads, repos: repos}
}

// UploadRequest is the body of POST /api/upload/codebase.
type UploadRequest struct {
	ProjectRef
	Files []snapshot.RawFile `json:"files"`
	Name  string             `json:"name"`
}

// CloneRequest is the body of POST /api/github/clone.
type CloneRequest struct {
	ProjectRef
	RepoURL string `json:"repoUrl"`
}

// CaptureResponse reports a stored snapshot.
type CaptureResponse struct {
	Success    bool   `json:"success"`
	CodebaseID string `json:"codebaseId"`
	FileCount  int    `json:"fileCount"`
	Message    string `json:"message"`
}

// Upload handles POST /api/upload/codebase.
func (h *CaptureHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.id() == "" {
		WriteError(w, r, apperr.Validation("projectId is required"))
		return
	}

	snap, err := h.uploads.Upload(r.Context(), principal(r), capture.UploadRequest{
		ProjectID:   req.id(),
		Files:       req.Files,
		DisplayName: req.Name,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CaptureResponse{
		Success:    true,
		CodebaseID: snap.ID,
		FileCount:  snap.FileCount,
		Message:    "Codebase uploaded successfully",
	})
}

// Clone handles POST /api/github/clone.
func (h *CaptureHandlers) Clone(w http.ResponseWriter, r *http.Request) {
	if h.repos == nil {
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeRouteNotFound, "repository capture is not configured")
		return
	}

	var req CloneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.id() == "" || req.RepoURL == "" {
		WriteError(w, r, apperr.Validation("projectId and repoUrl are required"))
		return
	}

	snap, err := h.repos.Capture(r.Context(), principal(r), capture.CloneRequest{
		ProjectID: req.id(),
		RepoURL:   req.RepoURL,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CaptureResponse{
		Success:    true,
		CodebaseID: snap.ID,
		FileCount:  snap.FileCount,
		Message:    "Repository cloned and snapshot stored",
	})
}
