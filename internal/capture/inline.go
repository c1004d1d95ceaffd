package capture

import (
	"context"
	"strings"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/snapshot"
)

const (
	// InlineCeiling bounds the serialized inline payload in characters.
	InlineCeiling = 500000

	// DefaultInlineProjectName names self-registered projects.
	DefaultInlineProjectName = "VS Code Project"

	// inlineBlobPath is the synthetic path of a pre-joined text payload.
	inlineBlobPath = "codebase.txt"
)

// InlineRequest is the inline channel input: either Files or Text.
type InlineRequest struct {
	APIKey      string
	Files       []snapshot.RawFile
	Text        *string
	ProjectName string
}

// Inline captures an inline payload for the project bound to the caller's
// key. A key not yet bound to a project self-registers one first.
func (s *Service) Inline(ctx context.Context, p auth.Principal, req InlineRequest) (_ *project.Project, _ *snapshot.Snapshot, err error) {
	defer func() { s.metrics.observeCapture(string(snapshot.SourceInline), err) }()

	files, err := inlineFiles(req)
	if err != nil {
		return nil, nil, err
	}

	proj, err := s.resolveInlineProject(ctx, p, req)
	if err != nil {
		return nil, nil, err
	}

	snap, err := s.store(ctx, proj, snapshot.SourceInline, proj.Name, files)
	if err != nil {
		return nil, nil, err
	}
	return proj, snap, nil
}

func (s *Service) resolveInlineProject(ctx context.Context, p auth.Principal, req InlineRequest) (*project.Project, error) {
	if p.AppID != "" {
		return s.projects.Get(ctx, p, p.AppID)
	}
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = DefaultInlineProjectName
	}
	return s.projects.SelfRegister(ctx, p, req.APIKey, name)
}

// inlineFiles normalizes either payload form and applies the character
// ceiling to the trailing portion.
func inlineFiles(req InlineRequest) ([]snapshot.File, error) {
	if req.Text != nil && len(req.Files) == 0 {
		if strings.TrimSpace(*req.Text) == "" {
			return nil, apperr.Validation("codebase text is required")
		}
		return snapshot.FitToCeiling([]snapshot.File{snapshot.NewFile(inlineBlobPath, *req.Text)}, InlineCeiling), nil
	}

	files, err := snapshot.Normalize(req.Files)
	if err != nil {
		return nil, err
	}
	files = snapshot.FitToCeiling(files, InlineCeiling)
	if len(files) == 0 {
		return nil, apperr.Validation("codebase is empty")
	}
	return files, nil
}
