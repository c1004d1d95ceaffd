package capture

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/snapshot"
	"github.com/onnwee/scanara/internal/tracing"
	"github.com/onnwee/scanara/internal/workspace"
)

// TokenSource returns the stored remote-host access token for an owner.
type TokenSource interface {
	AccessToken(ctx context.Context, ownerID string) (string, error)
}

// Workspaces hands out scoped clone directories.
type Workspaces interface {
	Acquire(ctx context.Context) (*workspace.Workspace, error)
}

// RepoChannel captures a snapshot by cloning a remote repository.
type RepoChannel struct {
	service    *Service
	tokens     TokenSource
	workspaces Workspaces
	cloner     Cloner
	walker     *Walker
	host       string
}

// NewRepoChannel creates a RepoChannel. host restricts clone URLs; empty
// allows any https host.
func NewRepoChannel(service *Service, tokens TokenSource, workspaces Workspaces, cloner Cloner, walker *Walker, host string) *RepoChannel {
	if walker == nil {
		walker = NewWalker()
	}
	walker.onSkip = service.metrics.incSkipped
	return &RepoChannel{
		service:    service,
		tokens:     tokens,
		workspaces: workspaces,
		cloner:     cloner,
		walker:     walker,
		host:       host,
	}
}

// CloneRequest is the repo-clone channel input.
type CloneRequest struct {
	ProjectID string
	RepoURL   string
}

// Capture clones the repository into a fresh workspace, walks it and stores
// the selected files. The workspace is released exactly once on every path.
func (c *RepoChannel) Capture(ctx context.Context, p auth.Principal, req CloneRequest) (_ *snapshot.Snapshot, err error) {
	defer func() { c.service.metrics.observeCapture(string(snapshot.SourceRepoClone), err) }()

	if strings.TrimSpace(req.RepoURL) == "" {
		return nil, apperr.Validation("repository url is required")
	}
	if err := ValidateCloneURL(req.RepoURL, c.host); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	proj, err := c.service.projects.Get(ctx, p, req.ProjectID)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx, p.OwnerID)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal("failed to load access token", err)
	}

	ws, err := c.workspaces.Acquire(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to create workspace", err)
	}
	defer ws.Release(context.WithoutCancel(ctx))

	if err := c.cloner.Clone(ctx, req.RepoURL, token, ws.Dir()); err != nil {
		slog.WarnContext(ctx, "clone failed", "project_id", proj.ID, "error", err)
		return nil, apperr.Internal("failed to clone repository", err)
	}

	tracing.AddEvent(ctx, "repo.cloned", tracing.AttrProjectID.String(proj.ID))

	files, err := c.walker.Walk(ctx, ws.Dir())
	if err != nil {
		return nil, apperr.Internal("failed to read repository", err)
	}
	if len(files) == 0 {
		return nil, apperr.Validation("repository contains no supported source files")
	}

	snap, err := c.service.store(ctx, proj, snapshot.SourceRepoClone, req.RepoURL, files)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
