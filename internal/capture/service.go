// Package capture implements the snapshot capture channels. Every channel
// produces a normalized file list and hands it to Service.store, which
// persists the snapshot and points the project at it.
package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/lock"
	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/snapshot"
	"github.com/onnwee/scanara/internal/tracing"
)

// Projects is the part of the registry capture depends on.
type Projects interface {
	Get(ctx context.Context, p auth.Principal, id string) (*project.Project, error)
	AttachSnapshot(ctx context.Context, projectID, snapshotID string) error
	SelfRegister(ctx context.Context, p auth.Principal, key, name string) (*project.Project, error)
}

// Service is the common capture contract shared by all channels.
type Service struct {
	projects  Projects
	snapshots snapshot.Repository
	locker    lock.Locker
	metrics   *Metrics
	now       func() time.Time
}

// NewService creates a Service.
func NewService(projects Projects, snapshots snapshot.Repository, locker lock.Locker, metrics *Metrics) *Service {
	return &Service{
		projects:  projects,
		snapshots: snapshots,
		locker:    locker,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UploadRequest is the direct-upload channel input.
type UploadRequest struct {
	ProjectID   string
	Files       []snapshot.RawFile
	DisplayName string // optional origin name shown instead of a repository
}

// Upload captures files that arrive already materialized.
func (s *Service) Upload(ctx context.Context, p auth.Principal, req UploadRequest) (_ *snapshot.Snapshot, err error) {
	defer func() { s.metrics.observeCapture(string(snapshot.SourceDirectUpload), err) }()

	proj, err := s.projects.Get(ctx, p, req.ProjectID)
	if err != nil {
		return nil, err
	}
	files, err := snapshot.Normalize(req.Files)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, proj, snapshot.SourceDirectUpload, req.DisplayName, files)
}

// store persists files as a new snapshot and moves the project pointer to
// it. Both writes happen under the project lock.
func (s *Service) store(ctx context.Context, proj *project.Project, source snapshot.Source, origin string, files []snapshot.File) (_ *snapshot.Snapshot, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "capture.store",
		tracing.AttrProjectID.String(proj.ID),
		tracing.AttrSource.String(string(source)),
		tracing.AttrFileCount.Int(len(files)),
	)
	defer func() { endSpan(err) }()

	if len(files) == 0 {
		return nil, apperr.Validation("no files to capture")
	}
	files = snapshot.Truncate(files)

	snap := &snapshot.Snapshot{
		ID:        uuid.New().String(),
		ProjectID: proj.ID,
		OwnerID:   proj.OwnerID,
		Source:    source,
		Origin:    origin,
		Files:     files,
		FileCount: len(files),
		CreatedAt: s.now(),
	}

	unlock, err := s.locker.Lock(ctx, lock.ProjectKey(proj.ID))
	if err != nil {
		return nil, apperr.Internal("failed to lock project", err)
	}
	defer unlock()

	if err := s.snapshots.Create(ctx, snap); err != nil {
		return nil, apperr.Internal("failed to store snapshot", err)
	}
	if err := s.projects.AttachSnapshot(ctx, proj.ID, snap.ID); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "snapshot captured",
		"project_id", proj.ID, "snapshot_id", snap.ID,
		"source", string(source), "file_count", snap.FileCount)
	return snap, nil
}
