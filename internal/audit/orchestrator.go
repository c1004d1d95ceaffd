package audit

import (
	"context"
	"errors"
	"fmt"
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

// Engine is the external analysis engine.
type Engine interface {
	Analyze(ctx context.Context, system, prompt string) (string, error)
}

// Projects is the part of the registry the orchestrator depends on.
type Projects interface {
	Get(ctx context.Context, p auth.Principal, id string) (*project.Project, error)
	RecordAudit(ctx context.Context, projectID, auditID string, score float64) error
}

// Archiver retains raw engine output. Failures never fail an audit.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// Orchestrator drives the run-audit state machine and serves history.
type Orchestrator struct {
	projects  Projects
	snapshots snapshot.Repository
	audits    Repository
	engine    Engine
	locker    lock.Locker
	archiver  Archiver
	metrics   *Metrics
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver sets the raw response archiver.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(projects Projects, snapshots snapshot.Repository, audits Repository, engine Engine, locker lock.Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		projects:  projects,
		snapshots: snapshots,
		audits:    audits,
		engine:    engine,
		locker:    locker,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run audits the project's current snapshot.
//
// Validation, authentication, ownership and lookup failures return before
// any record exists. Once the running record is created every exit leaves
// it completed or failed.
func (o *Orchestrator) Run(ctx context.Context, p auth.Principal, projectID string) (_ *Audit, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "audit.run", tracing.AttrProjectID.String(projectID))
	defer func() { endSpan(err) }()

	proj, err := o.projects.Get(ctx, p, projectID)
	if err != nil {
		return nil, err
	}

	snap, err := o.currentSnapshot(ctx, proj)
	if err != nil {
		return nil, err
	}

	document := snapshot.Serialize(snapshot.Truncate(snap.Files))
	prompt := BuildInstruction(InstructionInput{
		RepoName: proj.Name,
		ScanDate: o.now(),
		Document: document,
	})

	// A caller going away must not strand the record in running.
	ctx = context.WithoutCancel(ctx)

	now := o.now()
	a := &Audit{
		ID:         uuid.New().String(),
		ProjectID:  proj.ID,
		OwnerID:    proj.OwnerID,
		SnapshotID: snap.ID,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.audits.Create(ctx, a); err != nil {
		return nil, apperr.Internal("failed to create audit", err)
	}
	tracing.SetAttributes(ctx, tracing.AttrAuditID.String(a.ID), tracing.AttrSnapshotID.String(snap.ID))
	slog.InfoContext(ctx, "audit started",
		"audit_id", a.ID, "project_id", proj.ID, "snapshot_id", snap.ID, "file_count", snap.FileCount)

	raw, err := o.callEngine(ctx, prompt)
	if err != nil {
		return nil, o.fail(ctx, a, apperr.Upstream(err))
	}
	o.archive(ctx, a, raw)

	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, o.fail(ctx, a, apperr.Upstream(err))
	}

	a.ApplyResult(ParseResult(obj))
	a.Status = StatusCompleted
	a.UpdatedAt = o.now()

	if err := o.complete(ctx, a); err != nil {
		return nil, o.fail(ctx, a, err)
	}

	o.metrics.observeTerminal(StatusCompleted)
	o.metrics.observeScore(a.ComplianceScore)
	slog.InfoContext(ctx, "audit completed",
		"audit_id", a.ID, "project_id", proj.ID,
		"compliance_score", a.ComplianceScore, "compliance_tier", a.ComplianceTier)
	return a, nil
}

func (o *Orchestrator) currentSnapshot(ctx context.Context, proj *project.Project) (*snapshot.Snapshot, error) {
	if proj.CodebaseSnapshotID == "" {
		return nil, apperr.Validation("no codebase found for this project, capture a snapshot first")
	}
	snap, err := o.snapshots.GetByID(ctx, proj.CodebaseSnapshotID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, apperr.Validation("codebase snapshot %s no longer exists", proj.CodebaseSnapshotID)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load snapshot", err)
	}
	if len(snap.Files) == 0 {
		return nil, apperr.Validation("codebase is empty")
	}
	return snap, nil
}

func (o *Orchestrator) callEngine(ctx context.Context, prompt string) (_ string, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "audit.engine")
	defer func() { endSpan(err) }()

	start := time.Now()
	raw, err := o.engine.Analyze(ctx, SystemMessage, prompt)
	o.metrics.observeEngine(time.Since(start).Seconds())
	return raw, err
}

// complete persists the result and moves the project pointer under the
// project lock, so the pointer names whichever audit completed last. When
// the lock cannot be taken the result is still stored and only the pointer
// is left untouched.
func (o *Orchestrator) complete(ctx context.Context, a *Audit) error {
	unlock, err := o.locker.Lock(ctx, lock.ProjectKey(a.ProjectID))
	if err != nil {
		if err := o.audits.Complete(ctx, a); err != nil {
			return apperr.Internal("failed to save audit result", err)
		}
		slog.WarnContext(ctx, "failed to lock project, latest audit pointer not updated",
			"audit_id", a.ID, "project_id", a.ProjectID, "error", err)
		return nil
	}
	defer unlock()

	if err := o.audits.Complete(ctx, a); err != nil {
		return apperr.Internal("failed to save audit result", err)
	}
	if err := o.projects.RecordAudit(ctx, a.ProjectID, a.ID, a.ComplianceScore); err != nil {
		// The audit itself is durable; only the pointer is stale.
		slog.ErrorContext(ctx, "failed to update latest audit pointer",
			"audit_id", a.ID, "project_id", a.ProjectID, "error", err)
	}
	return nil
}

// fail writes cause onto the running record and returns cause.
func (o *Orchestrator) fail(ctx context.Context, a *Audit, cause error) error {
	msg := apperr.MessageOf(cause)
	if apperr.KindOf(cause) == apperr.KindInternal {
		msg = cause.Error()
	}

	if err := o.audits.Fail(ctx, a.ID, msg, o.now()); err != nil {
		slog.ErrorContext(ctx, "failed to record audit failure",
			"audit_id", a.ID, "project_id", a.ProjectID, "error", err)
	}
	a.Status = StatusFailed
	a.Error = msg

	o.metrics.observeTerminal(StatusFailed)
	slog.WarnContext(ctx, "audit failed",
		"audit_id", a.ID, "project_id", a.ProjectID, "error", msg)
	return cause
}

func (o *Orchestrator) archive(ctx context.Context, a *Audit, raw string) {
	if o.archiver == nil {
		return
	}
	key := fmt.Sprintf("audits/%s/%s.txt", a.ProjectID, a.ID)
	actx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.archiver.Archive(actx, key, []byte(raw)); err != nil {
		o.metrics.incArchiveFailure()
		slog.WarnContext(ctx, "failed to archive engine response", "audit_id", a.ID, "error", err)
	}
}

// History returns every audit of the project, newest first, after the
// same ownership check as Run.
func (o *Orchestrator) History(ctx context.Context, p auth.Principal, projectID string) ([]*Audit, error) {
	proj, err := o.projects.Get(ctx, p, projectID)
	if err != nil {
		return nil, err
	}
	audits, err := o.audits.ListByProject(ctx, proj.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list audits", err)
	}
	return audits, nil
}
