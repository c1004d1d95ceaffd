package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/lock"
	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/snapshot"
)

type stubEngine struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
}

func (e *stubEngine) Analyze(_ context.Context, _, prompt string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.prompts = append(e.prompts, prompt)
	return e.reply, e.err
}

type failingArchiver struct{ calls int }

func (a *failingArchiver) Archive(context.Context, string, []byte) error {
	a.calls++
	return errors.New("bucket unavailable")
}

type fixture struct {
	registry  *project.Registry
	projects  *project.InMemoryRepository
	snapshots *snapshot.InMemoryRepository
	audits    *InMemoryRepository
	owner     auth.Principal
	project   *project.Project
}

func newFixture(t *testing.T, withSnapshot bool) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		projects:  project.NewInMemoryRepository(),
		snapshots: snapshot.NewInMemoryRepository(),
		audits:    NewInMemoryRepository(),
		owner:     auth.Principal{OwnerID: "owner-1"},
	}
	f.registry = project.NewRegistry(f.projects, project.NewInMemoryCredentialRepository())

	proj, err := f.registry.Create(ctx, f.owner, "clinic-api")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.project = proj

	if withSnapshot {
		snap := &snapshot.Snapshot{
			ID:        "snap-1",
			ProjectID: proj.ID,
			OwnerID:   f.owner.OwnerID,
			Source:    snapshot.SourceDirectUpload,
			Files:     []snapshot.File{snapshot.NewFile("main.go", "package main")},
			FileCount: 1,
			CreatedAt: time.Now(),
		}
		if err := f.snapshots.Create(ctx, snap); err != nil {
			t.Fatal(err)
		}
		if err := f.registry.AttachSnapshot(ctx, proj.ID, snap.ID); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) orchestrator(engine Engine, opts ...Option) *Orchestrator {
	return NewOrchestrator(f.registry, f.snapshots, f.audits, engine, lock.NewKeyedMutex(), opts...)
}

func (f *fixture) reload(t *testing.T) *project.Project {
	t.Helper()
	p, err := f.projects.GetByID(context.Background(), f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_Completes(t *testing.T) {
	f := newFixture(t, true)
	engine := &stubEngine{reply: `Sure, here you go: {"scores":{"overall_score":72},"summary":{"critical":1}} Hope that helps!`}
	o := f.orchestrator(engine, WithMetrics(NewMetrics()))

	a, err := o.Run(context.Background(), f.owner, f.project.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", a.Status)
	}
	if a.ComplianceScore != 72 || a.ComplianceTier != TierNeedsAttention {
		t.Errorf("score/tier = %v/%s", a.ComplianceScore, a.ComplianceTier)
	}
	if a.SnapshotID != "snap-1" {
		t.Errorf("SnapshotID = %q, want snap-1", a.SnapshotID)
	}

	stored, err := f.audits.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("stored Status = %s", stored.Status)
	}

	p := f.reload(t)
	if p.LatestAuditID != a.ID {
		t.Errorf("LatestAuditID = %q, want %q", p.LatestAuditID, a.ID)
	}
	if p.LatestAuditScore == nil || *p.LatestAuditScore != 72 {
		t.Errorf("LatestAuditScore = %v, want 72", p.LatestAuditScore)
	}
	if engine.calls != 1 {
		t.Errorf("engine calls = %d, want 1", engine.calls)
	}
	if len(engine.prompts) != 1 || !containsAll(engine.prompts[0], "=== File: main.go ===", `"repo": "clinic-api"`) {
		t.Error("prompt must carry the serialized snapshot and repo name")
	}
}

func TestRun_NoJSONFailsRecord(t *testing.T) {
	f := newFixture(t, true)
	o := f.orchestrator(&stubEngine{reply: "I am unable to analyse this repository."})

	_, err := o.Run(context.Background(), f.owner, f.project.ID)
	if !apperr.Is(err, apperr.KindUpstreamEngine) {
		t.Fatalf("error = %v, want upstream engine error", err)
	}

	audits, _ := f.audits.ListByProject(context.Background(), f.project.ID)
	if len(audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(audits))
	}
	if audits[0].Status != StatusFailed || audits[0].Error == "" {
		t.Errorf("audit = %+v, want failed with message", audits[0])
	}
	if p := f.reload(t); p.LatestAuditID != "" {
		t.Errorf("LatestAuditID = %q, want unchanged", p.LatestAuditID)
	}
}

func TestRun_EngineErrorFailsRecord(t *testing.T) {
	f := newFixture(t, true)
	o := f.orchestrator(&stubEngine{err: errors.New("engine API error (status 429): rate limited")})

	_, err := o.Run(context.Background(), f.owner, f.project.ID)
	if !apperr.Is(err, apperr.KindUpstreamEngine) {
		t.Fatalf("error = %v, want upstream engine error", err)
	}

	audits, _ := f.audits.ListByProject(context.Background(), f.project.ID)
	if len(audits) != 1 || audits[0].Status != StatusFailed {
		t.Fatalf("audits = %+v, want one failed", audits)
	}
	if audits[0].Error != "engine API error (status 429): rate limited" {
		t.Errorf("Error = %q, want engine message verbatim", audits[0].Error)
	}
}

func TestRun_PreconditionsCreateNoRecord(t *testing.T) {
	tests := []struct {
		name     string
		snapshot bool
		who      auth.Principal
		id       func(f *fixture) string
		wantKind apperr.Kind
	}{
		{"other owner", true, auth.Principal{OwnerID: "intruder"}, func(f *fixture) string { return f.project.ID }, apperr.KindForbidden},
		{"unknown project", true, auth.Principal{OwnerID: "owner-1"}, func(*fixture) string { return "missing" }, apperr.KindNotFound},
		{"empty id", true, auth.Principal{OwnerID: "owner-1"}, func(*fixture) string { return "" }, apperr.KindValidation},
		{"no snapshot", false, auth.Principal{OwnerID: "owner-1"}, func(f *fixture) string { return f.project.ID }, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.snapshot)
			engine := &stubEngine{reply: `{"scores":{"overall_score":90}}`}
			o := f.orchestrator(engine)

			_, err := o.Run(context.Background(), tt.who, tt.id(f))
			if apperr.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %s, want %s (err %v)", apperr.KindOf(err), tt.wantKind, err)
			}
			if f.audits.Count() != 0 {
				t.Errorf("audits = %d, want 0", f.audits.Count())
			}
			if engine.calls != 0 {
				t.Errorf("engine calls = %d, want 0", engine.calls)
			}
		})
	}
}

func TestRun_DanglingSnapshotPointer(t *testing.T) {
	f := newFixture(t, false)
	if err := f.registry.AttachSnapshot(context.Background(), f.project.ID, "gone"); err != nil {
		t.Fatal(err)
	}
	_, err := f.orchestrator(&stubEngine{}).Run(context.Background(), f.owner, f.project.ID)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestRun_ArchiveFailureDoesNotFailAudit(t *testing.T) {
	f := newFixture(t, true)
	arch := &failingArchiver{}
	o := f.orchestrator(&stubEngine{reply: `{"scores":{"overall_score":85}}`}, WithArchiver(arch), WithMetrics(NewMetrics()))

	a, err := o.Run(context.Background(), f.owner, f.project.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.ComplianceTier != TierCompliant {
		t.Errorf("tier = %s", a.ComplianceTier)
	}
	if arch.calls != 1 {
		t.Errorf("archive calls = %d, want 1", arch.calls)
	}
}

func TestRun_CancelledCallerStillFinalizes(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	engine := engineFunc(func(ctx context.Context) (string, error) {
		cancel()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return `{"scores":{"overall_score":61}}`, nil
	})

	a, err := f.orchestrator(engine).Run(ctx, f.owner, f.project.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", a.Status)
	}
}

type engineFunc func(ctx context.Context) (string, error)

func (fn engineFunc) Analyze(ctx context.Context, _, _ string) (string, error) { return fn(ctx) }

// gatedEngine parks every call until the test replies to it.
type unavailableLocker struct{}

func (unavailableLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("redis: connection refused")
}

func TestRun_LockFailureKeepsResult(t *testing.T) {
	f := newFixture(t, true)
	engine := &stubEngine{reply: `{"scores":{"overall_score":88}}`}
	o := NewOrchestrator(f.registry, f.snapshots, f.audits, engine, unavailableLocker{})

	a, err := o.Run(context.Background(), f.owner, f.project.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", a.Status)
	}

	stored, err := f.audits.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusCompleted || stored.ComplianceScore != 88 {
		t.Errorf("stored = %s/%v, want completed/88", stored.Status, stored.ComplianceScore)
	}

	p := f.reload(t)
	if p.LatestAuditID != "" || p.LatestAuditScore != nil {
		t.Errorf("pointer = %q/%v, want unchanged", p.LatestAuditID, p.LatestAuditScore)
	}
}

type gatedEngine struct {
	calls chan chan string
}

func (e *gatedEngine) Analyze(ctx context.Context, _, _ string) (string, error) {
	reply := make(chan string)
	e.calls <- reply
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestRun_ConcurrentLastCompletedWins(t *testing.T) {
	f := newFixture(t, true)
	engine := &gatedEngine{calls: make(chan chan string)}
	o := f.orchestrator(engine)

	type outcome struct {
		audit *Audit
		err   error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			a, err := o.Run(context.Background(), f.owner, f.project.ID)
			results <- outcome{a, err}
		}()
	}

	first := <-engine.calls
	second := <-engine.calls

	// Release in reverse arrival order; the first-started run finishes last.
	second <- `{"scores":{"overall_score":40}}`
	r1 := <-results
	first <- `{"scores":{"overall_score":95}}`
	r2 := <-results

	for _, r := range []outcome{r1, r2} {
		if r.err != nil {
			t.Fatalf("Run() error = %v", r.err)
		}
	}

	p := f.reload(t)
	if p.LatestAuditID != r2.audit.ID {
		t.Errorf("LatestAuditID = %q, want last completed %q", p.LatestAuditID, r2.audit.ID)
	}
	if p.LatestAuditScore == nil || *p.LatestAuditScore != 95 {
		t.Errorf("LatestAuditScore = %v, want 95", p.LatestAuditScore)
	}

	history, err := o.History(context.Background(), f.owner, f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	for _, a := range history {
		if a.Status != StatusCompleted {
			t.Errorf("audit %s status = %s", a.ID, a.Status)
		}
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)
	engine := &stubEngine{}
	o := f.orchestrator(engine)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		engine.reply = fmt.Sprintf(`{"scores":{"overall_score":%d}}`, 50+i*10)
		a, err := o.Run(ctx, f.owner, f.project.ID)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	engine.reply = "no json"
	if _, err := o.Run(ctx, f.owner, f.project.ID); err == nil {
		t.Fatal("expected failure")
	}

	history, err := o.History(ctx, f.owner, f.project.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history = %d, want 4", len(history))
	}
	if history[0].Status != StatusFailed {
		t.Errorf("newest = %s, want the failed run", history[0].Status)
	}
	if history[1].ID != ids[2] || history[3].ID != ids[0] {
		t.Error("history must be newest first")
	}

	if _, err := o.History(ctx, auth.Principal{OwnerID: "intruder"}, f.project.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("error = %v, want forbidden", err)
	}
}

func TestInMemoryRepository_TerminalOnce(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	a := &Audit{ID: "a1", ProjectID: "p1", Status: StatusRunning}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := repo.Fail(ctx, "a1", "boom", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repo.Complete(ctx, a); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Complete() after Fail error = %v, want ErrNotRunning", err)
	}
	if err := repo.Fail(ctx, "a1", "again", time.Now()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Fail() error = %v, want ErrNotRunning", err)
	}
	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
