package project

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
)

func newTestRegistry() (*Registry, *InMemoryRepository, *InMemoryCredentialRepository) {
	projects := NewInMemoryRepository()
	creds := NewInMemoryCredentialRepository()
	return NewRegistry(projects, creds), projects, creds
}

var (
	ownerA = auth.Principal{OwnerID: "owner-a"}
	ownerB = auth.Principal{OwnerID: "owner-b"}
)

func TestRegistry_Create(t *testing.T) {
	reg, _, creds := newTestRegistry()
	ctx := context.Background()

	proj, err := reg.Create(ctx, ownerA, "  Patient Portal  ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if proj.Name != "Patient Portal" {
		t.Errorf("Name = %q, want trimmed", proj.Name)
	}
	if proj.Status != StatusSetup {
		t.Errorf("Status = %q, want setup", proj.Status)
	}
	if !strings.HasPrefix(proj.APIKey, auth.APIKeyPrefix) {
		t.Errorf("APIKey = %q", proj.APIKey)
	}

	active := creds.ActiveForApp(proj.ID)
	if len(active) != 1 || active[0].Key != proj.APIKey || active[0].OwnerID != "owner-a" {
		t.Errorf("active credentials = %+v", active)
	}
}

func TestRegistry_CreateValidatesName(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"one char", "a", false},
		{"exactly 100", strings.Repeat("x", 100), false},
		{"101", strings.Repeat("x", 101), true},
		{"100 multibyte", strings.Repeat("é", 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, ownerA, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", apperr.KindOf(err))
			}
		})
	}
}

func TestRegistry_ListNewestFirstAndOwnerScoped(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, _ := reg.Create(ctx, ownerA, "first")
	_, _ = reg.Create(ctx, ownerB, "other owner")
	second, _ := reg.Create(ctx, ownerA, "second")

	got, err := reg.List(ctx, ownerA)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", got[0].Name, got[1].Name)
	}
}

func TestRegistry_GetOwnership(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	proj, _ := reg.Create(ctx, ownerA, "mine")

	if _, err := reg.Get(ctx, ownerA, proj.ID); err != nil {
		t.Errorf("Get() by owner error = %v", err)
	}
	if _, err := reg.Get(ctx, ownerB, proj.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("Get() by other owner error = %v, want forbidden", err)
	}
	if _, err := reg.Get(ctx, ownerA, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Get() missing error = %v, want not found", err)
	}
	if _, err := reg.Get(ctx, ownerA, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Get() empty id error = %v, want validation", err)
	}
}

func TestRegistry_RotateKeyDeactivatesPriorKeys(t *testing.T) {
	reg, projects, creds := newTestRegistry()
	ctx := context.Background()

	proj, _ := reg.Create(ctx, ownerA, "rotating")
	oldKey := proj.APIKey

	rotated, err := reg.RotateKey(ctx, ownerA, proj.ID)
	if err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}
	if rotated.APIKey == oldKey {
		t.Fatal("RotateKey() returned the old key")
	}

	active := creds.ActiveForApp(proj.ID)
	if len(active) != 1 || active[0].Key != rotated.APIKey {
		t.Fatalf("active credentials after rotation = %+v", active)
	}
	if _, _, err := reg.LookupActiveKey(ctx, oldKey); err == nil {
		t.Error("old key still resolves after rotation")
	}

	stored, _ := projects.GetByID(ctx, proj.ID)
	if stored.APIKey != rotated.APIKey {
		t.Error("project apiKey not replaced")
	}

	if _, err := reg.RotateKey(ctx, ownerB, proj.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("RotateKey() by other owner error = %v", err)
	}
}

func TestRegistry_SelfRegister(t *testing.T) {
	reg, _, creds := newTestRegistry()
	ctx := context.Background()

	key, err := reg.IssueAccountKey(ctx, ownerA)
	if err != nil {
		t.Fatalf("IssueAccountKey() error = %v", err)
	}

	ownerID, appID, err := reg.LookupActiveKey(ctx, key)
	if err != nil || ownerID != "owner-a" || appID != "" {
		t.Fatalf("LookupActiveKey() = %q, %q, %v", ownerID, appID, err)
	}

	proj, err := reg.SelfRegister(ctx, auth.Principal{OwnerID: ownerID}, key, "cli project")
	if err != nil {
		t.Fatalf("SelfRegister() error = %v", err)
	}
	if proj.APIKey != key {
		t.Error("self-registered project must keep the caller's key")
	}

	ownerID, appID, err = reg.LookupActiveKey(ctx, key)
	if err != nil || appID != proj.ID || ownerID != "owner-a" {
		t.Fatalf("after bind LookupActiveKey() = %q, %q, %v", ownerID, appID, err)
	}
	if n := len(creds.ActiveForApp("")); n != 0 {
		t.Errorf("unbound active credentials = %d, want 0", n)
	}

	_, err = reg.SelfRegister(ctx, auth.Principal{OwnerID: ownerID, AppID: appID}, key, "again")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("SelfRegister() on bound key error = %v, want validation", err)
	}
}

func TestRegistry_SelfRegisterConcurrentSameKey(t *testing.T) {
	reg, _, creds := newTestRegistry()
	ctx := context.Background()

	key, err := reg.IssueAccountKey(ctx, ownerA)
	if err != nil {
		t.Fatalf("IssueAccountKey() error = %v", err)
	}

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			proj, err := reg.SelfRegister(ctx, ownerA, key, "cli project")
			errs[i] = err
			if proj != nil {
				ids[i] = proj.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("SelfRegister() call %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d bound project %q, want %q", i, ids[i], ids[0])
		}
	}

	listed, err := reg.List(ctx, ownerA)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("projects = %d, want 1", len(listed))
	}
	if n := len(creds.ActiveForApp(ids[0])); n != 1 {
		t.Errorf("active credentials for project = %d, want 1", n)
	}
	if n := len(creds.ActiveForApp("")); n != 0 {
		t.Errorf("unbound active credentials = %d, want 0", n)
	}
}

func TestRegistry_SelfRegisterRejectsOtherOwner(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	key, _ := reg.IssueAccountKey(ctx, ownerA)
	if _, err := reg.SelfRegister(ctx, ownerB, key, "stolen"); !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Errorf("SelfRegister() by other owner error = %v, want unauthenticated", err)
	}
}

func TestRegistry_PointerUpdates(t *testing.T) {
	reg, projects, _ := newTestRegistry()
	ctx := context.Background()

	proj, _ := reg.Create(ctx, ownerA, "pointers")

	if err := reg.MarkConfigured(ctx, proj.ID); err != nil {
		t.Fatalf("MarkConfigured() error = %v", err)
	}
	stored, _ := projects.GetByID(ctx, proj.ID)
	if stored.Status != StatusConfigured {
		t.Errorf("Status = %q, want configured", stored.Status)
	}

	if err := reg.AttachSnapshot(ctx, proj.ID, "snap-1"); err != nil {
		t.Fatalf("AttachSnapshot() error = %v", err)
	}
	if err := reg.RecordAudit(ctx, proj.ID, "audit-1", 72.5); err != nil {
		t.Fatalf("RecordAudit() error = %v", err)
	}

	stored, _ = projects.GetByID(ctx, proj.ID)
	if stored.Status != StatusAudit || stored.CodebaseSnapshotID != "snap-1" {
		t.Errorf("after attach: status=%q snapshot=%q", stored.Status, stored.CodebaseSnapshotID)
	}
	if stored.LatestAuditID != "audit-1" || stored.LatestAuditScore == nil || *stored.LatestAuditScore != 72.5 {
		t.Errorf("latest audit = %q / %v", stored.LatestAuditID, stored.LatestAuditScore)
	}

	// configured never regresses an audit-ready project
	if err := reg.MarkConfigured(ctx, proj.ID); err != nil {
		t.Fatalf("MarkConfigured() error = %v", err)
	}
	stored, _ = projects.GetByID(ctx, proj.ID)
	if stored.Status != StatusAudit {
		t.Errorf("Status = %q, want audit", stored.Status)
	}
}
