// Package workspace manages transient, uniquely named directories used by
// the repo-clone channel. A Workspace is acquired per capture and released
// on every exit path; release is best effort and never returns an error.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NamePrefix starts every workspace directory name.
const NamePrefix = "scanara-repo-"

// RetryPolicy bounds deletion attempts before the forced pass.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three attempts with 500ms between them.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond}

// Manager creates and releases workspaces under a base directory.
type Manager struct {
	baseDir   string
	policy    RetryPolicy
	removeAll func(string) error
	sleep     func(time.Duration)
	onFailure func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		if p.Attempts > 0 {
			m.policy = p
		}
	}
}

// WithRemoveFunc replaces os.RemoveAll for each retry attempt.
func WithRemoveFunc(fn func(string) error) Option {
	return func(m *Manager) { m.removeAll = fn }
}

// WithFailureHook registers fn to run whenever a release leaves files behind.
func WithFailureHook(fn func()) Option {
	return func(m *Manager) { m.onFailure = fn }
}

// NewManager creates a Manager. An empty baseDir means os.TempDir().
func NewManager(baseDir string, opts ...Option) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	m := &Manager{
		baseDir:   baseDir,
		policy:    DefaultRetryPolicy,
		removeAll: os.RemoveAll,
		sleep:     time.Sleep,
		onFailure: func() {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Workspace is a single acquired directory.
type Workspace struct {
	dir     string
	manager *Manager
	once    sync.Once
}

// Dir returns the workspace path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Acquire creates a new directory named with a nanosecond timestamp and a
// random suffix so concurrent captures never share a workspace.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base dir: %w", err)
	}

	name := fmt.Sprintf("%s%d-%s", NamePrefix, time.Now().UnixNano(), strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	dir := filepath.Join(m.baseDir, name)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	slog.DebugContext(ctx, "workspace acquired", "dir", dir)
	return &Workspace{dir: dir, manager: m}, nil
}

// Release deletes the workspace. Only the first call has any effect.
func (w *Workspace) Release(ctx context.Context) {
	w.once.Do(func() {
		w.manager.remove(ctx, w.dir)
	})
}

func (m *Manager) remove(ctx context.Context, dir string) {
	var lastErr error
	for attempt := 1; attempt <= m.policy.Attempts; attempt++ {
		lastErr = m.removeAll(dir)
		if lastErr == nil {
			return
		}
		slog.DebugContext(ctx, "workspace removal failed, retrying",
			"dir", dir, "attempt", attempt, "error", lastErr)
		if attempt < m.policy.Attempts {
			m.sleep(m.policy.Backoff)
		}
	}

	forceRemove(dir)
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return
	}

	m.onFailure()
	slog.WarnContext(ctx, "failed to clean up workspace",
		"dir", dir, "attempts", m.policy.Attempts, "error", lastErr)
}

// forceRemove makes every entry writable and removes what it can, deepest
// first, ignoring individual errors.
func forceRemove(dir string) {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		mode := fs.FileMode(0o600)
		if d.IsDir() {
			mode = 0o700
		}
		_ = os.Chmod(path, mode)
		paths = append(paths, path)
		return nil
	})
	for i := len(paths) - 1; i >= 0; i-- {
		_ = os.Remove(paths[i])
	}
}
