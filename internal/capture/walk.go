package capture

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/onnwee/scanara/internal/snapshot"
)

// DefaultIgnoreDirs are directory names never descended into.
var DefaultIgnoreDirs = []string{"node_modules", ".git", "dist", "build", ".next", ".cache"}

// DefaultExtensions are the source extensions a repository walk keeps.
// Files without an extension are always kept.
var DefaultExtensions = []string{
	".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".cpp", ".c", ".cs", ".go",
	".rs", ".php", ".rb", ".swift", ".kt", ".scala", ".dart", ".vue", ".svelte",
}

// Walker selects source files from a cloned tree.
type Walker struct {
	ignoreDirs map[string]struct{}
	extensions map[string]struct{}
	excludes   []string
	limit      int
	onSkip     func()
}

// NewWalker creates a Walker with the default ignore set and extension
// allow-list. excludes are doublestar patterns matched against slash
// separated paths relative to the root.
func NewWalker(excludes ...string) *Walker {
	w := &Walker{
		ignoreDirs: make(map[string]struct{}, len(DefaultIgnoreDirs)),
		extensions: make(map[string]struct{}, len(DefaultExtensions)),
		excludes:   excludes,
		limit:      snapshot.MaxFiles,
		onSkip:     func() {},
	}
	for _, d := range DefaultIgnoreDirs {
		w.ignoreDirs[d] = struct{}{}
	}
	for _, e := range DefaultExtensions {
		w.extensions[e] = struct{}{}
	}
	return w
}

// Walk returns up to the snapshot file limit of matching files in lexical
// order. Unreadable files are logged and skipped.
func (w *Walker) Walk(ctx context.Context, root string) ([]snapshot.File, error) {
	var files []snapshot.File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.WarnContext(ctx, "skipping unreadable path", "path", path, "error", err)
			w.onSkip()
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, skip := w.ignoreDirs[d.Name()]; skip || w.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.allowed(d.Name()) || w.excluded(rel) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.WarnContext(ctx, "skipping unreadable file", "path", rel, "error", readErr)
			w.onSkip()
			return nil
		}
		files = append(files, snapshot.NewFile(rel, string(content)))
		if len(files) >= w.limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (w *Walker) allowed(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return true
	}
	_, ok := w.extensions[strings.ToLower(ext)]
	return ok
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
