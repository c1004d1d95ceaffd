package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// ErrCloneURL is returned for clone URLs outside the allowed host or scheme.
var ErrCloneURL = errors.New("clone url must be https on the configured host")

// Cloner fetches a repository into an existing empty directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, token, dir string) error
}

// GitCloner shells out to git for a shallow clone.
type GitCloner struct {
	Binary  string
	Timeout time.Duration
}

// NewGitCloner creates a GitCloner using the git on PATH.
func NewGitCloner(timeout time.Duration) *GitCloner {
	return &GitCloner{Binary: "git", Timeout: timeout}
}

// Clone runs a depth-1 clone of repoURL into dir. The token is carried as
// basic-auth user info and scrubbed from any error output.
func (g *GitCloner) Clone(ctx context.Context, repoURL, token, dir string) error {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	authURL, err := withToken(repoURL, token)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.Binary, "clone", "--depth", "1", "--quiet", authURL, dir)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if token != "" {
			msg = strings.ReplaceAll(msg, token, "***")
		}
		if ctx.Err() != nil {
			return fmt.Errorf("git clone timed out: %w", ctx.Err())
		}
		return fmt.Errorf("git clone failed: %s", msg)
	}
	return nil
}

// ValidateCloneURL checks that raw is an https URL on host.
func ValidateCloneURL(raw, host string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.User != nil {
		return ErrCloneURL
	}
	if host != "" && !strings.EqualFold(u.Hostname(), host) {
		return ErrCloneURL
	}
	return nil
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrCloneURL
	}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String(), nil
}
