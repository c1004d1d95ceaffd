// Package github connects an owner's GitHub account: the OAuth round trip,
// per-owner token storage and repository listing for the repo-clone channel.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/project"
)

// DefaultAPIURL is the GitHub REST API base.
const DefaultAPIURL = "https://api.github.com"

// Host is the only host clone URLs may point at.
const Host = "github.com"

// Config configures a Service.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	FrontendURL  string
	APIURL       string
	// Endpoint overrides the GitHub OAuth endpoint.
	Endpoint *oauth2.Endpoint
}

// Projects is the part of the registry the OAuth flow depends on.
type Projects interface {
	Get(ctx context.Context, p auth.Principal, id string) (*project.Project, error)
	MarkConfigured(ctx context.Context, projectID string) error
}

// Repo is the listing shape of a remote repository.
type Repo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Description   string    `json:"description"`
	Private       bool      `json:"private"`
	URL           string    `json:"url"`
	CloneURL      string    `json:"cloneUrl"`
	DefaultBranch string    `json:"defaultBranch"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type apiRepo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   *string   `json:"description"`
	Private       bool      `json:"private"`
	HTMLURL       string    `json:"html_url"`
	CloneURL      string    `json:"clone_url"`
	DefaultBranch string    `json:"default_branch"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type apiUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Service runs the OAuth flow and calls the GitHub API on an owner's behalf.
type Service struct {
	oauth      *oauth2.Config
	state      *StateSigner
	tokens     TokenStore
	projects   Projects
	httpClient *http.Client
	apiURL     string
	frontend   string
	now        func() time.Time
}

// NewService creates a Service. stateSecret signs the OAuth state.
func NewService(cfg Config, stateSecret string, tokens TokenStore, projects Projects) *Service {
	endpoint := oauthgithub.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	frontend := strings.TrimRight(cfg.FrontendURL, "/")
	if frontend == "" {
		frontend = "http://localhost:5173"
	}
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"repo"},
			Endpoint:     endpoint,
		},
		state:    NewStateSigner(stateSecret),
		tokens:   tokens,
		projects: projects,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiURL:   apiURL,
		frontend: frontend,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate returns the authorization URL for an owned project.
func (s *Service) Initiate(ctx context.Context, p auth.Principal, projectID string) (string, error) {
	proj, err := s.projects.Get(ctx, p, projectID)
	if err != nil {
		return "", err
	}
	state, err := s.state.Sign(p.OwnerID, proj.ID)
	if err != nil {
		return "", apperr.Internal("failed to sign oauth state", err)
	}
	return s.oauth.AuthCodeURL(state), nil
}

// Callback completes the round trip and returns the frontend URL to
// redirect to. The access token never appears in the redirect.
func (s *Service) Callback(ctx context.Context, code, state string) string {
	ownerID, projectID, err := s.state.Verify(state)
	if err != nil {
		slog.WarnContext(ctx, "github callback with invalid state", "error", err)
		return s.redirect("unknown", "error", "invalid_state")
	}
	if code == "" {
		return s.redirect(projectID, "error", "oauth_failed")
	}

	tok, err := s.oauth.Exchange(s.clientContext(ctx), code)
	if err != nil || tok.AccessToken == "" {
		slog.WarnContext(ctx, "github code exchange failed", "project_id", projectID, "error", err)
		return s.redirect(projectID, "error", "token_failed")
	}

	var user apiUser
	if err := s.get(ctx, tok.AccessToken, "/user", &user); err != nil {
		slog.WarnContext(ctx, "github user lookup failed", "project_id", projectID, "error", err)
		return s.redirect(projectID, "error", "oauth_error")
	}

	now := s.now()
	if err := s.tokens.Upsert(ctx, &Token{
		OwnerID:     ownerID,
		ProjectID:   projectID,
		AccessToken: tok.AccessToken,
		Username:    user.Login,
		UserID:      user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to store github token", "owner_id", ownerID, "error", err)
		return s.redirect(projectID, "error", "oauth_error")
	}
	if err := s.projects.MarkConfigured(ctx, projectID); err != nil {
		slog.WarnContext(ctx, "failed to mark project configured", "project_id", projectID, "error", err)
	}

	slog.InfoContext(ctx, "github account connected", "owner_id", ownerID, "project_id", projectID, "github_user", user.Login)
	return s.redirect(projectID, "success", "true")
}

// ListRepos returns the owner's repositories, most recently updated first.
func (s *Service) ListRepos(ctx context.Context, p auth.Principal) ([]Repo, error) {
	token, err := s.AccessToken(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}

	var raw []apiRepo
	if err := s.get(ctx, token, "/user/repos?per_page=100&sort=updated", &raw); err != nil {
		return nil, apperr.Internal("failed to fetch repositories", err)
	}

	repos := make([]Repo, 0, len(raw))
	for _, r := range raw {
		repo := Repo{
			ID:            r.ID,
			Name:          r.Name,
			FullName:      r.FullName,
			Private:       r.Private,
			URL:           r.HTMLURL,
			CloneURL:      r.CloneURL,
			DefaultBranch: r.DefaultBranch,
			UpdatedAt:     r.UpdatedAt,
		}
		if r.Description != nil {
			repo.Description = *r.Description
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// AccessToken returns the owner's stored token. It satisfies the repo-clone
// channel's token source.
func (s *Service) AccessToken(ctx context.Context, ownerID string) (string, error) {
	t, err := s.tokens.Get(ctx, ownerID)
	if errors.Is(err, ErrTokenNotFound) {
		return "", &apperr.Error{Kind: apperr.KindUnauthenticated, Message: "GitHub not connected, authorize first"}
	}
	if err != nil {
		return "", apperr.Internal("failed to load github token", err)
	}
	return t.AccessToken, nil
}

func (s *Service) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github api %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Service) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func (s *Service) redirect(projectID, key, value string) string {
	return fmt.Sprintf("%s/setup/%s/github?%s=%s", s.frontend, url.PathEscape(projectID), key, url.QueryEscape(value))
}
