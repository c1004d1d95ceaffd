package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// EngineChecker verifies the analysis engine is reachable and accepts the
// configured key by listing models, which costs no tokens.
type EngineChecker struct {
	url    string
	apiKey string
	client *http.Client
}

// NewEngineChecker creates an EngineChecker for an OpenAI-compatible base URL.
func NewEngineChecker(baseURL, apiKey string, client *http.Client) *EngineChecker {
	if client == nil {
		client = http.DefaultClient
	}
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/chat/completions")
	return &EngineChecker{url: baseURL + "/models", apiKey: apiKey, client: client}
}

// HealthCheck fails on transport errors, rejected credentials and 5xx answers.
// Other statuses mean the endpoint is up even if it does not list models.
func (e *EngineChecker) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return fmt.Errorf("build engine health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("engine rejected credentials: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("engine unavailable: status %d", resp.StatusCode)
	}
	return nil
}
