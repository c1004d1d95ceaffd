package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are reported under their own path.
var staticRoutes = map[string]bool{
	"/":                    true,
	"/health":              true,
	"/ready":               true,
	"/metrics":             true,
	"/api/auth/verify":     true,
	"/api/auth/check":      true,
	"/api/projects":        true,
	"/api/keys":            true,
	"/api/github/auth":     true,
	"/api/github/callback": true,
	"/api/github/repos":    true,
	"/api/github/clone":    true,
	"/api/upload/codebase": true,
	"/api/audit/run":       true,
	"/api/cli/verify":      true,
	"/api/cli/projects":    true,
	"/api/cli/audit":       true,
}

// normalizePath maps paths with ids to their route pattern so metric and
// span labels stay bounded, e.g. /api/audit/history/abc to
// /api/audit/history/{projectId}. Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "audit" && parts[2] == "history" && parts[3] != "":
		return "/api/audit/history/{projectId}"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" && parts[2] != "" && parts[3] == "rotate-key":
		return "/api/projects/{id}/rotate-key"
	}
	return "other"
}

// HTTPMetrics observes latency, sizes and counts per normalized route.
// Probe and scrape endpoints are not observed.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)

			metrics.ObserveHTTPRequest(r.Method, normalizePath(r.URL.Path), strconv.Itoa(rec.status),
				time.Since(start).Seconds(), max(r.ContentLength, 0), rec.written)
		})
	}
}
