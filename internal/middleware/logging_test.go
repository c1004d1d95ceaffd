package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/auth"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	OwnerID   string `json:"owner_id"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

// fakeGate authenticates "good" bearer tokens as owner-1 and "sk_good" keys
// as owner-2 on app-2.
type fakeGate struct{}

func (fakeGate) AuthenticateBearer(_ context.Context, header string) (auth.Principal, error) {
	if token, ok := auth.BearerToken(header); ok && token == "good" {
		return auth.Principal{OwnerID: "owner-1"}, nil
	}
	return auth.Principal{}, apperr.Unauthenticated()
}

func (fakeGate) AuthenticateAPIKey(_ context.Context, key string) (auth.Principal, error) {
	if key == "sk_good" {
		return auth.Principal{OwnerID: "owner-2", AppID: "app-2"}, nil
	}
	return auth.Principal{}, apperr.Unauthenticated()
}

func writeTestError(w http.ResponseWriter, r *http.Request, err error) {
	SetErrorCode(r.Context(), string(apperr.KindOf(err)))
	w.WriteHeader(http.StatusUnauthorized)
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseEntry(t, buf)
	if entry.Method != "GET" || entry.Path != "/api/projects" {
		t.Errorf("unexpected method/path: %s %s", entry.Method, entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != 5 {
		t.Errorf("expected size 5, got %d", entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.OwnerID != "" || entry.ErrorCode != "" {
		t.Errorf("unexpected owner/error code: %+v", entry)
	}
}

func TestLogging_WithRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseEntry(t, buf); entry.RequestID != "req-123" {
		t.Errorf("expected request_id req-123, got %q", entry.RequestID)
	}
}

func TestLogging_OwnerFromAuthMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	inner := RequireBearer(fakeGate{}, writeTestError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler := Logging(newTestLogger(buf))(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseEntry(t, buf); entry.OwnerID != "owner-1" {
		t.Errorf("expected owner_id owner-1, got %q", entry.OwnerID)
	}
}

func TestLogging_ErrorCodeFromHandler(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"client error", http.StatusBadRequest, "WARN"},
		{"upstream error", http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				SetErrorCode(r.Context(), "validation_error")
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/audit/run", nil))

			entry := parseEntry(t, buf)
			if entry.ErrorCode != "validation_error" {
				t.Errorf("expected error_code validation_error, got %q", entry.ErrorCode)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, entry.Level)
			}
		})
	}
}

func TestLogging_NoErrorCodeFor2xx(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetErrorCode(r.Context(), "ignored")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if entry := parseEntry(t, buf); entry.ErrorCode != "" {
		t.Errorf("expected no error_code for 2xx, got %q", entry.ErrorCode)
	}
}

func TestSetErrorCode_WithoutLogging(t *testing.T) {
	ctx := SetErrorCode(context.Background(), "not_found")
	if got := GetErrorCode(ctx); got != "not_found" {
		t.Errorf("GetErrorCode() = %q, want not_found", got)
	}
	if got := GetErrorCode(context.Background()); got != "" {
		t.Errorf("GetErrorCode() on empty context = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	if !NewLogger("production").Enabled(context.Background(), slog.LevelInfo) {
		t.Error("production logger should log at info")
	}
	if NewLogger("production").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("production logger should not log at debug")
	}
	if !NewLogger("development").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("development logger should log at debug")
	}
}
