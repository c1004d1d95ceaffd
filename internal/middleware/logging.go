// Package middleware holds the HTTP edge of the API server: request ids,
// tracing, request logs, metrics, CORS, rate limiting and authentication.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/onnwee/scanara/internal/auth"
)

type requestNotesKey struct{}

// requestNotes collects facts learned below Logging that belong on the
// request log line.
type requestNotes struct {
	errorCode string
	ownerID   string
}

func notesFrom(ctx context.Context) *requestNotes {
	n, _ := ctx.Value(requestNotesKey{}).(*requestNotes)
	return n
}

// SetErrorCode records code for the request log line. Outside Logging it
// returns a context carrying the code.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if n := notesFrom(ctx); n != nil {
		n.errorCode = code
		return ctx
	}
	return context.WithValue(ctx, requestNotesKey{}, &requestNotes{errorCode: code})
}

// GetErrorCode returns the recorded error code, if any.
func GetErrorCode(ctx context.Context) string {
	if n := notesFrom(ctx); n != nil {
		return n.errorCode
	}
	return ""
}

func recordOwner(ctx context.Context, ownerID string) {
	if n := notesFrom(ctx); n != nil {
		n.ownerID = ownerID
	}
}

// NewLogger returns a JSON logger at info in production and a text logger
// at debug elsewhere, both on stdout.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logging writes one "request completed" line per request at a level
// chosen by status class. A panicking handler produces no line.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			notes := &requestNotes{}
			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestNotesKey{}, notes)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int64("size", rec.written),
			}
			if id := GetRequestID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			owner := notes.ownerID
			if p, ok := auth.PrincipalFrom(r.Context()); ok && owner == "" {
				owner = p.OwnerID
			}
			if owner != "" {
				attrs = append(attrs, slog.String("owner_id", owner))
			}
			if rec.status >= 400 && notes.errorCode != "" {
				attrs = append(attrs, slog.String("error_code", notes.errorCode))
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
