package middleware

import (
	"context"
	"net/http"

	"github.com/onnwee/scanara/internal/auth"
)

// Authenticator is the access gate consulted by the auth middleware.
type Authenticator interface {
	AuthenticateBearer(ctx context.Context, header string) (auth.Principal, error)
	AuthenticateAPIKey(ctx context.Context, key string) (auth.Principal, error)
}

// ErrorResponder writes err as the API's failure envelope.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// RequireBearer admits requests carrying a valid identity token and attaches
// the resulting Principal to the request context.
func RequireBearer(gate Authenticator, respond ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := gate.AuthenticateBearer(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				respond(w, r, err)
				return
			}
			serveAs(next, w, r, p)
		})
	}
}

// RequireAPIKey admits requests whose "Authorization: Bearer" value is an
// active API key.
func RequireAPIKey(gate Authenticator, respond ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _ := auth.BearerToken(r.Header.Get("Authorization"))
			p, err := gate.AuthenticateAPIKey(r.Context(), key)
			if err != nil {
				respond(w, r, err)
				return
			}
			serveAs(next, w, r, p)
		})
	}
}

func serveAs(next http.Handler, w http.ResponseWriter, r *http.Request, p auth.Principal) {
	recordOwner(r.Context(), p.OwnerID)
	next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
}
