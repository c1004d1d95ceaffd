package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/scanara/internal/apperr"
)

// APIKeyPrefix marks keys issued by the registry.
const APIKeyPrefix = "sk_"

// Principal is the authenticated identity attached to a request.
// AppID is set only when the caller authenticated with a project-bound API key.
type Principal struct {
	OwnerID string
	AppID   string
}

// IdentityVerifier verifies a bearer token and returns its subject.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, token string) (string, error)
}

// KeyLookup resolves an API key to the owner and project of its single
// active credential record.
type KeyLookup interface {
	LookupActiveKey(ctx context.Context, key string) (ownerID, appID string, err error)
}

// Gate validates either credential scheme and produces a Principal.
// Every failure collapses to apperr.Unauthenticated.
type Gate struct {
	verifier IdentityVerifier
	keys     KeyLookup
}

// NewGate creates a Gate. Either collaborator may be nil, in which case the
// corresponding scheme always rejects.
func NewGate(verifier IdentityVerifier, keys KeyLookup) *Gate {
	return &Gate{verifier: verifier, keys: keys}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// AuthenticateBearer verifies the identity token carried by header.
func (g *Gate) AuthenticateBearer(ctx context.Context, header string) (Principal, error) {
	token, ok := BearerToken(header)
	if !ok || g.verifier == nil {
		return Principal{}, apperr.Unauthenticated()
	}

	subject, err := g.verifier.VerifyIdentity(ctx, token)
	if err != nil || subject == "" {
		slog.DebugContext(ctx, "bearer token rejected", "error", err)
		return Principal{}, apperr.Unauthenticated()
	}
	return Principal{OwnerID: subject}, nil
}

// AuthenticateAPIKey resolves key against the active credential records.
func (g *Gate) AuthenticateAPIKey(ctx context.Context, key string) (Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" || g.keys == nil {
		return Principal{}, apperr.Unauthenticated()
	}

	ownerID, appID, err := g.keys.LookupActiveKey(ctx, key)
	if err != nil || ownerID == "" {
		slog.DebugContext(ctx, "api key rejected", "error", err)
		return Principal{}, apperr.Unauthenticated()
	}
	return Principal{OwnerID: ownerID, AppID: appID}, nil
}

// GenerateAPIKey returns "sk_" followed by 32 random bytes in unpadded base64url.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the Principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
