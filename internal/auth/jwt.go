// Package auth implements the access gate: bearer identity tokens and
// project API keys, both resolving to a Principal.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenTypeIdentity is the typ claim carried by identity tokens.
	TokenTypeIdentity = "identity"

	// IdentityTokenExpiry is the lifetime of tokens minted locally.
	IdentityTokenExpiry = time.Hour

	// DefaultLeeway absorbs clock skew with the identity provider.
	DefaultLeeway = 30 * time.Second
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptyOwnerID = errors.New("ownerID cannot be empty")
)

// Claims are identity token claims. Subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// JWTService verifies HS256 identity tokens. During a secret rotation it
// accepts tokens signed with either secret and signs with the current one.
type JWTService struct {
	signing []byte
	keys    [][]byte // current first
	parser  *jwt.Parser
}

func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation also accepts previous, unless it is empty.
func NewJWTServiceWithRotation(current, previous string) *JWTService {
	svc := &JWTService{
		signing: []byte(current),
		keys:    [][]byte{[]byte(current)},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(DefaultLeeway),
			jwt.WithExpirationRequired(),
		),
	}
	if previous != "" {
		svc.keys = append(svc.keys, []byte(previous))
	}
	return svc
}

// GenerateIdentityToken mints a token for ownerID. Production tokens come
// from the identity provider; this serves tests and local tooling.
func (s *JWTService) GenerateIdentityToken(ownerID string) (string, error) {
	if ownerID == "" {
		return "", ErrEmptyOwnerID
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IdentityTokenExpiry)),
		},
		Type: TokenTypeIdentity,
	}).SignedString(s.signing)
}

// ValidateToken returns the claims of a token signed with any accepted
// secret. Failures collapse to ErrExpiredToken or ErrInvalidToken.
func (s *JWTService) ValidateToken(raw string) (*Claims, error) {
	expired := false
	for _, key := range s.keys {
		claims := &Claims{}
		token, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil })
		if err == nil && token.Valid {
			return claims, nil
		}
		expired = expired || errors.Is(err, jwt.ErrTokenExpired)
	}
	if expired {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

// VerifyIdentity implements IdentityVerifier. It returns the verified subject.
func (s *JWTService) VerifyIdentity(_ context.Context, token string) (string, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if claims.Type != TokenTypeIdentity || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
