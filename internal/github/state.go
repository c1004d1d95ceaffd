package github

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateExpiry bounds how long an authorization round trip may take.
const StateExpiry = 10 * time.Minute

const stateType = "github_state"

// ErrInvalidState is returned for a tampered, expired or foreign state.
var ErrInvalidState = errors.New("invalid oauth state")

type stateClaims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"pid"`
	Type      string `json:"typ"`
}

// StateSigner signs and verifies the OAuth state parameter, binding the
// round trip to the owner and project that started it.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a StateSigner with an HMAC secret.
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// Sign returns a state token for ownerID and projectID.
func (s *StateSigner) Sign(ownerID, projectID string) (string, error) {
	now := s.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateExpiry)),
		},
		ProjectID: projectID,
		Type:      stateType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Verify returns the owner and project bound into state.
func (s *StateSigner) Verify(state string) (ownerID, projectID string, err error) {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", "", ErrInvalidState
	}
	if claims.Type != stateType || claims.Subject == "" || claims.ProjectID == "" {
		return "", "", ErrInvalidState
	}
	return claims.Subject, claims.ProjectID, nil
}
