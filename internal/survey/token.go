// Package survey issues and validates the signed, single-use tokens gating
// the PR survey workflow, and records survey responses.
package survey

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid means the token is malformed or its signature does
	// not verify.
	ErrTokenInvalid = errors.New("survey token invalid")
	// ErrTokenExpired means the token verified but its lifetime has passed.
	ErrTokenExpired = errors.New("survey token expired")
	// ErrTokenNotFound means the token verified but maps to no survey.
	ErrTokenNotFound = errors.New("survey token not found")
	// ErrAlreadyResponded means the single-use token was already consumed.
	ErrAlreadyResponded = errors.New("survey already responded")
)

// TokenIssuer mints and verifies HS256 survey tokens. The jti claim is the
// survey's TokenID and the only link between token and row.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (i TokenIssuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now().UTC()
}

// IssuedToken is one freshly minted survey token.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// Issue mints a token with a random jti and the configured lifetime.
func (i TokenIssuer) Issue() (IssuedToken, error) {
	if len(i.Secret) == 0 {
		return IssuedToken{}, fmt.Errorf("survey token secret is empty")
	}

	now := i.now()
	expiresAt := now.Add(i.TTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign survey token: %w", err)
	}
	return IssuedToken{Token: signed, TokenID: claims.ID, ExpiresAt: expiresAt}, nil
}

// Parse verifies a token and returns its jti. An expired-but-authentic token
// returns the jti alongside ErrTokenExpired so the caller can distinguish
// expiry from absence.
func (i TokenIssuer) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.Secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims.ID != "" {
			return claims.ID, ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing jti", ErrTokenInvalid)
	}
	return claims.ID, nil
}
