package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when a token carries no usable user claim.
var ErrNoUserID = errors.New("token has no user id claim")

// TokenClaims are the claims the client reads from a session token.
type TokenClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken decodes a session token without verifying its signature. The
// server verifies tokens; the client only needs to know who it is acting
// as and when the token runs out.
func ParseToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// UserIDFromToken returns the local user's id from a session token,
// preferring the user_id claim over sub.
func UserIDFromToken(token string) (string, error) {
	claims, err := ParseToken(token)
	if err != nil {
		return "", err
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", ErrNoUserID
}

// TokenExpired reports whether the token expires within margin. Tokens
// without an exp claim never expire.
func TokenExpired(token string, margin time.Duration) (bool, error) {
	claims, err := ParseToken(token)
	if err != nil {
		return false, err
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return time.Now().Add(margin).After(claims.ExpiresAt.Time), nil
}
