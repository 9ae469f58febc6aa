package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims are carried by every session token. SessionVersion must match
// the identity's current version, so signing out invalidates older tokens.
type sessionClaims struct {
	Email          string `json:"email"`
	SessionVersion int    `json:"sv"`
	jwt.RegisteredClaims
}

// TokenManager issues and parses signed session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Generate issues a signed token for the identity.
func (t *TokenManager) Generate(uid, email string, sessionVersion int) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(t.ttl)
	claims := sessionClaims{
		Email:          email,
		SessionVersion: sessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse validates the signature, issuer and lifetime of a token.
func (t *TokenManager) Parse(tokenString string) (*sessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	claims := &sessionClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token validation failed")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim missing")
	}
	return claims, nil
}
