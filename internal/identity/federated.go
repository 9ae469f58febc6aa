package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FederatedClaims is what a verified federated identity token asserts.
type FederatedClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// FederatedVerifier validates RS256 identity tokens from an external
// identity provider against its published JWKS.
type FederatedVerifier struct {
	jwksURL  string
	audience string
	issuer   string

	httpClient *http.Client
	cacheTTL   time.Duration

	mu       sync.RWMutex
	expires  time.Time
	keyByKID map[string]*rsa.PublicKey
}

func NewFederatedVerifier(jwksURL, audience, issuer string) *FederatedVerifier {
	return &FederatedVerifier{
		jwksURL:    strings.TrimSpace(jwksURL),
		audience:   strings.TrimSpace(audience),
		issuer:     strings.TrimSpace(issuer),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
		keyByKID:   map[string]*rsa.PublicKey{},
	}
}

// Verify checks the token signature, issuer and audience and returns its
// subject, email and whether the issuer verified that email.
func (v *FederatedVerifier) Verify(ctx context.Context, tokenString string) (*FederatedClaims, error) {
	if v.jwksURL == "" {
		return nil, errors.New("federated sign-in is not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid in token")
		}
		return v.getPublicKey(ctx, kid)
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("token validation failed: %v", err)
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, errors.New("subject claim missing")
	}
	email, _ := claims["email"].(string)

	return &FederatedClaims{
		Subject:       sub,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		EmailVerified: emailVerified(claims["email_verified"]),
	}, nil
}

// emailVerified reads the email_verified claim. Some issuers send it as a
// string.
func emailVerified(v any) bool {
	switch verified := v.(type) {
	case bool:
		return verified
	case string:
		return strings.EqualFold(strings.TrimSpace(verified), "true")
	default:
		return false
	}
}

func (v *FederatedVerifier) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := v.getCachedKey(kid); key != nil {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key := v.getCachedKey(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("key not found for kid %s", kid)
}

func (v *FederatedVerifier) getCachedKey(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if time.Now().After(v.expires) {
		return nil
	}
	return v.keyByKID[kid]
}

func (v *FederatedVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := map[string]*rsa.PublicKey{}
	for _, key := range payload.Keys {
		if key.Kid == "" || key.Kty != "RSA" || key.N == "" || key.E == "" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no usable RSA keys in JWKS")
	}

	v.mu.Lock()
	v.keyByKID = keys
	v.expires = time.Now().Add(v.cacheTTL)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
