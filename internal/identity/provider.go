/**
 * @description
 * Package identity authenticates users. LocalProvider keeps identities in
 * the document store, hashes passwords with bcrypt and issues HS256 session
 * tokens; federated sign-in accepts RS256 identity tokens from an external
 * provider.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - github.com/golang-jwt/jwt/v5: session and federated tokens.
 */
package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6

	ProviderPassword  = "password"
	ProviderFederated = "federated"
)

// Identity is an authenticated principal. It exists independently of the
// application account.
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// AuthResult is returned by every successful sign-in.
type AuthResult struct {
	Identity  Identity  `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionChange is delivered to session listeners. Identity is nil on sign-out.
type SessionChange struct {
	UID      string
	Identity *Identity
}

// Provider is the identity contract the rest of the service depends on.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	SignInWithFederatedCredential(ctx context.Context, token string) (*AuthResult, error)
	SignOut(ctx context.Context, uid string) error
	Verify(ctx context.Context, token string) (*Identity, error)
	OnSessionChanged(fn func(SessionChange)) (unsubscribe func())
}

type identityRecord struct {
	Email            string    `json:"email"`
	PasswordHash     string    `json:"passwordHash,omitempty"`
	Provider         string    `json:"provider"`
	FederatedSubject string    `json:"federatedSubject,omitempty"`
	SessionVersion   int       `json:"sessionVersion"`
	CreatedAt        time.Time `json:"createdAt"`
}

// FederatedTokenVerifier validates third-party identity tokens.
type FederatedTokenVerifier interface {
	Verify(ctx context.Context, token string) (*FederatedClaims, error)
}

// LocalProvider implements Provider on the document store.
type LocalProvider struct {
	ds        store.DocumentStore
	tokens    *TokenManager
	federated FederatedTokenVerifier

	// serializes account creation so an email maps to one identity
	createMu sync.Mutex

	listenersMu sync.Mutex
	nextID      int
	listeners   map[int]func(SessionChange)
}

func NewLocalProvider(ds store.DocumentStore, tokens *TokenManager, federated FederatedTokenVerifier) *LocalProvider {
	return &LocalProvider{
		ds:        ds,
		tokens:    tokens,
		federated: federated,
		listeners: make(map[int]func(SessionChange)),
	}
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, authErr(CodeWeakPassword, "password should be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalErr(err)
	}

	p.createMu.Lock()
	defer p.createMu.Unlock()

	if _, _, err := p.findByEmail(ctx, email); err == nil {
		return nil, authErr(CodeEmailAlreadyInUse, "the email address is already in use by another account")
	} else if !isUserNotFound(err) {
		return nil, err
	}

	rec := identityRecord{
		Email:        email,
		PasswordHash: string(hash),
		Provider:     ProviderPassword,
		CreatedAt:    time.Now().UTC(),
	}
	uid, err := p.ds.Create(ctx, domain.CollectionIdentities, rec)
	if err != nil {
		return nil, internalErr(err)
	}
	log.Info().Str("uid", uid).Msg("identity created")

	return p.startSession(uid, rec)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	uid, rec, err := p.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if rec.PasswordHash == "" {
		return nil, authErr(CodeWrongPassword, "this account signs in with a federated credential")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, authErr(CodeWrongPassword, "the password is invalid")
	}
	return p.startSession(uid, rec)
}

// SignInWithFederatedCredential signs in with an external identity token,
// creating the identity on first use. An existing identity with the same
// email is linked to the federated subject. A token whose email the issuer
// has not verified is rejected.
func (p *LocalProvider) SignInWithFederatedCredential(ctx context.Context, token string) (*AuthResult, error) {
	if p.federated == nil {
		return nil, authErr(CodeInvalidCredential, "federated sign-in is not configured")
	}
	claims, err := p.federated.Verify(ctx, token)
	if err != nil {
		return nil, authErr(CodeInvalidCredential, err.Error())
	}
	if claims.Email != "" && !claims.EmailVerified {
		return nil, authErr(CodeInvalidCredential, "the federated credential carries an unverified email")
	}

	p.createMu.Lock()
	defer p.createMu.Unlock()

	docs, err := p.ds.Query(ctx, domain.CollectionIdentities, store.Where("federatedSubject", claims.Subject))
	if err != nil {
		return nil, internalErr(err)
	}
	if len(docs) > 0 {
		var rec identityRecord
		if err := docs[0].DataTo(&rec); err != nil {
			return nil, internalErr(err)
		}
		return p.startSession(docs[0].ID, rec)
	}

	if claims.Email != "" {
		uid, rec, err := p.findByEmail(ctx, claims.Email)
		switch {
		case err == nil:
			if err := p.ds.Update(ctx, domain.CollectionIdentities, uid, map[string]any{"federatedSubject": claims.Subject}); err != nil {
				return nil, internalErr(err)
			}
			rec.FederatedSubject = claims.Subject
			return p.startSession(uid, rec)
		case !isUserNotFound(err):
			return nil, err
		}
	}

	rec := identityRecord{
		Email:            claims.Email,
		Provider:         ProviderFederated,
		FederatedSubject: claims.Subject,
		CreatedAt:        time.Now().UTC(),
	}
	uid, err := p.ds.Create(ctx, domain.CollectionIdentities, rec)
	if err != nil {
		return nil, internalErr(err)
	}
	log.Info().Str("uid", uid).Msg("federated identity created")
	return p.startSession(uid, rec)
}

// SignOut invalidates every token issued to uid so far.
func (p *LocalProvider) SignOut(ctx context.Context, uid string) error {
	err := p.ds.RunTransaction(ctx, domain.CollectionIdentities, uid, func(current store.Document) (map[string]any, error) {
		var rec identityRecord
		if err := current.DataTo(&rec); err != nil {
			return nil, err
		}
		return map[string]any{"sessionVersion": rec.SessionVersion + 1}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authErr(CodeUserNotFound, "there is no user record corresponding to this identifier")
		}
		return internalErr(err)
	}
	p.notify(SessionChange{UID: uid})
	return nil
}

// Verify resolves a session token to its identity.
func (p *LocalProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, authErr(CodeInvalidCredential, err.Error())
	}
	doc, err := p.ds.Get(ctx, domain.CollectionIdentities, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, authErr(CodeUserNotFound, "there is no user record corresponding to this identifier")
		}
		return nil, internalErr(err)
	}
	var rec identityRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, internalErr(err)
	}
	if rec.SessionVersion != claims.SessionVersion {
		return nil, authErr(CodeSessionRevoked, "the session has been signed out")
	}
	return &Identity{UID: doc.ID, Email: rec.Email, Provider: rec.Provider}, nil
}

// OnSessionChanged registers fn for sign-in and sign-out events.
func (p *LocalProvider) OnSessionChanged(fn func(SessionChange)) func() {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *LocalProvider) startSession(uid string, rec identityRecord) (*AuthResult, error) {
	token, expires, err := p.tokens.Generate(uid, rec.Email, rec.SessionVersion)
	if err != nil {
		return nil, internalErr(err)
	}
	ident := Identity{UID: uid, Email: rec.Email, Provider: rec.Provider}
	p.notify(SessionChange{UID: uid, Identity: &ident})
	return &AuthResult{Identity: ident, Token: token, ExpiresAt: expires}, nil
}

func (p *LocalProvider) notify(change SessionChange) {
	p.listenersMu.Lock()
	fns := make([]func(SessionChange), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (p *LocalProvider) findByEmail(ctx context.Context, email string) (string, identityRecord, error) {
	docs, err := p.ds.Query(ctx, domain.CollectionIdentities, store.Where("email", email))
	if err != nil {
		return "", identityRecord{}, internalErr(err)
	}
	if len(docs) == 0 {
		return "", identityRecord{}, authErr(CodeUserNotFound, "there is no user record corresponding to this identifier")
	}
	var rec identityRecord
	if err := docs[0].DataTo(&rec); err != nil {
		return "", identityRecord{}, internalErr(err)
	}
	return docs[0].ID, rec, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", authErr(CodeInvalidEmail, "the email address is badly formatted")
	}
	return email, nil
}

func isUserNotFound(err error) bool {
	var aErr *AuthError
	return errors.As(err, &aErr) && aErr.Code == CodeUserNotFound
}
