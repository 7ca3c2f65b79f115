// Package auth guards the Muninn HTTP API with a single shared password.
//
// Sessions work the classic way: the password is stored only as a bcrypt
// hash, a successful POST to the token endpoint mints an opaque bearer
// token, and every protected request presents that token. Tokens live in
// memory and expire; restarting the server revokes everything.
//
// An Authenticator built with an empty password disables auth entirely,
// which is the default for local single-user setups.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Errors for authentication.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// DefaultTokenExpiry is how long a minted token stays valid.
const DefaultTokenExpiry = 24 * time.Hour

// TokenResponse follows the OAuth 2.0 token response shape.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // always "Bearer"
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// Authenticator validates passwords and manages bearer tokens. Safe for
// concurrent use.
type Authenticator struct {
	hash    []byte // nil when auth is disabled
	expiry  time.Duration
	mu      sync.Mutex
	tokens  map[string]time.Time // token -> expiry deadline
	nowFunc func() time.Time
}

// New creates an authenticator for the given password. An empty password
// disables authentication: every token validates and Middleware passes
// requests straight through.
func New(password string) (*Authenticator, error) {
	a := &Authenticator{
		expiry:  DefaultTokenExpiry,
		tokens:  make(map[string]time.Time),
		nowFunc: time.Now,
	}
	if password == "" {
		return a, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a.hash = hash
	return a, nil
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool { return a.hash != nil }

// Authenticate checks the password and mints a bearer token.
func (a *Authenticator) Authenticate(password string) (TokenResponse, error) {
	if !a.Enabled() {
		return TokenResponse{
			AccessToken: "anonymous",
			TokenType:   "Bearer",
			ExpiresIn:   int64(a.expiry.Seconds()),
		}, nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return TokenResponse{}, ErrInvalidCredentials
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return TokenResponse{}, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	a.mu.Lock()
	a.tokens[token] = a.nowFunc().Add(a.expiry)
	a.mu.Unlock()

	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(a.expiry.Seconds()),
	}, nil
}

// ValidateToken checks a bearer token. Expired tokens are removed as a side
// effect.
func (a *Authenticator) ValidateToken(token string) error {
	if !a.Enabled() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	deadline, ok := a.tokens[token]
	if !ok {
		return ErrInvalidToken
	}
	if a.nowFunc().After(deadline) {
		delete(a.tokens, token)
		return ErrInvalidToken
	}
	return nil
}

// Revoke invalidates a token immediately.
func (a *Authenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

// Middleware wraps next with bearer-token enforcement. When auth is
// disabled the handler is returned unchanged.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || a.ValidateToken(strings.TrimSpace(token)) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="muninn"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
