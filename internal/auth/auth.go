// Package auth holds the credential store and the two stateless
// authorization checks: Basic ("session") auth for the general surface
// and bearer ("token") auth for the /api namespace.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
)

// TokenVerdict is the outcome of a token gate check
type TokenVerdict int

const (
	// TokenAllowed means the request may proceed
	TokenAllowed TokenVerdict = iota
	// TokenReadOnly means a valid read-only token was used with a
	// write method
	TokenReadOnly
	// TokenUnauthorized means the token was missing or invalid
	TokenUnauthorized
)

// SessionCredentials is the optional Basic-auth credential pair
type SessionCredentials struct {
	Username string
	Password string
}

// Store is the process-wide credential state. Mutation happens rarely
// from an administrative path; checks run per-request. Last write wins
// and readers see either the old or the new value.
type Store struct {
	mu        sync.RWMutex
	session   *SessionCredentials
	fullToken string
	readToken string
}

// NewStore creates a Store with all gates disabled
func NewStore() *Store {
	return &Store{}
}

// SetSession configures the Basic-auth credential for the general
// surface
func (s *Store) SetSession(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &SessionCredentials{Username: username, Password: password}
}

// ClearSession disables session auth
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}

// SessionEnabled reports whether a session credential is configured
func (s *Store) SessionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil
}

// SetFullToken configures the full-access API token; empty clears it
func (s *Store) SetFullToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullToken = token
}

// SetReadToken configures the read-only API token; empty clears it
func (s *Store) SetReadToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readToken = token
}

// TokenEnabled reports whether a full-access token is configured
func (s *Store) TokenEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fullToken != ""
}

// ReadTokenEnabled reports whether a read-only token is configured
func (s *Store) ReadTokenEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readToken != ""
}

// CheckSession validates the request against the configured session
// credential. With no credential configured every request passes. The
// comparison is ordinary equality: this channel is a casual deterrent,
// not a security boundary. Malformed headers are indistinguishable
// from a credential mismatch.
func (s *Store) CheckSession(r *http.Request) bool {
	s.mu.RLock()
	creds := s.session
	s.mu.RUnlock()

	if creds == nil {
		return true
	}

	// BasicAuth decodes the header and splits at the first colon, so
	// passwords containing colons survive.
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return username == creds.Username && password == creds.Password
}

// CheckToken validates the request's bearer token against the
// configured API tokens. With neither token configured the namespace
// is open. Token comparison is constant-time; a length mismatch is an
// immediate non-match inside ConstantTimeCompare.
func (s *Store) CheckToken(r *http.Request) TokenVerdict {
	s.mu.RLock()
	full, read := s.fullToken, s.readToken
	s.mu.RUnlock()

	if full == "" && read == "" {
		return TokenAllowed
	}

	token := bearerToken(r)

	if full != "" && subtle.ConstantTimeCompare([]byte(token), []byte(full)) == 1 {
		return TokenAllowed
	}
	if read != "" && subtle.ConstantTimeCompare([]byte(token), []byte(read)) == 1 {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			return TokenAllowed
		}
		return TokenReadOnly
	}
	return TokenUnauthorized
}

// bearerToken extracts the value from an "Authorization: Bearer <x>"
// header; a missing or differently-schemed header yields the empty
// string, which never matches a configured token.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
