// Package session holds the signed-in user's credential and identity.
//
// It replaces ambient credential lookups with one explicit object passed to
// every consumer. The credential is inspected, not verified: the backend is
// the authority and rejects bad tokens with 401. Logout invalidates the
// session exactly once and notifies every subscriber.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the credential is not a readable JWT.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrExpired is returned when the credential's exp claim has passed.
	ErrExpired = errors.New("session: token expired")

	// ErrLoggedOut is returned after Logout.
	ErrLoggedOut = errors.New("session: logged out")

	// ErrNoHouse is returned when the credential carries no house id.
	ErrNoHouse = errors.New("session: token has no house id")
)

// RoleAdmin is the role that may manage other users' devices.
const RoleAdmin = "admin"

// Claims are the identity fields the backend embeds in its tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID  int    `json:"userId"`
	HouseID int    `json:"houseId"`
	Role    string `json:"role"`
}

// Session is the single source of the credential for one signed-in user.
//
// All methods are safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	token       string
	claims      Claims
	invalidated bool
	listeners   []func()
	now         func() time.Time
}

// New inspects token and returns a Session for it.
func New(token string) (*Session, error) {
	claims, err := inspect(token)
	if err != nil {
		return nil, err
	}
	return &Session{
		token:  token,
		claims: claims,
		now:    time.Now,
	}, nil
}

// inspect decodes the token's claims without checking the signature.
func inspect(token string) (Claims, error) {
	var claims Claims
	if token == "" {
		return claims, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Token returns the credential, or an error once it is unusable.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		return "", ErrLoggedOut
	}
	if s.expiredLocked() {
		return "", ErrExpired
	}
	return s.token, nil
}

// HouseID returns the house the credential was issued for.
func (s *Session) HouseID() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims.HouseID <= 0 {
		return 0, ErrNoHouse
	}
	return s.claims.HouseID, nil
}

// UserID returns the signed-in user's id.
func (s *Session) UserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims.UserID
}

// IsAdmin reports whether the user has the admin role.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims.Role == RoleAdmin
}

// ExpiresAt returns the credential expiry, or the zero time when it has none.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims.ExpiresAt == nil {
		return time.Time{}
	}
	return s.claims.ExpiresAt.Time
}

func (s *Session) expiredLocked() bool {
	if s.claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(s.claims.ExpiresAt.Time)
}

// Valid reports whether the credential can still be used.
func (s *Session) Valid() bool {
	_, err := s.Token()
	return err == nil
}

// OnInvalidate registers fn to run once when the session is logged out.
// If the session is already invalidated fn runs immediately.
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		fn()
		return
	}
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Logout invalidates the session and notifies subscribers. Only the first
// call has any effect.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	listeners := s.listeners
	s.listeners = nil
	s.token = ""
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
