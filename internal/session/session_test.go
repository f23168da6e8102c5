package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signToken builds a token the way the backend would; signature is irrelevant
// to inspection.
func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestNew_ReadsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UserID:           12,
		HouseID:          7,
		Role:             RoleAdmin,
	})

	s, err := New(token)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	houseID, err := s.HouseID()
	if err != nil || houseID != 7 {
		t.Errorf("HouseID() = %d, %v; want 7, nil", houseID, err)
	}
	if s.UserID() != 12 {
		t.Errorf("UserID() = %d, want 12", s.UserID())
	}
	if !s.IsAdmin() {
		t.Error("IsAdmin() = false, want true")
	}
	if !s.ExpiresAt().Equal(exp) {
		t.Errorf("ExpiresAt() = %v, want %v", s.ExpiresAt(), exp)
	}
	got, err := s.Token()
	if err != nil || got != token {
		t.Errorf("Token() = %q, %v; want original token", got, err)
	}
}

func TestNew_InvalidToken(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := New(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("New(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestHouseID_Missing(t *testing.T) {
	s, err := New(signToken(t, Claims{UserID: 1}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.HouseID(); !errors.Is(err, ErrNoHouse) {
		t.Errorf("HouseID() error = %v, want ErrNoHouse", err)
	}
}

func TestToken_Expired(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	s, err := New(signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		HouseID:          1,
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.now = func() time.Time { return exp.Add(time.Second) }

	if _, err := s.Token(); !errors.Is(err, ErrExpired) {
		t.Errorf("Token() error = %v, want ErrExpired", err)
	}
	if s.Valid() {
		t.Error("Valid() = true for expired token")
	}
}

func TestLogout_NotifiesOnce(t *testing.T) {
	s, err := New(signToken(t, Claims{HouseID: 3}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var mu sync.Mutex
	calls := 0
	for i := 0; i < 3; i++ {
		s.OnInvalidate(func() {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}

	s.Logout()
	s.Logout()

	if calls != 3 {
		t.Errorf("listener calls = %d, want 3 (one per listener, once)", calls)
	}
	if _, err := s.Token(); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("Token() error = %v, want ErrLoggedOut", err)
	}
}

func TestOnInvalidate_AfterLogoutRunsImmediately(t *testing.T) {
	s, err := New(signToken(t, Claims{HouseID: 3}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Logout()

	ran := false
	s.OnInvalidate(func() { ran = true })
	if !ran {
		t.Error("listener registered after Logout did not run")
	}
}
