package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestVerify_ValidToken(t *testing.T) {
	v, err := NewVerifier("topsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := signToken(t, "topsecret", Claims{
		UserID: "u1",
		Email:  "alice@example.com",
		Name:   "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Email != "alice@example.com" || identity.Name != "Alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	v, err := NewVerifier("topsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := signToken(t, "wrongsecret", Claims{UserID: "u1", Email: "a@b.com", Name: "A"})

	if _, err := v.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier("topsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := signToken(t, "topsecret", Claims{
		UserID: "u1",
		Email:  "a@b.com",
		Name:   "A",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_RejectsMissingRequiredClaim(t *testing.T) {
	v, err := NewVerifier("topsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := signToken(t, "topsecret", Claims{UserID: "u1", Email: "", Name: "A"})

	if _, err := v.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for missing email claim, got %v", err)
	}
}
