package auth

import (
	"errors"
	"fmt"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("auth secret is not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Claims is the bearer token shape presented at handshake (§4.8): userId,
// email, name required, picture optional.
type Claims struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks a symmetrically-signed bearer token at connection
// handshake. Grounded directly on the teacher's authService.ValidateToken,
// narrowed to verification only — this service never issues tokens, the
// web front-end's separate auth flow does (explicitly out of scope, §1).
type Verifier struct {
	secret []byte
}

// NewVerifier fails fast if secret is empty: a missing secret is a fatal
// server misconfiguration per §4.8, not a per-request error.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

func (v *Verifier) Verify(token string) (ports.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return ports.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return ports.Identity{}, ErrInvalidToken
	}
	if claims.UserID == "" || claims.Email == "" || claims.Name == "" {
		return ports.Identity{}, ErrInvalidToken
	}

	return ports.Identity{
		UserID:  domain.UserID(claims.UserID),
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}
