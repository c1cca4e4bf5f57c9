/*
Package auth is the authorization gate in front of the mutating routes.

  The ledger only needs two facts about a request: whether it is authorized,
  and an opaque caller identity. This package derives both from an HS256
  bearer token. How a user obtains a token (phone verification, one-time
  codes) is outside this service; Issuer exists for the admin CLI and tests.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/who-owes-who/config"
	"github.com/warp/who-owes-who/ledger"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for a token that fails verification.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims is the token payload. Subject carries the caller identity.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a Verifier from cfg.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer, now: time.Now}, nil
}

// Authorize verifies token and returns the caller it identifies. On any
// failure the returned Caller is not authorized.
func (v *Verifier) Authorize(_ context.Context, token string) (ledger.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ledger.Caller{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return ledger.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ledger.Caller{}, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}

	return ledger.Caller{ID: claims.Subject, Authorized: true}, nil
}

// Issuer signs tokens accepted by a Verifier with the same config.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer from cfg.
func NewIssuer(cfg config.AuthConfig) (*Issuer, error) {
	if err := cfg.RequireAuth(); err != nil {
		return nil, err
	}
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TokenTTL, now: time.Now}, nil
}

// Issue returns a signed token for subject.
func (i *Issuer) Issue(subject, name string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
