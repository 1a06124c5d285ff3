// Package token mints the short-lived bearer tokens presented to the
// upstream generative API.
//
// The upstream expects an HS256 JWT-like token derived from a static
// credential of the form {id}.{secret}: the header carries a non-standard
// sign_type field and both exp and timestamp are epoch milliseconds.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Lifetime is how long a minted token stays valid upstream.
const Lifetime = time.Hour

// ErrMalformedCredential is returned when the credential is not {id}.{secret}.
var ErrMalformedCredential = errors.New("invalid API key format")

// SigningError wraps a failure of the signing primitive.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to generate JWT token: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// Token is a freshly minted upstream token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Minter signs upstream tokens. It holds no per-credential state: every
// call produces a new token.
type Minter struct {
	now func() time.Time
}

// NewMinter creates a minter using the wall clock.
func NewMinter() *Minter {
	return &Minter{now: time.Now}
}

// WithClock returns a copy of the minter that reads time from now.
func (m *Minter) WithClock(now func() time.Time) *Minter {
	return &Minter{now: now}
}

// ParseCredential splits a credential into its id and secret halves.
func ParseCredential(credential string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(credential, ".")
	if !ok || id == "" || secret == "" || strings.Contains(secret, ".") {
		return "", "", ErrMalformedCredential
	}
	return id, secret, nil
}

// Mint derives a signed token from credential.
func (m *Minter) Mint(credential string) (*Token, error) {
	id, secret, err := ParseCredential(credential)
	if err != nil {
		return nil, err
	}

	now := m.now()
	exp := now.Add(Lifetime)

	claims := jwt.MapClaims{
		"api_key":   id,
		"exp":       exp.UnixMilli(),
		"timestamp": now.UnixMilli(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// upstream header is exactly {alg, sign_type}
	delete(tok.Header, "typ")
	tok.Header["sign_type"] = "SIGN"

	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return nil, &SigningError{Err: err}
	}

	return &Token{
		Value:     signed,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// TokenSource adapts the minter to oauth2.TokenSource for a fixed
// credential. It is intentionally not wrapped in oauth2.ReuseTokenSource:
// each Token call mints a new token.
func (m *Minter) TokenSource(credential string) oauth2.TokenSource {
	return &credentialSource{minter: m, credential: credential}
}

type credentialSource struct {
	minter     *Minter
	credential string
}

func (s *credentialSource) Token() (*oauth2.Token, error) {
	t, err := s.minter.Mint(s.credential)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}, nil
}

// MaskID returns the credential id with its middle elided, for logs.
func MaskID(credential string) string {
	id, _, _ := strings.Cut(credential, ".")
	if len(id) <= 8 {
		return "***"
	}
	return id[:4] + "..." + id[len(id)-4:]
}
