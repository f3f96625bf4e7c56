// Package authority implements the server-side role authority the resolver falls
// back to when the role partitions read by the web tier have no record.
//
// Each call carries a freshly minted, short-lived assertion naming the principal.
package authority

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "orgsite"
	audience = "role-authority"
)

// ErrInvalidAssertion indicates the assertion failed validation.
var ErrInvalidAssertion = errors.New("authority: invalid assertion")

// Claims carried by an assertion.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 assertions.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("authority: secret is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Mint signs a fresh assertion for principalID.
func (i *Issuer) Mint(principalID string) (string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", errors.New("authority: principal id is required")
	}
	now := i.now().UTC()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   principalID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("authority: sign assertion: %w", err)
	}
	return signed, nil
}

// Verify checks the assertion and returns the principal id it names.
func (i *Issuer) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidAssertion
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidAssertion
	}
	// Assertions are meant to be used at once; a long-lived one is refused even if signed.
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > i.ttl {
		return "", fmt.Errorf("%w: lifetime exceeds %s", ErrInvalidAssertion, i.ttl)
	}
	return claims.Subject, nil
}
