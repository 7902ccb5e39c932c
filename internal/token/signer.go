// Package token issues and verifies the gateway's session tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"account-gateway/internal/config"
)

// defaultExpiration applies when the configured lifetime is not positive.
const defaultExpiration = 2 * time.Minute

// ErrMissingIdentityClaims is returned when a token would lack a user id or email.
var ErrMissingIdentityClaims = errors.New("required identity claims are missing")

// ClaimSet is the identity bundle embedded in a session token.
type ClaimSet struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Roles     []string
}

// SessionClaims is the JWT payload written by Signer and read by Verifier.
type SessionClaims struct {
	UserID     string   `json:"userId"`
	Email      string   `json:"email"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Roles      []string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints HS256 session tokens.
type Signer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner creates a Signer from the [jwt] config section.
func NewSigner(cfg *config.Config) *Signer {
	ttl := time.Duration(cfg.JWT.ExpirationMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultExpiration
	}
	return &Signer{
		key:      []byte(cfg.JWT.SecretKey),
		issuer:   cfg.JWT.Issuer,
		audience: cfg.JWT.Audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Sign returns a signed token for cs. Each call embeds a fresh token id, so
// two tokens for the same identity never compare equal.
func (s *Signer) Sign(cs ClaimSet) (string, error) {
	if strings.TrimSpace(cs.UserID) == "" || strings.TrimSpace(cs.Email) == "" {
		return "", ErrMissingIdentityClaims
	}

	now := s.now()
	claims := &SessionClaims{
		UserID:     cs.UserID,
		Email:      cs.Email,
		GivenName:  cs.FirstName,
		FamilyName: cs.LastName,
		Roles:      dedupeRoles(cs.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   cs.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// dedupeRoles drops blank entries and case-insensitive duplicates,
// keeping the first spelling seen and the original order.
func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if strings.TrimSpace(r) == "" {
			continue
		}
		k := strings.ToLower(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
