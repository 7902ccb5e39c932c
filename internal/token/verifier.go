package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"account-gateway/internal/config"
)

var (
	// ErrTokenMissing is returned when the request carries no bearer token.
	ErrTokenMissing = errors.New("missing or malformed bearer token")
	// ErrTokenInvalid wraps every verification failure.
	ErrTokenInvalid = errors.New("invalid bearer token")
)

// verifiedTTL bounds how long a verified token stays cached, independent of
// its own expiry.
const verifiedTTL = time.Minute

// verified is a cached verification result.
type verified struct {
	principal *Principal
	expires   time.Time
}

// Verifier validates inbound bearer tokens signed with the gateway's key.
// Successful results are kept in a bounded LRU so a client reusing its token
// is not re-verified on every call; entries never outlive the token.
type Verifier struct {
	key     []byte
	options []jwt.ParserOption
	cache   *lru.LRU[string, verified]
	now     func() time.Time
}

// NewVerifier creates a Verifier that checks signature, issuer, audience and
// lifetime against the [jwt] config section. A non-positive
// jwt.verify_cache_size disables the cache.
func NewVerifier(cfg *config.Config) *Verifier {
	v := &Verifier{
		key: []byte(cfg.JWT.SecretKey),
		now: time.Now,
	}

	v.options = []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if cfg.JWT.Issuer != "" {
		v.options = append(v.options, jwt.WithIssuer(cfg.JWT.Issuer))
	}
	if cfg.JWT.Audience != "" {
		v.options = append(v.options, jwt.WithAudience(cfg.JWT.Audience))
	}

	if cfg.JWT.VerifyCacheSize > 0 {
		v.cache = lru.NewLRU[string, verified](cfg.JWT.VerifyCacheSize, nil, verifiedTTL)
	}
	return v
}

// Verify parses tokenString and returns the caller's Principal.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	if v.cache != nil {
		if hit, ok := v.cache.Get(tokenString); ok {
			if v.now().Before(hit.expires) {
				return hit.principal, nil
			}
			v.cache.Remove(tokenString)
		}
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	}, v.options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	p := NewPrincipal(claims)
	if v.cache != nil {
		// Expiry is required by the parser options, so exp is present here.
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			v.cache.Add(tokenString, verified{principal: p, expires: exp.Time})
		}
	}
	return p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrTokenMissing
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrTokenMissing
	}
	return tok, nil
}
