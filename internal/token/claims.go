package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Claim names accepted on inbound tokens. Tokens minted by other issuers in
// the account system may use the long WS-Federation names.
const (
	claimUserID     = "userId"
	claimNameID     = "nameid"
	claimSubject    = "sub"
	claimEmail      = "email"
	claimGivenName  = "given_name"
	claimFamilyName = "family_name"
	claimRole       = "role"
	claimRoles      = "roles"

	uriNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	uriEmail          = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	uriGivenName      = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname"
	uriSurname        = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname"
	uriRole           = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

// ErrIncompleteUserPayload is returned when a backend user object lacks a
// required field.
var ErrIncompleteUserPayload = errors.New("required user fields are missing in backend payload")

// Principal is the verified claim set of the caller.
type Principal struct {
	claims map[string]any
}

// NewPrincipal wraps decoded token claims.
func NewPrincipal(claims map[string]any) *Principal {
	if claims == nil {
		claims = map[string]any{}
	}
	return &Principal{claims: claims}
}

// First returns the first non-blank value among the named claims.
func (p *Principal) First(names ...string) string {
	for _, name := range names {
		for _, v := range claimValues(p.claims[name]) {
			if strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

// Roles returns every role claim, blank entries dropped, de-duplicated
// case-insensitively.
func (p *Principal) Roles() []string {
	var all []string
	for _, name := range []string{claimRole, claimRoles, uriRole} {
		all = append(all, claimValues(p.claims[name])...)
	}
	return dedupeRoles(all)
}

// HasRole reports whether the caller carries role. Matching is exact.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// UserID resolves the caller's numeric user id.
func (p *Principal) UserID() (int, bool) {
	id, err := strconv.Atoi(p.userIDClaim())
	if err != nil {
		return 0, false
	}
	return id, true
}

func (p *Principal) userIDClaim() string {
	return p.First(claimUserID, claimNameID, uriNameIdentifier, claimSubject)
}

// FromPrincipal builds a ClaimSet from the caller's existing claims.
func FromPrincipal(p *Principal) (ClaimSet, error) {
	cs := ClaimSet{
		UserID:    p.userIDClaim(),
		Email:     p.First(claimEmail, uriEmail),
		FirstName: p.First(claimGivenName, uriGivenName),
		LastName:  p.First(claimFamilyName, uriSurname),
		Roles:     p.Roles(),
	}
	if strings.TrimSpace(cs.UserID) == "" || strings.TrimSpace(cs.Email) == "" {
		return ClaimSet{}, ErrMissingIdentityClaims
	}
	return cs, nil
}

// FromUserPayload builds a ClaimSet from a user object returned by the user
// store. id may be a string or a number; email, firstName and lastName must
// be non-blank strings.
func FromUserPayload(user json.RawMessage, roles []string) (ClaimSet, error) {
	dec := json.NewDecoder(bytes.NewReader(user))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return ClaimSet{}, ErrIncompleteUserPayload
	}

	var cs ClaimSet
	for _, f := range []struct {
		name      string
		dst       *string
		allowNums bool
	}{
		{"email", &cs.Email, false},
		{"firstName", &cs.FirstName, false},
		{"lastName", &cs.LastName, false},
		{"id", &cs.UserID, true},
	} {
		v, ok := requiredText(obj[f.name], f.allowNums)
		if !ok {
			return ClaimSet{}, fmt.Errorf("%w: %s", ErrIncompleteUserPayload, f.name)
		}
		*f.dst = v
	}
	cs.Roles = roles
	return cs, nil
}

// requiredText accepts a non-blank string, or a JSON number in its
// original textual form when allowNums is set.
func requiredText(v any, allowNums bool) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, strings.TrimSpace(t) != ""
	case json.Number:
		if !allowNums {
			return "", false
		}
		return t.String(), t.String() != ""
	}
	return "", false
}

// claimValues flattens a decoded claim into its string values.
func claimValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, claimValues(e)...)
		}
		return out
	case json.Number:
		return []string{t.String()}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	}
	return nil
}
