package auth

import (
	"slices"
	"strings"
)

// AuthenticatedUser is the identity attached to an authorized request.
type AuthenticatedUser struct {
	Subject string
	Email   *string
	Roles   []string
	IsAdmin bool
}

// HasRole reports whether the user carries role.
func (u *AuthenticatedUser) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func newUser(claims map[string]any, roleClaimPath, adminRole string) *AuthenticatedUser {
	u := &AuthenticatedUser{
		Roles: extractRoles(claims, roleClaimPath),
	}
	if sub, ok := claims["sub"].(string); ok {
		u.Subject = sub
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		u.Email = &email
	}
	u.IsAdmin = u.HasRole(adminRole)
	return u
}

// extractRoles walks a dot-separated claim path such as "realm_access.roles".
// The leaf may be an array of strings or a single string; anything else
// yields no roles.
func extractRoles(claims map[string]any, path string) []string {
	if path == "" {
		return nil
	}

	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = obj[part]; !ok {
			return nil
		}
	}

	switch v := cur.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}
