package domain

import "slices"

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// DefaultRoles are granted to every newly created user.
var DefaultRoles = []string{RoleUser}

// AdminRoles are the roles that pass the admin guard unless configured
// otherwise.
var AdminRoles = []string{RoleAdmin, RoleSuperAdmin}

// HasAnyRole reports whether have and want intersect.
func HasAnyRole(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// NormalizeRoles drops blanks and duplicates while keeping first-seen order.
func NormalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
