package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a closed enum over the portal's role taxonomy. Free-form role
// strings coming over the wire are rejected at the boundary by ParseRole.
type Role string

const (
	RoleCitizen     Role = "citizen"
	RoleCoordinator Role = "coordinator"
	RoleMunicipal   Role = "municipal"
	RoleOperator    Role = "operator"
	RoleModerator   Role = "moderator"
	RoleOmbudsman   Role = "ombudsman"
	RoleAdmin       Role = "admin"
)

var knownRoles = map[Role]struct{}{
	RoleCitizen:     {},
	RoleCoordinator: {},
	RoleMunicipal:   {},
	RoleOperator:    {},
	RoleModerator:   {},
	RoleOmbudsman:   {},
	RoleAdmin:       {},
}

// ParseRole validates a wire-level role string against the closed enum.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := knownRoles[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// RoleSet is a set over the role enum.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// ParseRoleSet validates and dedupes a slice of wire-level role strings.
func ParseRoleSet(values []string) (RoleSet, error) {
	set := make(RoleSet, len(values))
	for _, v := range values {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		set[r] = struct{}{}
	}
	return set, nil
}

// Has reports membership.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether any of the given roles is present.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Add inserts a role and reports whether the set changed.
func (s RoleSet) Add(r Role) bool {
	if s.Has(r) {
		return false
	}
	s[r] = struct{}{}
	return true
}

// Remove deletes a role and reports whether the set changed.
func (s RoleSet) Remove(r Role) bool {
	if !s.Has(r) {
		return false
	}
	delete(s, r)
	return true
}

// Clone returns an independent copy.
func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Strings returns the sorted string form, suitable for storage and claims.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}
