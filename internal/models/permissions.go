// Package models - permissions.go defines the ordered role set and the
// principal-to-role permission map carried by organizations and projects.
package models

import "sort"

// Role is one of the ordered roles a principal may hold at a scope.
// Write implies read; admin implies write and read.
type Role string

const (
	RoleNone  Role = ""
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

// rank orders roles for implication checks. Unknown roles rank below read.
func (r Role) rank() int {
	switch r {
	case RoleRead:
		return 1
	case RoleWrite:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r names a grantable role. "remove_all" is accepted by
// the permission-update surface but is a directive, not a stored role.
func (r Role) Valid() bool {
	return r == RoleRead || r == RoleWrite || r == RoleAdmin
}

// Covers reports whether holding r satisfies a requirement of required.
func (r Role) Covers(required Role) bool {
	return r.rank() >= required.rank()
}

// PermissionSet is the derived view of a principal's access at one scope,
// with the implicit hierarchy already applied.
type PermissionSet struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

// PermissionMap maps principal usernames to their highest granted role.
type PermissionMap map[string]Role

// Effective returns the derived permission booleans for username.
func (pm PermissionMap) Effective(username string) PermissionSet {
	r := pm[username]
	return PermissionSet{
		Read:  r.Covers(RoleRead),
		Write: r.Covers(RoleWrite),
		Admin: r.Covers(RoleAdmin),
	}
}

// Has reports whether username holds at least the required role.
func (pm PermissionMap) Has(username string, required Role) bool {
	return pm[username].Covers(required)
}

// Principals returns the usernames present in the map, sorted for stable
// output.
func (pm PermissionMap) Principals() []string {
	names := make([]string, 0, len(pm))
	for u := range pm {
		names = append(names, u)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy so controllers can mutate a working map
// without aliasing the fetched document.
func (pm PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(pm))
	for u, r := range pm {
		out[u] = r
	}
	return out
}
