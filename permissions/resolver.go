package permissions

import (
	"sort"

	"github.com/jrsteele09/helpdesk-session/users"
)

// Resolver answers permission and role questions for one session snapshot.
// It is immutable once built; a new snapshot gets a new Resolver.
type Resolver struct {
	roles       map[users.RoleType]struct{}
	permissions map[users.PermissionID]struct{}
}

// NewResolver builds the effective permission set of identity. A nil grants
// table means only the identity's explicit permissions count.
func NewResolver(identity *users.Identity, grants Grants) *Resolver {
	r := &Resolver{
		roles:       make(map[users.RoleType]struct{}),
		permissions: make(map[users.PermissionID]struct{}),
	}
	if identity == nil {
		return r
	}
	for _, role := range identity.Roles {
		r.roles[role] = struct{}{}
	}
	r.permissions = grants.Effective(identity.Roles, identity.Permissions)
	return r
}

func (r *Resolver) HasPermission(id users.PermissionID) bool {
	_, ok := r.permissions[id]
	return ok
}

// HasAnyPermission is true when ids is empty or at least one is held.
func (r *Resolver) HasAnyPermission(ids ...users.PermissionID) bool {
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if r.HasPermission(id) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true when every id is held (vacuously true for none).
func (r *Resolver) HasAllPermissions(ids ...users.PermissionID) bool {
	for _, id := range ids {
		if !r.HasPermission(id) {
			return false
		}
	}
	return true
}

func (r *Resolver) HasRole(role users.RoleType) bool {
	_, ok := r.roles[role]
	return ok
}

func (r *Resolver) HasAnyRole(roles ...users.RoleType) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if r.HasRole(role) {
			return true
		}
	}
	return false
}

func (r *Resolver) HasAllRoles(roles ...users.RoleType) bool {
	for _, role := range roles {
		if !r.HasRole(role) {
			return false
		}
	}
	return true
}

// MissingPermissions returns required minus the effective set, in the order
// given. Diagnostic only: access decisions use the boolean predicates.
func (r *Resolver) MissingPermissions(required ...users.PermissionID) []users.PermissionID {
	var missing []users.PermissionID
	for _, id := range required {
		if !r.HasPermission(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func (r *Resolver) MissingRoles(required ...users.RoleType) []users.RoleType {
	var missing []users.RoleType
	for _, role := range required {
		if !r.HasRole(role) {
			missing = append(missing, role)
		}
	}
	return missing
}

// Effective returns the sorted effective permission set.
func (r *Resolver) Effective() []users.PermissionID {
	out := make([]users.PermissionID, 0, len(r.permissions))
	for p := range r.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roles returns the sorted role set.
func (r *Resolver) Roles() []users.RoleType {
	out := make([]users.RoleType, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
