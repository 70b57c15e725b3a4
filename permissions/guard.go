package permissions

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/helpdesk-session/users"
)

// Requirement is the declarative access rule attached to a route or UI element.
// Each non-empty list is checked on its own: with RequireAll every entry must be
// held, otherwise one is enough. An empty list is always satisfied.
type Requirement struct {
	Permissions []users.PermissionID `json:"permissions,omitempty" yaml:"permissions"`
	Roles       []users.RoleType     `json:"roles,omitempty" yaml:"roles"`
	RequireAll  bool                 `json:"requireAll,omitempty" yaml:"require_all"`
}

func (req Requirement) IsEmpty() bool {
	return len(req.Permissions) == 0 && len(req.Roles) == 0
}

// Outcome is the terminal decision of a guard.
type Outcome string

const (
	Allow               Outcome = "allow"
	DenyUnauthenticated Outcome = "deny_unauthenticated"
	DenyForbidden       Outcome = "deny_forbidden"
)

// Decision carries the outcome plus what the UI needs to explain a denial.
type Decision struct {
	Outcome            Outcome
	Reason             string
	MissingPermissions []users.PermissionID
	MissingRoles       []users.RoleType
	RedirectTo         string
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Evaluate applies req to the session described by r. A nil Resolver means
// there is no authenticated session.
func Evaluate(r *Resolver, req Requirement) Decision {
	if r == nil {
		return Decision{Outcome: DenyUnauthenticated, Reason: "authentication required"}
	}

	permsOK := r.HasAnyPermission(req.Permissions...)
	rolesOK := r.HasAnyRole(req.Roles...)
	if req.RequireAll {
		permsOK = r.HasAllPermissions(req.Permissions...)
		rolesOK = r.HasAllRoles(req.Roles...)
	}
	if permsOK && rolesOK {
		return Decision{Outcome: Allow}
	}

	d := Decision{Outcome: DenyForbidden}
	if !permsOK {
		d.MissingPermissions = r.MissingPermissions(req.Permissions...)
	}
	if !rolesOK {
		d.MissingRoles = r.MissingRoles(req.Roles...)
	}
	d.Reason = denialReason(req.RequireAll, d.MissingPermissions, d.MissingRoles)
	return d
}

func denialReason(requireAll bool, perms []users.PermissionID, roles []users.RoleType) string {
	quantifier := "one of"
	if requireAll {
		quantifier = "all of"
	}
	var parts []string
	if len(perms) > 0 {
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		parts = append(parts, fmt.Sprintf("permission %s [%s]", quantifier, strings.Join(names, ", ")))
	}
	if len(roles) > 0 {
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = string(r)
		}
		parts = append(parts, fmt.Sprintf("role %s [%s]", quantifier, strings.Join(names, ", ")))
	}
	return "access denied: requires " + strings.Join(parts, " and ")
}
