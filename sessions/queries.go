package sessions

import (
	"github.com/jrsteele09/helpdesk-session/permissions"
	"github.com/jrsteele09/helpdesk-session/users"
)

// Permission and role queries for UI visibility. Without a session they
// behave like an identity holding nothing.

func (s *Service) currentResolver() *permissions.Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.resolver == nil {
		return permissions.NewResolver(nil, nil)
	}
	return s.resolver
}

func (s *Service) HasPermission(id users.PermissionID) bool {
	return s.currentResolver().HasPermission(id)
}

func (s *Service) HasAnyPermission(ids ...users.PermissionID) bool {
	return s.currentResolver().HasAnyPermission(ids...)
}

func (s *Service) HasAllPermissions(ids ...users.PermissionID) bool {
	return s.currentResolver().HasAllPermissions(ids...)
}

func (s *Service) HasRole(role users.RoleType) bool {
	return s.currentResolver().HasRole(role)
}

func (s *Service) HasAnyRole(roles ...users.RoleType) bool {
	return s.currentResolver().HasAnyRole(roles...)
}

func (s *Service) HasAllRoles(roles ...users.RoleType) bool {
	return s.currentResolver().HasAllRoles(roles...)
}

// MissingPermissions lists the required permissions the session lacks. It is
// meant for diagnostics, not for access decisions.
func (s *Service) MissingPermissions(required ...users.PermissionID) []users.PermissionID {
	return s.currentResolver().MissingPermissions(required...)
}

func (s *Service) MissingRoles(required ...users.RoleType) []users.RoleType {
	return s.currentResolver().MissingRoles(required...)
}

// Permissions is the session's effective permission set, sorted.
func (s *Service) Permissions() []users.PermissionID {
	return s.currentResolver().Effective()
}

func (s *Service) Roles() []users.RoleType {
	return s.currentResolver().Roles()
}
