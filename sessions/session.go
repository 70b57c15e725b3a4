package sessions

import (
	"reflect"

	"github.com/jrsteele09/helpdesk-session/permissions"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
)

// Session is the derived view of the current authentication state. It is
// recomputed whenever the stored user snapshot changes and never edited in place.
type Session struct {
	Authenticated bool                 `json:"authenticated"`
	User          *users.Identity      `json:"user,omitempty"`
	Roles         []users.RoleType     `json:"roles,omitempty"`
	Permissions   []users.PermissionID `json:"permissions,omitempty"`
}

func (s Session) clone() Session {
	s.User = s.User.Clone()
	s.Roles = append([]users.RoleType(nil), s.Roles...)
	s.Permissions = append([]users.PermissionID(nil), s.Permissions...)
	return s
}

func (s Session) equal(other Session) bool {
	return reflect.DeepEqual(s, other)
}

// deriveSession builds the session and its resolver from a stored snapshot.
// Without a user snapshot the access token's claims are used as role and
// permission hints.
func deriveSession(tokens *token.Set, user *users.Identity, grants permissions.Grants) (Session, *permissions.Resolver) {
	if tokens == nil {
		return Session{}, nil
	}
	identity := user
	if identity == nil {
		identity = identityFromClaims(tokens.AccessToken)
	}
	resolver := permissions.NewResolver(identity, grants)
	return Session{
		Authenticated: true,
		User:          user.Clone(),
		Roles:         resolver.Roles(),
		Permissions:   resolver.Effective(),
	}, resolver
}

func identityFromClaims(accessToken string) *users.Identity {
	claims, err := token.ParseClaims(accessToken)
	if err != nil {
		return nil
	}
	identity := &users.Identity{ID: claims.Subject}
	for _, role := range claims.Roles {
		identity.Roles = append(identity.Roles, users.RoleType(role))
	}
	for _, perm := range claims.Permissions {
		identity.Permissions = append(identity.Permissions, users.PermissionID(perm))
	}
	return identity
}
