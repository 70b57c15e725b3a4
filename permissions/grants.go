package permissions

import "github.com/jrsteele09/helpdesk-session/users"

// Grants maps each role to the permissions it confers.
type Grants map[users.RoleType][]users.PermissionID

// DefaultGrants is the helpdesk's static role table. Per-user grants returned
// by the backend are added on top of it.
var DefaultGrants = Grants{
	users.RoleAdmin: {
		users.PermViewTicket, users.PermCreateTicket, users.PermEditTicket, users.PermDeleteTicket, users.PermAssignTicket,
		users.PermViewCustomer, users.PermEditCustomer,
		users.PermViewProject, users.PermEditProject,
		users.PermManageCategories, users.PermViewDashboard, users.PermManageUsers,
	},
	users.RoleManager: {
		users.PermViewTicket, users.PermCreateTicket, users.PermEditTicket, users.PermAssignTicket,
		users.PermViewCustomer, users.PermEditCustomer,
		users.PermViewProject, users.PermEditProject,
		users.PermManageCategories, users.PermViewDashboard,
	},
	users.RoleAgent: {
		users.PermViewTicket, users.PermCreateTicket, users.PermEditTicket,
		users.PermViewCustomer, users.PermViewProject, users.PermViewDashboard,
	},
	users.RoleCustomer: {
		users.PermViewTicket, users.PermCreateTicket,
	},
}

// Effective returns the union of the permissions derived from roles and the
// explicit grants. Nothing is ever subtracted.
func (g Grants) Effective(roles []users.RoleType, explicit []users.PermissionID) map[users.PermissionID]struct{} {
	set := make(map[users.PermissionID]struct{}, len(explicit))
	for _, role := range roles {
		for _, p := range g[role] {
			set[p] = struct{}{}
		}
	}
	for _, p := range explicit {
		set[p] = struct{}{}
	}
	return set
}
