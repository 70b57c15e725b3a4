package users

import (
	"strings"

	"github.com/jrsteele09/helpdesk-session/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// RoleType represents a helpdesk role assigned by the backend
type RoleType string

const (
	RoleAdmin    RoleType = "admin"    // Full access including user management
	RoleManager  RoleType = "manager"  // Manages projects, categories and dashboards
	RoleAgent    RoleType = "agent"    // Works tickets for customers
	RoleCustomer RoleType = "customer" // Raises and follows their own tickets
)

// PermissionID names a single capability checked by guards and UI predicates
type PermissionID string

const (
	PermViewTicket   PermissionID = "VIEW_TICKET"
	PermCreateTicket PermissionID = "CREATE_TICKET"
	PermEditTicket   PermissionID = "EDIT_TICKET"
	PermDeleteTicket PermissionID = "DELETE_TICKET"
	PermAssignTicket PermissionID = "ASSIGN_TICKET"

	PermViewCustomer PermissionID = "VIEW_CUSTOMER"
	PermEditCustomer PermissionID = "EDIT_CUSTOMER"

	PermViewProject PermissionID = "VIEW_PROJECT"
	PermEditProject PermissionID = "EDIT_PROJECT"

	PermManageCategories PermissionID = "MANAGE_CATEGORIES"
	PermViewDashboard    PermissionID = "VIEW_DASHBOARD"
	PermManageUsers      PermissionID = "MANAGE_USERS"
)

// Identity is the user payload returned by the login and refresh endpoints.
// It is treated as opaque and only replaced wholesale (login, refresh, profile update).
type Identity struct {
	ID          string         `json:"id"`                    // Unique identifier for the user
	Username    string         `json:"username"`              // Login name
	FirstName   string         `json:"firstname,omitempty"`   // First name of the user
	LastName    string         `json:"lastname,omitempty"`    // Last name of the user
	Email       *string        `json:"email,omitempty"`       // Optional contact email
	Phone       *string        `json:"phone,omitempty"`       // Optional contact phone
	Roles       []RoleType     `json:"roles,omitempty"`       // Roles granted by the backend
	Permissions []PermissionID `json:"permissions,omitempty"` // Explicit per-user grants
}

// DisplayName returns "First Last", falling back to the username.
func (u *Identity) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Clone returns a deep copy so callers can never mutate a stored snapshot.
func (u *Identity) Clone() *Identity {
	if u == nil {
		return nil
	}
	c := *u
	if u.Email != nil {
		c.Email = utils.Ptr(*u.Email)
	}
	if u.Phone != nil {
		c.Phone = utils.Ptr(*u.Phone)
	}
	c.Roles = append([]RoleType(nil), u.Roles...)
	c.Permissions = append([]PermissionID(nil), u.Permissions...)
	return &c
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
