package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of dashboard roles. Permission checks go through
// the capability methods below, never through string matching.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RoleStaff      Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleSuperadmin, RoleStaff:
		return true
	}
	return false
}

// CanManageConnections reports whether the role may edit, rotate or revoke
// connections it did not create. Members manage only their own.
func (r Role) CanManageConnections() bool {
	switch r {
	case RoleAdmin, RoleSuperadmin, RoleStaff:
		return true
	}
	return false
}

// CanAdministerTenant reports whether the role may change tenant-level
// settings such as the MCP catalog.
func (r Role) CanAdministerTenant() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// User is a dashboard account. The PIN hash lives here: secrets issued while
// the user has a PIN are encrypted under it at issue time.
type User struct {
	ID        uuid.UUID  `db:"id"          json:"id"`
	TenantID  uuid.UUID  `db:"tenant_id"   json:"tenant_id"`
	Email     string     `db:"email"       json:"email"`
	Role      Role       `db:"role"        json:"role"`
	PinHash   *string    `db:"pin_hash"    json:"-"`
	PinSetAt  *time.Time `db:"pin_set_at"  json:"pin_set_at,omitempty"`
	CreatedAt time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"  json:"updated_at"`
}

// HasPin reports whether the user has ever set a reveal PIN.
func (u *User) HasPin() bool {
	return u.PinHash != nil && *u.PinHash != ""
}
