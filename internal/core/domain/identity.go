package domain

import (
	"time"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// Role is the marketplace role carried by an authenticated identity.
type Role string

const (
	RoleTenant     Role = "tenant"
	RoleAgent      Role = "agent"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
)

// Roles lists every known role.
var Roles = []Role{RoleTenant, RoleAgent, RoleContractor, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RoleAgent, RoleContractor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a raw claim or path value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", apperrors.ErrInvalidRole
	}
	return r, nil
}

// Identity is the verified (user, role, tenant) tuple attached to a
// connection at authentication time. It never changes for the life of the
// connection.
type Identity struct {
	UserID   string
	Role     Role
	TenantID string
	// ExpiresAt is the credential expiry, zero when the token carried none.
	ExpiresAt time.Time
}

// Validate checks the fields every authenticated identity must carry.
func (i Identity) Validate() error {
	if i.UserID == "" {
		return apperrors.ErrMissingSubject
	}
	if !i.Role.Valid() {
		return apperrors.ErrInvalidRole
	}
	return nil
}

// Topics returns the memberships every authenticated connection holds for
// as long as it is open.
func (i Identity) Topics() []Topic {
	return []Topic{UserTopic(i.UserID), RoleTopic(i.Role)}
}
