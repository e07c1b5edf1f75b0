package models

import "time"

// AccessRole is a user's access level. Exactly one owner exists when RBAC
// is enabled; role is mutated only by the owner.
type AccessRole string

const (
	AccessRoleOwner  AccessRole = "owner"
	AccessRoleMember AccessRole = "member"
	AccessRoleGuest  AccessRole = "guest"
)

// User is an identity known to the store, resolved either from a
// ChannelLink or created directly (API keys, owner bootstrap).
type User struct {
	ID           string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Role         AccessRole `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}
