package domain

import "strings"

// Role is the access level a user logs in with.
type Role string

const (
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
)

// Capability names a protected operation. Role checks go through Can so the
// gating lives in one place instead of scattered string comparisons.
type Capability string

const (
	CapCreateBoard   Capability = "create-board"
	CapCreateTask    Capability = "create-task"
	CapInviteMembers Capability = "invite-members"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleManager: {
		CapCreateBoard:   {},
		CapCreateTask:    {},
		CapInviteMembers: {},
	},
	RoleEmployee: {},
	RoleHR:       {},
}

// Can reports whether the role is allowed to perform the capability. Unknown
// roles can do nothing.
func (r Role) Can(c Capability) bool {
	caps, ok := roleCapabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}

// User is the profile cached alongside the bearer token.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Session pairs a bearer token with the user it authenticates.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// UsernameFromEmail extracts the local part of an email address, used for the
// "who is typing" indicator and team roster display names. It returns "" when
// the address has no local part.
func UsernameFromEmail(email string) string {
	i := strings.IndexByte(email, '@')
	if i <= 0 {
		return ""
	}
	return email[:i]
}
