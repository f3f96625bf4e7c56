package access

import (
	"errors"
	"strings"
)

// ErrRecordNotFound marks a lookup source that holds no record for a principal.
var ErrRecordNotFound = errors.New("access: record not found")

// recoveryPrincipalID is the identity that always resolves to superadmin.
// It is fixed at build time (go build -ldflags "-X ...access.recoveryPrincipalID=...").
var recoveryPrincipalID = "z3VKS1U11ETzBiPw5VtojR2Zmvd2"

// RecoveryPrincipalID returns the build-time recovery identity.
func RecoveryPrincipalID() string {
	return recoveryPrincipalID
}

// Role is a privilege level held by a principal.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	// RoleUnresolved means resolution has not completed. It never grants anything.
	RoleUnresolved Role = "unresolved"
)

// ParseRole maps a stored role name to a grantable Role.
// "user" is accepted as the historical name of member.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleSuperAdmin):
		return RoleSuperAdmin, true
	case string(RoleAdmin):
		return RoleAdmin, true
	case string(RoleMember), "user":
		return RoleMember, true
	default:
		return "", false
	}
}

// Elevated reports whether the role opens the admin area on its own.
func (r Role) Elevated() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

func (r Role) String() string {
	if r == "" {
		return string(RoleUnresolved)
	}
	return string(r)
}

// Principal describes an authenticated caller as reported by the identity provider.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Record is a role document as stored in a Role Store partition or returned by the authority.
type Record struct {
	Role        string     `json:"role"`
	Permissions *Overrides `json:"permissions,omitempty"`
}

// Session is a point-in-time view of one browser session's authorization state.
type Session struct {
	Principal   *Principal
	Role        Role
	Permissions PermissionSet
	Resolving   bool
}

// SignedOutSession returns the initial, empty session state.
func SignedOutSession() Session {
	return Session{
		Role:        RoleUnresolved,
		Permissions: BuildPermissions(RoleUnresolved, nil),
	}
}

// PrincipalID returns the principal id or an empty string.
func (s *Session) PrincipalID() string {
	if s == nil || s.Principal == nil {
		return ""
	}
	return s.Principal.ID
}
