package access

// CanEnterAdminArea reports whether the session may open the admin console at all.
// The recovery identity is covered by its resolved role; raw ids are never compared here.
func CanEnterAdminArea(s *Session) bool {
	if !settled(s) {
		return false
	}
	if s.Role.Elevated() {
		return true
	}
	return s.Permissions.AnyPage()
}

// CanAccessPage reports whether the session may open the named admin page.
func CanAccessPage(s *Session, page string) bool {
	if !settled(s) {
		return false
	}
	if s.Role == RoleSuperAdmin {
		return true
	}
	return s.Permissions.Page(page)
}

// CanPerform reports whether the session may run the named action.
func CanPerform(s *Session, action string) bool {
	if !settled(s) {
		return false
	}
	if s.Role == RoleSuperAdmin {
		return true
	}
	return s.Permissions.Module(action)
}

func settled(s *Session) bool {
	return s != nil && s.Principal != nil && !s.Resolving && s.Role != RoleUnresolved && s.Role != ""
}
