package access

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Admin console pages.
const (
	PageEvents        = "events"
	PageAnnouncements = "announcements"
	PageContent       = "content"
	PageTeam          = "team"
	PageVolunteers    = "volunteers"
	PageContact       = "contact"
	// PageAudit is never part of the admin defaults; it is granted by override.
	PageAudit = "audit"
)

// Verbs used in action names.
const (
	VerbCreate = "create"
	VerbEdit   = "edit"
	VerbDelete = "delete"
	VerbExport = "export"
)

// ActionName builds a can<Verb><Resource> action name, e.g. ("delete", "events") -> canDeleteEvents.
func ActionName(verb, resource string) string {
	verb = strings.TrimSpace(verb)
	resource = strings.TrimSpace(resource)
	if verb == "" || resource == "" {
		return ""
	}
	caser := cases.Title(language.Und, cases.NoLower)
	return "can" + caser.String(verb) + caser.String(resource)
}

// Overrides is a partial permission set stored per principal.
type Overrides struct {
	Pages   map[string]bool `json:"pages,omitempty"`
	Modules map[string]bool `json:"modules,omitempty"`
}

// PermissionSet holds resolved page and action grants. Absent keys deny.
type PermissionSet struct {
	Pages   map[string]bool
	Modules map[string]bool

	universal bool
}

// Universal reports whether the set grants everything.
func (p PermissionSet) Universal() bool {
	return p.universal
}

// Page reports whether the page is granted.
func (p PermissionSet) Page(name string) bool {
	return p.universal || p.Pages[name]
}

// Module reports whether the action is granted.
func (p PermissionSet) Module(name string) bool {
	return p.universal || p.Modules[name]
}

// AnyPage reports whether at least one page is granted.
func (p PermissionSet) AnyPage() bool {
	if p.universal {
		return true
	}
	for _, granted := range p.Pages {
		if granted {
			return true
		}
	}
	return false
}

// AdminPages lists the pages of the admin console in navigation order.
func AdminPages() []string {
	return []string{PageEvents, PageAnnouncements, PageContent, PageTeam, PageVolunteers, PageContact}
}

// GrantablePages lists every page an override may name.
func GrantablePages() []string {
	return append(AdminPages(), PageAudit)
}

func adminDefaults() PermissionSet {
	pages := make(map[string]bool, 6)
	for _, page := range AdminPages() {
		pages[page] = true
	}
	return PermissionSet{
		Pages: pages,
		Modules: map[string]bool{
			ActionName(VerbCreate, PageEvents):        true,
			ActionName(VerbEdit, PageEvents):          true,
			ActionName(VerbDelete, PageEvents):        false,
			ActionName(VerbCreate, PageAnnouncements): true,
			ActionName(VerbEdit, PageAnnouncements):   true,
			ActionName(VerbDelete, PageAnnouncements): false,
			ActionName(VerbCreate, PageContent):       true,
			ActionName(VerbEdit, PageContent):         true,
		},
	}
}

func emptyPermissions() PermissionSet {
	return PermissionSet{Pages: map[string]bool{}, Modules: map[string]bool{}}
}

// BuildPermissions maps a role plus optional stored overrides to a complete permission set.
// The result never shares maps with overrides.
func BuildPermissions(role Role, overrides *Overrides) PermissionSet {
	switch role {
	case RoleSuperAdmin:
		set := emptyPermissions()
		set.universal = true
		return set
	case RoleAdmin:
		set := adminDefaults()
		merge(&set, overrides)
		return set
	case RoleMember:
		set := emptyPermissions()
		merge(&set, overrides)
		return set
	default:
		return emptyPermissions()
	}
}

func merge(set *PermissionSet, overrides *Overrides) {
	if overrides == nil {
		return
	}
	for name, granted := range overrides.Pages {
		set.Pages[name] = granted
	}
	for name, granted := range overrides.Modules {
		set.Modules[name] = granted
	}
}
