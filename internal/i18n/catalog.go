// Package i18n negotiates the visitor's language and translates interface strings.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported locale codes; the first is the default.
const (
	English = "en"
	Spanish = "es"
	French  = "fr"
)

var supported = []language.Tag{language.English, language.Spanish, language.French}

var codes = []string{English, Spanish, French}

// Locales returns the supported locale codes in preference order.
func Locales() []string {
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

// Supported reports whether code is a supported locale code.
func Supported(code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

var messages = map[string][3]string{
	"site.title":            {"Our Organization", "Nuestra Organización", "Notre Organisation"},
	"nav.home":              {"Home", "Inicio", "Accueil"},
	"nav.admin":             {"Admin", "Administración", "Administration"},
	"nav.signin":            {"Sign in", "Iniciar sesión", "Se connecter"},
	"nav.signout":           {"Sign out", "Cerrar sesión", "Se déconnecter"},
	"kind.events":           {"Events", "Eventos", "Événements"},
	"kind.announcements":    {"Announcements", "Anuncios", "Annonces"},
	"kind.content":          {"Content", "Contenido", "Contenu"},
	"kind.team":             {"Team", "Equipo", "Équipe"},
	"kind.volunteers":       {"Volunteers", "Voluntarios", "Bénévoles"},
	"kind.contact":          {"Contact", "Contacto", "Contact"},
	"public.empty":          {"Nothing published yet.", "Aún no hay publicaciones.", "Rien n'est encore publié."},
	"admin.dashboard":       {"Dashboard", "Panel", "Tableau de bord"},
	"admin.role":            {"Role", "Rol", "Rôle"},
	"admin.new":             {"New entry", "Nueva entrada", "Nouvelle entrée"},
	"admin.save":            {"Save", "Guardar", "Enregistrer"},
	"admin.delete":          {"Delete", "Eliminar", "Supprimer"},
	"admin.published":       {"Published", "Publicado", "Publié"},
	"admin.slug":            {"Slug", "Identificador", "Identifiant"},
	"admin.title":           {"Title", "Título", "Titre"},
	"admin.body":            {"Body", "Cuerpo", "Corps"},
	"admin.empty":           {"No entries yet.", "Aún no hay entradas.", "Aucune entrée pour l'instant."},
	"kind.audit":            {"Audit log", "Registro de auditoría", "Journal d'audit"},
	"audit.when":            {"When", "Cuándo", "Quand"},
	"audit.actor":           {"Actor", "Actor", "Acteur"},
	"audit.action":          {"Action", "Acción", "Action"},
	"audit.entity":          {"Entity", "Entidad", "Entité"},
	"audit.filter":          {"Filter", "Filtrar", "Filtrer"},
	"audit.export":          {"Export CSV", "Exportar CSV", "Exporter en CSV"},
	"audit.newer":           {"Newer", "Más recientes", "Plus récents"},
	"audit.older":           {"Older", "Más antiguos", "Plus anciens"},
	"access.resolving":      {"Checking your access, this page will refresh shortly.", "Verificando tu acceso, esta página se actualizará en breve.", "Vérification de votre accès, cette page va se rafraîchir."},
	"access.denied":         {"Access denied", "Acceso denegado", "Accès refusé"},
	"access.denied.help":    {"Your account is signed in but does not have access to this area. Share the details below with a site administrator.", "Tu cuenta ha iniciado sesión pero no tiene acceso a esta área. Comparte los detalles con un administrador.", "Votre compte est connecté mais n'a pas accès à cette zone. Transmettez les détails ci-dessous à un administrateur."},
	"access.principal_id":   {"Account id", "Id de cuenta", "Identifiant du compte"},
	"access.email":          {"Email", "Correo", "E-mail"},
	"access.resolving_flag": {"Still resolving", "Aún resolviendo", "Résolution en cours"},
	"error.generic":         {"Something went wrong.", "Algo salió mal.", "Une erreur est survenue."},
}

var cat = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, texts := range messages {
		for i, tag := range supported {
			_ = b.SetString(tag, key, texts[i])
		}
	}
	return b
}

// Translator returns a lookup function for code. Unknown keys render as themselves.
func Translator(code string) func(key string) string {
	tag := language.English
	for i, c := range codes {
		if c == code {
			tag = supported[i]
		}
	}
	p := message.NewPrinter(tag, message.Catalog(cat))
	return func(key string) string {
		return p.Sprintf(key)
	}
}
