package view

import (
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/i18n"
	"github.com/orgsite/orgsite/internal/shared"
	"github.com/orgsite/orgsite/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Lang        string
	Locales     []string
	SignedIn    bool
	// Access is the authorization snapshot on gated pages.
	Access *access.Session
	Data   any

	translate func(string) string
}

// T translates an interface string into the page language.
func (d TemplateData) T(key string) string {
	if d.translate == nil {
		return i18n.Translator(d.Lang)(key)
	}
	return d.translate(key)
}

// NewData fills the shared fields from the request context.
func NewData(r *http.Request, csrf *shared.CSRFManager, title string, data any) TemplateData {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	var token string
	if csrf != nil {
		token, _ = csrf.EnsureToken(sess)
	}
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	_, signedIn := access.PrincipalFromSession(sess)
	lang := i18n.FromContext(ctx)
	return TemplateData{
		Title:       title,
		CSRFToken:   token,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Lang:        lang,
		Locales:     i18n.Locales(),
		SignedIn:    signedIn,
		Access:      access.SessionFromContext(ctx),
		Data:        data,
		translate:   i18n.Translator(lang),
	}
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w io.Writer, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	return e.templates.ExecuteTemplate(w, name, data)
}

// AccessResponder renders the gate's resolving and denied pages.
type AccessResponder struct {
	Engine *Engine
	Logger *slog.Logger
}

// Resolving renders a self-refreshing wait page.
func (a AccessResponder) Resolving(w http.ResponseWriter, r *http.Request, s access.Session) {
	w.Header().Set("Refresh", "1")
	a.render(w, r, "pages/admin_resolving.html", s, http.StatusAccepted)
}

// Denied renders the access-denied page with the session's diagnostics.
func (a AccessResponder) Denied(w http.ResponseWriter, r *http.Request, s access.Session) {
	a.render(w, r, "pages/admin_denied.html", s, http.StatusForbidden)
}

func (a AccessResponder) render(w http.ResponseWriter, r *http.Request, name string, s access.Session, status int) {
	data := NewData(r, nil, "", s)
	data.Access = &s
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := a.Engine.Render(w, name, data); err != nil && a.Logger != nil {
		a.Logger.Error("render access page", slog.String("template", name), slog.Any("error", err))
	}
}

var _ access.Responder = AccessResponder{}
