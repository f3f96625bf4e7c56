package content

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/i18n"
	"github.com/orgsite/orgsite/internal/shared"
	"github.com/orgsite/orgsite/internal/view"
)

// homeKinds are shown on the public landing page.
var homeKinds = []string{access.PageAnnouncements, access.PageEvents}

const homeLimit = 3

// Handler serves the public site and the admin console content pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      access.Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, gate access.Gate) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, gate: gate}
}

// MountPublic registers public site routes.
func (h *Handler) MountPublic(r chi.Router) {
	r.Get("/", h.home)
	for _, kind := range Kinds() {
		r.Get("/"+kind, h.publicList(kind))
	}
}

// MountAdmin registers admin console routes. Every route sits behind the gate.
func (h *Handler) MountAdmin(r chi.Router) {
	r.With(h.gate.RequireAdminArea()).Get("/", h.dashboard)
	for _, kind := range Kinds() {
		r.Route("/"+kind, func(r chi.Router) {
			r.With(h.gate.RequirePage(kind)).Get("/", h.adminList(kind))
			r.With(h.gate.RequireAction(access.ActionName(access.VerbCreate, kind))).Post("/", h.create(kind))
			r.With(h.gate.RequireAction(access.ActionName(access.VerbEdit, kind))).Post("/{id}", h.update(kind))
			r.With(h.gate.RequireAction(access.ActionName(access.VerbDelete, kind))).Post("/{id}/delete", h.remove(kind))
		})
	}
}

type section struct {
	Kind      string
	Documents []Document
}

type homePage struct {
	Sections []section
}

type publicListPage struct {
	Kind      string
	Documents []Document
}

type dashboardPage struct {
	Pages []string
}

type formValues struct {
	Slug string
}

type adminListPage struct {
	Kind      string
	Documents []Document
	CanCreate bool
	CanEdit   bool
	CanDelete bool
	Errors    ValidationErrors
	Form      formValues
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	page := homePage{}
	for _, kind := range homeKinds {
		docs, err := h.service.ListPublished(r.Context(), kind, homeLimit)
		if err != nil {
			h.fail(w, r, "list published", err)
			return
		}
		page.Sections = append(page.Sections, section{Kind: kind, Documents: docs})
	}
	h.render(w, r, "pages/home.html", "", page, http.StatusOK)
}

func (h *Handler) publicList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := h.service.ListPublished(r.Context(), kind, 0)
		if err != nil {
			h.fail(w, r, "list published", err)
			return
		}
		title := i18n.Translator(i18n.FromContext(r.Context()))("kind." + kind)
		h.render(w, r, "pages/public_list.html", title, publicListPage{Kind: kind, Documents: docs}, http.StatusOK)
	}
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	snapshot := access.SessionFromContext(r.Context())
	var pages []string
	for _, kind := range Kinds() {
		if access.CanAccessPage(snapshot, kind) {
			pages = append(pages, kind)
		}
	}
	if access.CanAccessPage(snapshot, access.PageAudit) {
		pages = append(pages, access.PageAudit)
	}
	h.render(w, r, "pages/admin_dashboard.html", "Admin", dashboardPage{Pages: pages}, http.StatusOK)
}

func (h *Handler) adminList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.renderAdminList(w, r, kind, nil, formValues{}, http.StatusOK)
	}
}

func (h *Handler) renderAdminList(w http.ResponseWriter, r *http.Request, kind string, errs ValidationErrors, form formValues, status int) {
	docs, err := h.service.List(r.Context(), kind)
	if err != nil {
		h.fail(w, r, "list documents", err)
		return
	}
	snapshot := access.SessionFromContext(r.Context())
	page := adminListPage{
		Kind:      kind,
		Documents: docs,
		CanCreate: access.CanPerform(snapshot, access.ActionName(access.VerbCreate, kind)),
		CanEdit:   access.CanPerform(snapshot, access.ActionName(access.VerbEdit, kind)),
		CanDelete: access.CanPerform(snapshot, access.ActionName(access.VerbDelete, kind)),
		Errors:    errs,
		Form:      form,
	}
	title := i18n.Translator(i18n.FromContext(r.Context()))("kind." + kind)
	h.render(w, r, "pages/admin_list.html", title, page, status)
}

func (h *Handler) create(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := h.parseForm(w, r, kind)
		if !ok {
			return
		}
		_, err := h.service.Create(r.Context(), actorID(r), in)
		if h.handleWriteError(w, r, kind, in, err) {
			return
		}
		h.redirectWithFlash(w, r, "/admin/"+kind, "success", "Saved")
	}
}

func (h *Handler) update(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r)
		if !ok {
			return
		}
		in, ok := h.parseForm(w, r, kind)
		if !ok {
			return
		}
		_, err := h.service.Update(r.Context(), actorID(r), id, in)
		if h.handleWriteError(w, r, kind, in, err) {
			return
		}
		h.redirectWithFlash(w, r, "/admin/"+kind, "success", "Saved")
	}
}

func (h *Handler) remove(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.documentID(w, r)
		if !ok {
			return
		}
		if err := h.service.Delete(r.Context(), actorID(r), kind, id); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			h.fail(w, r, "delete document", err)
			return
		}
		h.redirectWithFlash(w, r, "/admin/"+kind, "success", "Deleted")
	}
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request, kind string) (Input, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return Input{}, false
	}
	fields := Fields{}
	for _, lang := range i18n.Locales() {
		for _, name := range []string{FieldTitle, FieldBody} {
			if text := r.PostFormValue(name + "_" + lang); text != "" {
				fields.Set(lang, name, text)
			}
		}
	}
	return Input{
		Kind:      kind,
		Slug:      r.PostFormValue("slug"),
		Fields:    fields,
		Published: r.PostFormValue("published") != "",
	}, true
}

func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return uuid.Nil, false
	}
	return id, true
}

// handleWriteError renders the outcome of a failed write; it reports whether it responded.
func (h *Handler) handleWriteError(w http.ResponseWriter, r *http.Request, kind string, in Input, err error) bool {
	if err == nil {
		return false
	}
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.renderAdminList(w, r, kind, verrs, formValues{Slug: in.Slug}, http.StatusBadRequest)
	case errors.Is(err, shared.ErrNotFound):
		http.NotFound(w, r)
	default:
		h.fail(w, r, "save document", err)
	}
	return true
}

func actorID(r *http.Request) string {
	return access.SessionFromContext(r.Context()).PrincipalID()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	h.render(w, r, "pages/error.html", "", nil, http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	viewData := view.NewData(r, h.csrf, title, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
