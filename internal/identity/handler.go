package identity

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/shared"
)

const (
	sessionKeyState = "oauth_state"
	sessionKeyNext  = "login_next"

	// DefaultLanding is where a sign-in without a return path lands.
	DefaultLanding = "/admin"
)

// Events receives principal-changed events keyed by browser session.
type Events interface {
	SignedIn(sessionID string, p access.Principal) <-chan struct{}
	SignedOut(sessionID string)
}

// Auditor records audit entries without failing the request.
type Auditor interface {
	RecordQuietly(ctx context.Context, entry shared.AuditLog)
}

// Handler runs the sign-in and sign-out flow.
type Handler struct {
	logger   *slog.Logger
	provider Provider
	sessions *shared.SessionManager
	events   Events
	audit    Auditor
}

// NewHandler constructs a Handler. audit may be nil.
func NewHandler(logger *slog.Logger, provider Provider, sessions *shared.SessionManager, events Events, audit Auditor) *Handler {
	return &Handler{logger: logger, provider: provider, sessions: sessions, events: events, audit: audit}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.login)
	r.Get("/callback", h.callback)
	r.Post("/logout", h.logout)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	state := uuid.NewString()
	sess.Set(sessionKeyState, state)
	sess.Set(sessionKeyNext, safeNext(r.URL.Query().Get("next")))
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("identity provider returned error", slog.String("error", providerErr))
		http.Error(w, "sign-in was not completed", http.StatusUnauthorized)
		return
	}
	expected := sess.Get(sessionKeyState)
	sess.Delete(sessionKeyState)
	state := query.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		h.logger.Warn("sign-in callback rejected", slog.Any("error", shared.ErrInvalidState))
		http.Error(w, "invalid sign-in state", http.StatusBadRequest)
		return
	}

	principal, err := h.provider.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		h.logger.Error("identity exchange failed", slog.Any("error", err))
		http.Error(w, "sign-in failed", http.StatusUnauthorized)
		return
	}

	// The previous browser-session id, and whatever it was authorized for, is retired.
	h.events.SignedOut(sess.ID)
	h.sessions.Renew(sess)
	access.StorePrincipal(sess, principal)
	h.events.SignedIn(sess.ID, principal)

	if h.audit != nil {
		h.audit.RecordQuietly(r.Context(), shared.AuditLog{
			ActorID:  principal.ID,
			Action:   shared.AuditSignIn,
			Entity:   "principal",
			EntityID: principal.ID,
			Meta:     map[string]any{"email": principal.Email, "ip": r.RemoteAddr},
		})
	}
	h.logger.Info("principal signed in", slog.String("principal_id", principal.ID))

	next := sess.Get(sessionKeyNext)
	sess.Delete(sessionKeyNext)
	if next == "" {
		next = DefaultLanding
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if principal, ok := access.PrincipalFromSession(sess); ok && h.audit != nil {
			h.audit.RecordQuietly(r.Context(), shared.AuditLog{
				ActorID:  principal.ID,
				Action:   shared.AuditSignOut,
				Entity:   "principal",
				EntityID: principal.ID,
			})
		}
		h.events.SignedOut(sess.ID)
		access.ClearPrincipal(sess)
		h.sessions.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// safeNext keeps only local absolute paths.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return DefaultLanding
	}
	return next
}
