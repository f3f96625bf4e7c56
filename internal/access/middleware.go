package access

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orgsite/orgsite/internal/shared"
)

// LoginPath is where unauthenticated admin requests are sent.
const LoginPath = "/auth/login"

const (
	sessionKeyEmail = "principal_email"
	sessionKeyName  = "principal_name"
)

// StorePrincipal records p on the cookie session.
func StorePrincipal(sess *shared.Session, p Principal) {
	if sess == nil {
		return
	}
	sess.SetUser(p.ID)
	sess.Set(sessionKeyEmail, p.Email)
	sess.Set(sessionKeyName, p.DisplayName)
}

// ClearPrincipal removes the principal from the cookie session.
func ClearPrincipal(sess *shared.Session) {
	if sess == nil {
		return
	}
	sess.SetUser("")
	sess.Delete(sessionKeyEmail)
	sess.Delete(sessionKeyName)
}

// PrincipalFromSession reads the principal recorded on the cookie session.
func PrincipalFromSession(sess *shared.Session) (Principal, bool) {
	if sess == nil {
		return Principal{}, false
	}
	id := strings.TrimSpace(sess.User())
	if id == "" {
		return Principal{}, false
	}
	return Principal{ID: id, Email: sess.Get(sessionKeyEmail), DisplayName: sess.Get(sessionKeyName)}, true
}

type sessionContextKey struct{}

// ContextWithSession stores an authorization snapshot in ctx.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// SessionFromContext returns the snapshot stored by the gate, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

// Responder renders the non-granting outcomes of the gate.
type Responder interface {
	Resolving(w http.ResponseWriter, r *http.Request, s Session)
	Denied(w http.ResponseWriter, r *http.Request, s Session)
}

// Gate guards admin routes. Every decision reads a fresh snapshot from the registry.
type Gate struct {
	Registry  *Registry
	Responder Responder
	Logger    *slog.Logger
	// Audit, when set, records every denial.
	Audit DenialRecorder
}

// DenialRecorder persists audit entries.
type DenialRecorder interface {
	RecordQuietly(ctx context.Context, entry shared.AuditLog)
}

// RequireAdminArea admits sessions allowed into the admin console.
func (g Gate) RequireAdminArea() func(http.Handler) http.Handler {
	return g.require("admin area", CanEnterAdminArea)
}

// RequirePage admits sessions allowed to open page.
func (g Gate) RequirePage(page string) func(http.Handler) http.Handler {
	return g.require("page "+page, func(s *Session) bool {
		return CanAccessPage(s, page)
	})
}

// RequireAction admits sessions allowed to perform action.
func (g Gate) RequireAction(action string) func(http.Handler) http.Handler {
	return g.require("action "+action, func(s *Session) bool {
		return CanPerform(s, action)
	})
}

func (g Gate) require(resource string, allowed func(*Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			principal, ok := PrincipalFromSession(sess)
			if !ok || g.Registry == nil {
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}
			snapshot := g.Registry.Ensure(sess.ID, principal)
			if snapshot.Resolving {
				g.responder().Resolving(w, r, snapshot)
				return
			}
			if !allowed(&snapshot) {
				g.logger().Info("access denied",
					slog.String("resource", resource),
					slog.String("principal_id", snapshot.PrincipalID()),
					slog.String("role", snapshot.Role.String()))
				if g.Audit != nil {
					g.Audit.RecordQuietly(r.Context(), shared.AuditLog{
						ActorID:  snapshot.PrincipalID(),
						Action:   shared.AuditAccessDenied,
						Entity:   "admin_resource",
						EntityID: resource,
						Meta:     map[string]any{"role": snapshot.Role.String(), "path": r.URL.Path},
					})
				}
				g.responder().Denied(w, r, snapshot)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), snapshot)))
		})
	}
}

func (g Gate) responder() Responder {
	if g.Responder == nil {
		return PlainResponder{}
	}
	return g.Responder
}

func (g Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return g.Logger
}

// PlainResponder writes text responses carrying the diagnostic fields.
type PlainResponder struct{}

// Resolving asks the client to retry shortly.
func (PlainResponder) Resolving(w http.ResponseWriter, r *http.Request, s Session) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "resolving access for %s\n", s.PrincipalID())
}

// Denied writes the access-denied diagnostics.
func (PlainResponder) Denied(w http.ResponseWriter, r *http.Request, s Session) {
	email := ""
	if s.Principal != nil {
		email = s.Principal.Email
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = fmt.Fprintf(w, "access denied\nprincipal_id: %s\nemail: %s\nrole: %s\nresolving: %t\n",
		s.PrincipalID(), email, s.Role.String(), s.Resolving)
}
