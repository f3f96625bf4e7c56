package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/orgsite/orgsite/internal/access"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountAdmin registers the audit timeline and CSV export under /audit.
func (h *Handler) MountAdmin(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/"+access.PageAudit, func(r chi.Router) {
		r.Use(h.gate.RequirePage(access.PageAudit))
		r.Get("/", h.handleTimeline)
		r.With(h.gate.RequireAction(exportAction), limiter).Get("/export.csv", h.handleExport)
	})
}

// rateLimitKey buckets exports per signed-in principal, falling back to the client IP.
func rateLimitKey(r *http.Request) (string, error) {
	if id := access.SessionFromContext(r.Context()).PrincipalID(); id != "" {
		return "principal:" + id, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
