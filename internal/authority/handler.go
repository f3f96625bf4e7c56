package authority

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/platform/httpx"
)

// Handler serves role records to holders of a valid assertion.
type Handler struct {
	logger  *slog.Logger
	issuer  *Issuer
	sources []access.Source
}

// NewHandler builds a Handler reading the given sources in order.
func NewHandler(logger *slog.Logger, issuer *Issuer, sources []access.Source) *Handler {
	return &Handler{logger: logger, issuer: issuer, sources: sources}
}

// MountRoutes registers the authority routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/verify", h.verify)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	principalID, err := h.issuer.Verify(token)
	if err != nil {
		h.logger.Warn("authority assertion rejected", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var failed bool
	for _, src := range h.sources {
		record, err := src.Lookup(r.Context(), principalID)
		if err != nil {
			if !errors.Is(err, access.ErrRecordNotFound) {
				failed = true
				h.logger.Error("authority lookup failed",
					slog.String("source", src.Name()),
					slog.String("principal_id", principalID),
					slog.Any("error", err))
			}
			continue
		}
		if strings.TrimSpace(record.Role) == "" {
			continue
		}
		httpx.JSON(w, http.StatusOK, record)
		return
	}
	if failed {
		httpx.RespondError(w, errors.New("authority: lookup failed"))
		return
	}
	httpx.RespondError(w, httpx.ErrNotFound)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
