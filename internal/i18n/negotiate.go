package i18n

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// CookieName holds an explicit language choice.
const CookieName = "lang"

var matcher = language.NewMatcher(supported)

type localeContextKey struct{}

// Negotiate picks the locale for r: the lang query parameter, then the lang
// cookie, then Accept-Language, then English.
func Negotiate(r *http.Request) string {
	if code := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lang"))); Supported(code) {
		return code
	}
	if c, err := r.Cookie(CookieName); err == nil && Supported(c.Value) {
		return c.Value
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return English
	}
	_, idx, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return English
	}
	return codes[idx]
}

// Middleware stores the negotiated locale in the request context and
// remembers an explicit ?lang choice in a cookie.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := Negotiate(r)
		if explicit := strings.ToLower(r.URL.Query().Get("lang")); Supported(explicit) {
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    explicit,
				Path:     "/",
				MaxAge:   365 * 24 * 60 * 60,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), code)))
	})
}

// WithLocale stores code in ctx.
func WithLocale(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, localeContextKey{}, code)
}

// FromContext returns the locale stored by Middleware, or English.
func FromContext(ctx context.Context) string {
	if code, ok := ctx.Value(localeContextKey{}).(string); ok && code != "" {
		return code
	}
	return English
}
