package identity_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/identity"
	"github.com/orgsite/orgsite/internal/shared"
)

type stubProvider struct {
	principal access.Principal
	err       error
	codes     []string
}

func (s *stubProvider) AuthCodeURL(state string) string {
	return "https://idp.example.org/authorize?state=" + url.QueryEscape(state)
}

func (s *stubProvider) Exchange(_ context.Context, code string) (access.Principal, error) {
	s.codes = append(s.codes, code)
	if s.err != nil {
		return access.Principal{}, s.err
	}
	return s.principal, nil
}

type event struct {
	kind      string
	sessionID string
	principal access.Principal
}

type recordingEvents struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingEvents) SignedIn(sessionID string, p access.Principal) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "in", sessionID: sessionID, principal: p})
	done := make(chan struct{})
	close(done)
	return done
}

func (r *recordingEvents) SignedOut(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "out", sessionID: sessionID})
}

type recordingAuditor struct {
	entries []shared.AuditLog
}

func (r *recordingAuditor) RecordQuietly(_ context.Context, entry shared.AuditLog) {
	r.entries = append(r.entries, entry)
}

type fixture struct {
	router   chi.Router
	sessions *shared.SessionManager
	provider *stubProvider
	events   *recordingEvents
	audit    *recordingAuditor
	cookie   *http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		sessions: shared.NewSessionManager(client, "test_session", time.Hour, false),
		provider: &stubProvider{principal: access.Principal{ID: "user-42", Email: "ada@example.org", DisplayName: "Ada"}},
		events:   &recordingEvents{},
		audit:    &recordingAuditor{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := identity.NewHandler(logger, f.provider, f.sessions, f.events, f.audit)
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	f.router = r
	return f
}

// do runs one request with the fixture's cookie and keeps the cookie it gets back.
func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	sess, err := f.sessions.Load(req.Context(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	require.NoError(t, f.sessions.Commit(req.Context(), res, req, sess))
	for _, c := range res.Result().Cookies() {
		if c.Name == "test_session" {
			f.cookie = c
		}
	}
	return res, sess
}

func stateFrom(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestSignInFlow(t *testing.T) {
	f := newFixture(t)

	res, before := f.do(t, http.MethodGet, "/auth/login?next=/admin/events")
	require.Equal(t, http.StatusFound, res.Code)
	state := stateFrom(t, res.Header().Get("Location"))
	require.NotEmpty(t, state)

	res, after := f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/admin/events", res.Header().Get("Location"))
	assert.Equal(t, []string{"abc"}, f.provider.codes)

	assert.NotEqual(t, before.ID, after.ID, "session id must be renewed on sign-in")
	p, ok := access.PrincipalFromSession(after)
	require.True(t, ok)
	assert.Equal(t, "user-42", p.ID)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, event{kind: "out", sessionID: before.ID}, f.events.events[0])
	assert.Equal(t, "in", f.events.events[1].kind)
	assert.Equal(t, after.ID, f.events.events[1].sessionID)
	assert.Equal(t, "ada@example.org", f.events.events[1].principal.Email)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, shared.AuditSignIn, f.audit.entries[0].Action)
	assert.Equal(t, "user-42", f.audit.entries[0].ActorID)

	// The renewed cookie carries the principal on the next request.
	_, next := f.do(t, http.MethodGet, "/auth/login")
	p, ok = access.PrincipalFromSession(next)
	require.True(t, ok)
	assert.Equal(t, "user-42", p.ID)
}

func TestCallbackRejectsBadState(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/auth/login")

	res, _ := f.do(t, http.MethodGet, "/auth/callback?code=abc&state=forged")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Empty(t, f.provider.codes)
	assert.Empty(t, f.events.events)

	// The state is single-use, so replaying the legitimate flow after a mismatch fails too.
	res, _ = f.do(t, http.MethodGet, "/auth/callback?code=abc&state=")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCallbackProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("token endpoint unavailable")

	res, _ := f.do(t, http.MethodGet, "/auth/login")
	state := stateFrom(t, res.Header().Get("Location"))
	res, sess := f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	_, ok := access.PrincipalFromSession(sess)
	assert.False(t, ok)
	assert.Empty(t, f.events.events)

	res, _ = f.do(t, http.MethodGet, "/auth/callback?error=access_denied")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginIgnoresForeignReturnPaths(t *testing.T) {
	for _, next := range []string{"https://evil.example", "//evil.example", "relative", ""} {
		f := newFixture(t)
		res, _ := f.do(t, http.MethodGet, "/auth/login?next="+url.QueryEscape(next))
		state := stateFrom(t, res.Header().Get("Location"))
		res, _ = f.do(t, http.MethodGet, "/auth/callback?code=x&state="+url.QueryEscape(state))
		assert.Equal(t, identity.DefaultLanding, res.Header().Get("Location"), next)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	res, _ := f.do(t, http.MethodGet, "/auth/login")
	state := stateFrom(t, res.Header().Get("Location"))
	_, signedIn := f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state))

	res, _ = f.do(t, http.MethodPost, "/auth/logout")
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, event{kind: "out", sessionID: signedIn.ID}, last)
	assert.Equal(t, shared.AuditSignOut, f.audit.entries[len(f.audit.entries)-1].Action)
	require.NotNil(t, f.cookie)
	assert.Equal(t, -1, f.cookie.MaxAge)
}

func TestSignInFeedsRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)

	registry := access.NewRegistry(access.RegistryConfig{Resolver: access.NewResolver(access.ResolverConfig{})})
	provider := &stubProvider{principal: access.Principal{ID: access.RecoveryPrincipalID()}}
	handler := identity.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), provider, sessions, registry, nil)
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	state := stateFrom(t, res.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+url.QueryEscape(state), nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Eventually(t, func() bool {
		return registry.Snapshot(sess.ID).Role == access.RoleSuperAdmin
	}, 5*time.Second, 5*time.Millisecond)
}
