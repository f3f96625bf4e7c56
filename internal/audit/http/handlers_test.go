package audithttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/audit"
	"github.com/orgsite/orgsite/internal/shared"
	"github.com/orgsite/orgsite/internal/view"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type roleResolver map[string]access.Resolution

func (r roleResolver) Resolve(_ context.Context, principalID string) access.Resolution {
	if res, ok := r[principalID]; ok {
		return res
	}
	return access.Resolution{Role: access.RoleMember, Source: "test"}
}

type fixture struct {
	router   chi.Router
	service  *stubTimelineService
	registry *access.Registry
	sessions *shared.SessionManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := access.NewRegistry(access.RegistryConfig{Resolver: roleResolver{
		"admin-1":   {Role: access.RoleAdmin, Source: "test"},
		"auditor-1": {Role: access.RoleAdmin, Source: "test", Overrides: &access.Overrides{Pages: map[string]bool{access.PageAudit: true}}},
		"super-1":   {Role: access.RoleSuperAdmin, Source: "test"},
	}})
	gate := access.Gate{Registry: registry, Responder: view.AccessResponder{Engine: engine, Logger: logger}, Logger: logger}

	service := &stubTimelineService{}
	handler := NewHandler(logger, service, engine, nil, gate)
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Route("/admin", handler.MountAdmin)
	return &fixture{
		router:   r,
		service:  service,
		registry: registry,
		sessions: shared.NewSessionManager(client, "test_session", time.Hour, false),
	}
}

func (f *fixture) signIn(t *testing.T, principalID string) *shared.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	p := access.Principal{ID: principalID, Email: principalID + "@example.org"}
	access.StorePrincipal(sess, p)
	select {
	case <-f.registry.SignedIn(sess.ID, p):
	case <-time.After(5 * time.Second):
		t.Fatal("resolution did not settle")
	}
	return sess
}

func (f *fixture) get(sess *shared.Session, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func TestTimelineRequiresAuditPage(t *testing.T) {
	f := newFixture(t)

	res := f.get(nil, "/admin/audit")
	assert.Equal(t, http.StatusSeeOther, res.Code)

	res = f.get(f.signIn(t, "admin-1"), "/admin/audit")
	assert.Equal(t, http.StatusForbidden, res.Code, "admins do not see the audit log by default")
}

func TestTimelineRendersRows(t *testing.T) {
	f := newFixture(t)
	f.service.result = audit.Result{
		Rows:   []audit.TimelineRow{{At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), Actor: "admin-1", Action: shared.AuditContentUpdated, Entity: "document", EntityID: "d-1"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20, HasNext: true, NextPage: 2},
	}

	res := f.get(f.signIn(t, "auditor-1"), "/admin/audit?from=2026-03-01&to=2026-03-15&actor=admin-1")
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "content.updated")
	assert.Contains(t, body, "page=2")
	assert.NotContains(t, body, "export.csv", "export needs its own action grant")
	assert.Equal(t, "2026-03-01", f.service.lastFilters.From.Format(dateLayout))
	assert.Equal(t, "admin-1", f.service.lastFilters.Actor)
}

func TestTimelineDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	super := f.signIn(t, "super-1")

	res := f.get(super, "/admin/audit")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "2026-03-08", f.service.lastFilters.From.Format(dateLayout))
	assert.Equal(t, "2026-03-15", f.service.lastFilters.To.Format(dateLayout))
	assert.Contains(t, res.Body.String(), "export.csv")

	for _, target := range []string{
		"/admin/audit?from=2026-03-20&to=2026-03-15",
		"/admin/audit?from=2025-01-01&to=2026-03-15",
		"/admin/audit?to=yesterday",
		"/admin/audit?page=0",
		"/admin/audit?page_size=abc",
	} {
		res = f.get(super, target)
		assert.Equal(t, http.StatusBadRequest, res.Code, target)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	f.service.exportRows = []audit.TimelineRow{{Actor: "admin-1", Action: shared.AuditRoleGranted, Entity: "role_record", EntityID: "member-9"}}

	res := f.get(f.signIn(t, "auditor-1"), "/admin/audit/export.csv")
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = f.get(f.signIn(t, "super-1"), "/admin/audit/export.csv?from=2026-03-01&to=2026-03-05")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, res.Body.String(), "member-9")
}

func TestExportRateLimitedPerPrincipal(t *testing.T) {
	f := newFixture(t)
	super := f.signIn(t, "super-1")
	for i := 0; i < rateLimit; i++ {
		require.Equal(t, http.StatusOK, f.get(super, "/admin/audit/export.csv").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.get(super, "/admin/audit/export.csv").Code)
}
