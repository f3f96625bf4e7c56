package authority_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/authority"
)

const secret = "authority-test-secret"

func newIssuer(t *testing.T) *authority.Issuer {
	t.Helper()
	issuer, err := authority.NewIssuer(secret, time.Minute)
	require.NoError(t, err)
	return issuer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mapSource struct {
	name    string
	records map[string]access.Record
	err     error
}

func (m mapSource) Name() string { return m.name }

func (m mapSource) Lookup(_ context.Context, id string) (access.Record, error) {
	if m.err != nil {
		return access.Record{}, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return access.Record{}, access.ErrRecordNotFound
	}
	return rec, nil
}

func newAuthorityServer(t *testing.T, issuer *authority.Issuer, sources ...access.Source) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/internal/roles", authority.NewHandler(discardLogger(), issuer, sources).MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer := newIssuer(t)
	token, err := issuer.Mint("user-42")
	require.NoError(t, err)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)

	other, err := authority.NewIssuer("another-secret", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)

	_, err = issuer.Verify("")
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)
	_, err = issuer.Mint(" ")
	assert.Error(t, err)
}

func TestIssuerRejectsForeignClaims(t *testing.T) {
	issuer := newIssuer(t)
	now := time.Now()
	sign := func(claims jwt.RegisteredClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	base := jwt.RegisteredClaims{
		Issuer:    "orgsite",
		Subject:   "user-42",
		Audience:  jwt.ClaimStrings{"role-authority"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Second)),
	}
	_, err := issuer.Verify(sign(base))
	require.NoError(t, err)

	wrongAudience := base
	wrongAudience.Audience = jwt.ClaimStrings{"somebody-else"}
	_, err = issuer.Verify(sign(wrongAudience))
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)

	expired := base
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	_, err = issuer.Verify(sign(expired))
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)

	longLived := base
	longLived.ExpiresAt = jwt.NewNumericDate(now.Add(24 * time.Hour))
	_, err = issuer.Verify(sign(longLived))
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)

	noExpiry := base
	noExpiry.ExpiresAt = nil
	_, err = issuer.Verify(sign(noExpiry))
	assert.ErrorIs(t, err, authority.ErrInvalidAssertion)
}

func TestClientAgainstHandler(t *testing.T) {
	issuer := newIssuer(t)
	primary := mapSource{name: "admins", records: map[string]access.Record{
		"user-1": {Role: "superadmin"},
	}}
	legacy := mapSource{name: "admin_users", records: map[string]access.Record{
		"user-2": {Role: "admin", Permissions: &access.Overrides{Pages: map[string]bool{"team": false}}},
		"user-3": {Role: ""},
	}}
	srv := newAuthorityServer(t, issuer, primary, legacy)
	client := authority.NewClient(srv.URL+"/internal/roles/", issuer, nil)
	assert.Equal(t, "authority", client.Name())

	rec, err := client.Lookup(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "superadmin", rec.Role)

	rec, err = client.Lookup(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, "admin", rec.Role)
	require.NotNil(t, rec.Permissions)
	assert.False(t, rec.Permissions.Pages["team"])

	_, err = client.Lookup(context.Background(), "user-3")
	assert.ErrorIs(t, err, access.ErrRecordNotFound)
	_, err = client.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, access.ErrRecordNotFound)
}

func TestHandlerStatuses(t *testing.T) {
	issuer := newIssuer(t)
	broken := mapSource{name: "admins", err: errors.New("pool closed")}
	srv := newAuthorityServer(t, issuer, broken)

	resp, err := http.Post(srv.URL+"/internal/roles/verify", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/internal/roles/verify", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client := authority.NewClient(srv.URL+"/internal/roles", issuer, nil)
	_, err = client.Lookup(context.Background(), "user-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, access.ErrRecordNotFound)
}

func TestClientCoalescesConcurrentLookups(t *testing.T) {
	issuer := newIssuer(t)
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"role":"admin"}`))
	}))
	t.Cleanup(srv.Close)
	client := authority.NewClient(srv.URL, issuer, nil)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := client.Lookup(context.Background(), "user-9")
			if err == nil {
				results[i] = rec.Role
			}
		}(i)
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, role := range results {
		assert.Equal(t, "admin", role)
	}
}

func TestClientFeedsResolverAsLastTier(t *testing.T) {
	issuer := newIssuer(t)
	srv := newAuthorityServer(t, issuer, mapSource{name: "admins", records: map[string]access.Record{
		"user-5": {Role: "admin"},
	}})
	empty := mapSource{name: "admins", records: map[string]access.Record{}}
	resolver := access.NewResolver(access.ResolverConfig{
		Sources: []access.Source{empty, authority.NewClient(srv.URL+"/internal/roles", issuer, nil)},
	})

	res := resolver.Resolve(context.Background(), "user-5")
	assert.Equal(t, access.RoleAdmin, res.Role)
	assert.Equal(t, authority.SourceName, res.Source)
}
