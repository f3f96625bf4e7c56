package access_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/access"
)

type stubSource struct {
	name    string
	records map[string]access.Record
	err     error
	delay   time.Duration
	panics  bool
	calls   atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Lookup(ctx context.Context, principalID string) (access.Record, error) {
	s.calls.Add(1)
	if s.panics {
		panic("broken source")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return access.Record{}, ctx.Err()
		}
	}
	if s.err != nil {
		return access.Record{}, s.err
	}
	record, ok := s.records[principalID]
	if !ok {
		return access.Record{}, access.ErrRecordNotFound
	}
	return record, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	lookups  []string
	sources  []string
	discards int
}

func (o *recordingObserver) ObserveLookup(source, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, source+":"+outcome)
}

func (o *recordingObserver) ObserveResolution(source string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, source)
}

func (o *recordingObserver) ObserveDiscard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discards++
}

func (o *recordingObserver) Discards() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discards
}

func TestResolveRecoveryIdentityWinsOverStore(t *testing.T) {
	primary := &stubSource{name: "primary", records: map[string]access.Record{
		access.RecoveryPrincipalID(): {Role: "member"},
	}}
	resolver := access.NewResolver(access.ResolverConfig{Sources: []access.Source{primary}})

	res := resolver.Resolve(context.Background(), access.RecoveryPrincipalID())
	assert.Equal(t, access.RoleSuperAdmin, res.Role)
	assert.Equal(t, access.SourceRecovery, res.Source)
	assert.Zero(t, primary.calls.Load())
}

func TestResolveRecoveryIdentityWithEmptyStore(t *testing.T) {
	resolver := access.NewResolver(access.ResolverConfig{})
	assert.Equal(t, access.RoleSuperAdmin, resolver.ResolveRole(context.Background(), "z3VKS1U11ETzBiPw5VtojR2Zmvd2"))
}

func TestResolveChainOrder(t *testing.T) {
	primary := &stubSource{name: "admins", records: map[string]access.Record{"user-42": {Role: "admin"}}}
	legacy := &stubSource{name: "admin_users", records: map[string]access.Record{
		"user-42": {Role: "superadmin"},
		"user-7":  {Role: "admin", Permissions: &access.Overrides{Modules: map[string]bool{"canDeleteEvents": true}}},
	}}
	remote := &stubSource{name: "authority", records: map[string]access.Record{"user-8": {Role: "admin"}}}
	observer := &recordingObserver{}
	resolver := access.NewResolver(access.ResolverConfig{Sources: []access.Source{primary, legacy, remote}, Observer: observer})

	res := resolver.Resolve(context.Background(), "user-42")
	assert.Equal(t, access.RoleAdmin, res.Role)
	assert.Equal(t, "admins", res.Source)
	assert.Zero(t, legacy.calls.Load())

	res = resolver.Resolve(context.Background(), "user-7")
	assert.Equal(t, access.RoleAdmin, res.Role)
	assert.Equal(t, "admin_users", res.Source)
	require.NotNil(t, res.Overrides)
	assert.True(t, res.Overrides.Modules["canDeleteEvents"])
	assert.Zero(t, remote.calls.Load())

	res = resolver.Resolve(context.Background(), "user-8")
	assert.Equal(t, access.RoleAdmin, res.Role)
	assert.Equal(t, "authority", res.Source)

	assert.Equal(t, []string{
		"admins:hit",
		"admins:miss", "admin_users:hit",
		"admins:miss", "admin_users:miss", "authority:hit",
	}, observer.lookups)
}

func TestResolveIsTotal(t *testing.T) {
	failing := &stubSource{name: "primary", err: errors.New("store unreachable")}
	panicking := &stubSource{name: "legacy", panics: true}
	empty := &stubSource{name: "authority", records: map[string]access.Record{"user-1": {Role: "  "}}}
	resolver := access.NewResolver(access.ResolverConfig{
		Sources: []access.Source{failing, panicking, nil, empty},
		Timeout: time.Second,
	})

	for _, id := range []string{"user-1", "user-2", "", "   "} {
		role := resolver.ResolveRole(context.Background(), id)
		assert.Equal(t, access.RoleMember, role, id)
	}
}

func TestResolveUnknownStoredRoleKeepsOverrides(t *testing.T) {
	primary := &stubSource{name: "primary", records: map[string]access.Record{
		"user-5": {Role: "editor", Permissions: &access.Overrides{Pages: map[string]bool{access.PageTeam: true}}},
	}}
	resolver := access.NewResolver(access.ResolverConfig{Sources: []access.Source{primary}})

	res := resolver.Resolve(context.Background(), "user-5")
	assert.Equal(t, access.RoleMember, res.Role)
	require.NotNil(t, res.Overrides)
	assert.True(t, res.Overrides.Pages[access.PageTeam])
}

func TestResolveTimeoutFallsBackToMember(t *testing.T) {
	primary := &stubSource{name: "primary"}
	legacy := &stubSource{name: "legacy"}
	remote := &stubSource{name: "authority", delay: time.Hour, records: map[string]access.Record{"user-99": {Role: "admin"}}}
	observer := &recordingObserver{}
	resolver := access.NewResolver(access.ResolverConfig{
		Sources:  []access.Source{primary, legacy, remote},
		Timeout:  50 * time.Millisecond,
		Observer: observer,
	})

	start := time.Now()
	res := resolver.Resolve(context.Background(), "user-99")
	elapsed := time.Since(start)

	assert.Equal(t, access.RoleMember, res.Role)
	assert.Equal(t, access.SourceTimeout, res.Source)
	assert.Less(t, elapsed, time.Second)

	set := access.BuildPermissions(res.Role, res.Overrides)
	s := &access.Session{Principal: &access.Principal{ID: "user-99"}, Role: res.Role, Permissions: set}
	assert.False(t, access.CanEnterAdminArea(s))
	for _, page := range access.AdminPages() {
		assert.False(t, access.CanAccessPage(s, page))
	}
	assert.False(t, access.CanPerform(s, "canEditEvents"))
}

func TestResolveRespectsCallerCancellation(t *testing.T) {
	slow := &stubSource{name: "primary", delay: time.Hour}
	resolver := access.NewResolver(access.ResolverConfig{Sources: []access.Source{slow}, Timeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, access.RoleMember, resolver.ResolveRole(ctx, "user-3"))
}
