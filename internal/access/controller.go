package access

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// RoleResolver resolves a principal id. Implementations must always return.
type RoleResolver interface {
	Resolve(ctx context.Context, principalID string) Resolution
}

// Lifecycle states of a Controller.
const (
	StateSignedOut = "signed_out"
	StateResolving = "resolving"
	StateResolved  = "resolved"
)

// Controller is the only writer of one browser session's authorization state.
//
// Every sign-in or sign-out bumps a generation counter. A resolution commits only
// when its captured generation and principal still match the current ones, so a
// late result from a superseded sign-in (or one that straddled a sign-out) is dropped.
type Controller struct {
	ctx      context.Context
	resolver RoleResolver
	logger   *slog.Logger
	observer ResolutionObserver

	mu         sync.Mutex
	state      Session
	generation uint64
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	// Context bounds background resolutions; it is typically the process lifetime.
	Context  context.Context
	Resolver RoleResolver
	Logger   *slog.Logger
	Observer ResolutionObserver
}

// NewController returns a controller in the signed-out state.
func NewController(cfg ControllerConfig) *Controller {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Controller{
		ctx:      ctx,
		resolver: cfg.Resolver,
		logger:   logger,
		observer: observer,
		state:    SignedOutSession(),
	}
}

// SignIn moves the controller to resolving for p and starts a resolution in the
// background. The returned channel closes once that attempt has been committed or discarded.
func (c *Controller) SignIn(p Principal) <-chan struct{} {
	principal := p

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = Session{
		Principal:   &principal,
		Role:        RoleUnresolved,
		Permissions: BuildPermissions(RoleUnresolved, nil),
		Resolving:   true,
	}
	c.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		defer close(settled)
		var res Resolution
		if c.resolver == nil {
			res = Resolution{Role: RoleMember, Source: SourceDefault}
		} else {
			res = c.resolver.Resolve(c.ctx, principal.ID)
		}
		c.commit(gen, principal.ID, res)
	}()
	return settled
}

// SignOut resets to the signed-out state. Any resolution still in flight is discarded on arrival.
func (c *Controller) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state = SignedOutSession()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.state
	if c.state.Principal != nil {
		principal := *c.state.Principal
		snapshot.Principal = &principal
	}
	return snapshot
}

// State reports the lifecycle state name.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Principal == nil:
		return StateSignedOut
	case c.state.Resolving:
		return StateResolving
	default:
		return StateResolved
	}
}

func (c *Controller) commit(gen uint64, principalID string, res Resolution) bool {
	role := res.Role
	if _, ok := ParseRole(string(role)); !ok {
		role = RoleMember
	}
	permissions := BuildPermissions(role, res.Overrides)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state.Principal == nil || c.state.Principal.ID != principalID {
		c.observer.ObserveDiscard()
		c.logger.Debug("discarding stale role resolution",
			slog.String("principal_id", principalID),
			slog.String("role", role.String()),
			slog.Uint64("generation", gen),
			slog.Uint64("current_generation", c.generation))
		return false
	}
	c.state.Role = role
	c.state.Permissions = permissions
	c.state.Resolving = false
	c.logger.Info("role resolved",
		slog.String("principal_id", principalID),
		slog.String("role", role.String()),
		slog.String("source", res.Source))
	return true
}
