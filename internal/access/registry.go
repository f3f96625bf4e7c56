package access

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Context  context.Context
	Resolver RoleResolver
	Logger   *slog.Logger
	Observer ResolutionObserver
	// Size caps the number of live browser sessions kept in memory.
	Size int
	// TTL drops controllers of idle browser sessions; they re-resolve on the next request.
	TTL time.Duration
}

// Registry holds one Controller per browser session id.
type Registry struct {
	cfg ControllerConfig

	mu          sync.Mutex
	controllers *expirable.LRU[string, *Controller]
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	size := cfg.Size
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		cfg: ControllerConfig{
			Context:  cfg.Context,
			Resolver: cfg.Resolver,
			Logger:   logger,
			Observer: cfg.Observer,
		},
		controllers: expirable.NewLRU[string, *Controller](size, nil, ttl),
	}
}

// SignedIn handles an identity-provider sign-in for a browser session.
func (r *Registry) SignedIn(sessionID string, p Principal) <-chan struct{} {
	return r.controller(sessionID).SignIn(p)
}

// SignedOut handles a sign-out for a browser session.
func (r *Registry) SignedOut(sessionID string) {
	r.mu.Lock()
	c, ok := r.controllers.Peek(sessionID)
	if ok {
		r.controllers.Remove(sessionID)
	}
	r.mu.Unlock()
	if ok {
		c.SignOut()
	}
}

// Ensure returns the session state for p, starting a fresh resolution when this
// browser session has no controller for p yet (new process, evicted entry, account switch).
func (r *Registry) Ensure(sessionID string, p Principal) Session {
	c := r.controller(sessionID)
	snapshot := c.Snapshot()
	if snapshot.Principal == nil || snapshot.Principal.ID != p.ID {
		c.SignIn(p)
		snapshot = c.Snapshot()
	}
	return snapshot
}

// Snapshot returns the state of a browser session, signed out when unknown.
func (r *Registry) Snapshot(sessionID string) Session {
	r.mu.Lock()
	c, ok := r.controllers.Peek(sessionID)
	r.mu.Unlock()
	if !ok {
		return SignedOutSession()
	}
	return c.Snapshot()
}

// Len reports the number of tracked browser sessions.
func (r *Registry) Len() int {
	return r.controllers.Len()
}

func (r *Registry) controller(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers.Get(sessionID)
	if !ok {
		c = NewController(r.cfg)
	}
	// Re-adding refreshes the idle TTL.
	r.controllers.Add(sessionID, c)
	return c
}
