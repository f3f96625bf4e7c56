package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultResolveTimeout bounds a whole resolution chain.
const DefaultResolveTimeout = 5 * time.Second

// Names reported in Resolution.Source when no lookup source answered.
const (
	SourceRecovery = "recovery"
	SourceDefault  = "default"
	SourceTimeout  = "timeout"
)

// Source is one tier of the role lookup chain.
type Source interface {
	Name() string
	Lookup(ctx context.Context, principalID string) (Record, error)
}

// ResolutionObserver receives resolver telemetry.
type ResolutionObserver interface {
	ObserveLookup(source, outcome string)
	ObserveResolution(source string, elapsed time.Duration)
	ObserveDiscard()
}

// Lookup outcomes reported to ResolutionObserver.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// Resolution is the outcome of resolving one principal.
type Resolution struct {
	Role      Role
	Overrides *Overrides
	Source    string
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	// Sources are consulted in order; the first usable record wins.
	Sources  []Source
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer ResolutionObserver
}

// Resolver turns a principal id into a role within a bounded time.
type Resolver struct {
	sources  []Source
	timeout  time.Duration
	logger   *slog.Logger
	observer ResolutionObserver
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	sources := make([]Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src != nil {
			sources = append(sources, src)
		}
	}
	return &Resolver{sources: sources, timeout: timeout, logger: logger, observer: observer}
}

// ResolveRole returns only the role of Resolve.
func (r *Resolver) ResolveRole(ctx context.Context, principalID string) Role {
	return r.Resolve(ctx, principalID).Role
}

// Resolve never fails: misses, errors and the timeout all degrade to member.
func (r *Resolver) Resolve(ctx context.Context, principalID string) Resolution {
	start := time.Now()
	res := r.resolve(ctx, principalID)
	r.observer.ObserveResolution(res.Source, time.Since(start))
	return res
}

func (r *Resolver) resolve(ctx context.Context, principalID string) Resolution {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Resolution{Role: RoleMember, Source: SourceDefault}
	}
	if principalID == RecoveryPrincipalID() {
		return Resolution{Role: RoleSuperAdmin, Source: SourceRecovery}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered so an abandoned chain can still finish its send and exit.
	done := make(chan Resolution, 1)
	go func() {
		done <- r.runChain(ctx, principalID)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		r.logger.Warn("role resolution timed out",
			slog.String("principal_id", principalID),
			slog.Duration("timeout", r.timeout),
			slog.Any("error", ctx.Err()))
		return Resolution{Role: RoleMember, Source: SourceTimeout}
	}
}

func (r *Resolver) runChain(ctx context.Context, principalID string) Resolution {
	for _, src := range r.sources {
		if ctx.Err() != nil {
			break
		}
		record, err := r.lookup(ctx, src, principalID)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			r.observer.ObserveLookup(src.Name(), OutcomeMiss)
			r.logger.Debug("role lookup miss", slog.String("source", src.Name()), slog.String("principal_id", principalID))
			continue
		case err != nil:
			r.observer.ObserveLookup(src.Name(), OutcomeError)
			r.logger.Warn("role lookup failed", slog.String("source", src.Name()), slog.String("principal_id", principalID), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(record.Role) == "" {
			r.observer.ObserveLookup(src.Name(), OutcomeMiss)
			r.logger.Debug("role record without role", slog.String("source", src.Name()), slog.String("principal_id", principalID))
			continue
		}
		r.observer.ObserveLookup(src.Name(), OutcomeHit)
		role, ok := ParseRole(record.Role)
		if !ok {
			r.logger.Warn("unknown stored role, treating as member",
				slog.String("source", src.Name()),
				slog.String("principal_id", principalID),
				slog.String("role", record.Role))
			role = RoleMember
		}
		return Resolution{Role: role, Overrides: record.Permissions, Source: src.Name()}
	}
	return Resolution{Role: RoleMember, Source: SourceDefault}
}

func (r *Resolver) lookup(ctx context.Context, src Source, principalID string) (record Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("access: source %s panicked: %v", src.Name(), p)
		}
	}()
	return src.Lookup(ctx, principalID)
}

type noopObserver struct{}

func (noopObserver) ObserveLookup(string, string) {}

func (noopObserver) ObserveResolution(string, time.Duration) {}

func (noopObserver) ObserveDiscard() {}
