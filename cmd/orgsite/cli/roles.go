package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/rolestore"
	"github.com/orgsite/orgsite/internal/shared"
)

// Exit codes shared by the role commands.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitFailure  = 2
	ExitNotFound = 10
)

// RolesCLI grants, revokes and inspects role records.
type RolesCLI struct {
	partitions map[string]rolestore.Partition
	order      []string
	resolver   access.RoleResolver
	audit      Auditor
	actor      string
}

// Auditor records role changes.
type Auditor interface {
	RecordQuietly(ctx context.Context, entry shared.AuditLog)
}

// NewRolesCLI constructs the helper. resolver is used by Lookup to show the
// role the site would settle on.
func NewRolesCLI(partitions []rolestore.Partition, resolver access.RoleResolver) (*RolesCLI, error) {
	if len(partitions) == 0 {
		return nil, errors.New("roles cli: no partitions configured")
	}
	c := &RolesCLI{partitions: map[string]rolestore.Partition{}, resolver: resolver}
	for _, p := range partitions {
		c.partitions[p.Name()] = p
		c.order = append(c.order, p.Name())
	}
	return c, nil
}

// WithAudit records grants and revokes under actor.
func (c *RolesCLI) WithAudit(a Auditor, actor string) *RolesCLI {
	c.audit = a
	c.actor = actor
	return c
}

func (c *RolesCLI) record(ctx context.Context, action, partition, principalID string, meta map[string]any) {
	if c.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["partition"] = partition
	c.audit.RecordQuietly(ctx, shared.AuditLog{
		ActorID:  c.actor,
		Action:   action,
		Entity:   "role_record",
		EntityID: principalID,
		Meta:     meta,
	})
}

// GrantOptions configures a grant.
type GrantOptions struct {
	Partition   string
	PrincipalID string
	Role        string
	// Grants and Denies hold page or module names, e.g. "team" or "canDeleteEvents".
	Grants []string
	Denies []string
	Stdout io.Writer
	Stderr io.Writer
}

// RevokeOptions configures a revoke.
type RevokeOptions struct {
	Partition   string
	PrincipalID string
	Stdout      io.Writer
	Stderr      io.Writer
}

// LookupOptions configures a lookup.
type LookupOptions struct {
	PrincipalID string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// LookupSummary is the JSON form of a lookup.
type LookupSummary struct {
	PrincipalID string                    `json:"principal_id"`
	Role        string                    `json:"role"`
	Source      string                    `json:"source"`
	Records     map[string]*access.Record `json:"records"`
	Pages       []string                  `json:"pages"`
	Modules     []string                  `json:"modules"`
}

// GrantCommand writes a role record into a partition.
func (c *RolesCLI) GrantCommand(ctx context.Context, opts GrantOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	part, ok := c.partition(opts.Partition)
	if !ok {
		fmt.Fprintf(stderr, "unknown partition %q (configured: %s)\n", opts.Partition, strings.Join(c.order, ", "))
		return ExitUsage
	}
	principalID := strings.TrimSpace(opts.PrincipalID)
	if principalID == "" {
		fmt.Fprintln(stderr, "principal id is required")
		return ExitUsage
	}
	role, ok := access.ParseRole(opts.Role)
	if !ok {
		fmt.Fprintf(stderr, "invalid role %q (want superadmin, admin or member)\n", opts.Role)
		return ExitUsage
	}
	overrides, err := buildOverrides(opts.Grants, opts.Denies)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	if err := part.Put(ctx, principalID, access.Record{Role: string(role), Permissions: overrides}); err != nil {
		fmt.Fprintf(stderr, "grant failed: %v\n", err)
		return ExitFailure
	}
	c.record(ctx, shared.AuditRoleGranted, part.Name(), principalID, map[string]any{"role": string(role)})
	fmt.Fprintf(stdout, "granted %s to %s in %s\n", role, principalID, part.Name())
	return ExitOK
}

// RevokeCommand removes a principal's record from a partition.
func (c *RolesCLI) RevokeCommand(ctx context.Context, opts RevokeOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	part, ok := c.partition(opts.Partition)
	if !ok {
		fmt.Fprintf(stderr, "unknown partition %q (configured: %s)\n", opts.Partition, strings.Join(c.order, ", "))
		return ExitUsage
	}
	err := part.Delete(ctx, strings.TrimSpace(opts.PrincipalID))
	switch {
	case errors.Is(err, access.ErrRecordNotFound):
		fmt.Fprintf(stderr, "no record for %s in %s\n", opts.PrincipalID, part.Name())
		return ExitNotFound
	case err != nil:
		fmt.Fprintf(stderr, "revoke failed: %v\n", err)
		return ExitFailure
	}
	c.record(ctx, shared.AuditRoleRevoked, part.Name(), strings.TrimSpace(opts.PrincipalID), nil)
	fmt.Fprintf(stdout, "revoked %s from %s\n", opts.PrincipalID, part.Name())
	return ExitOK
}

// LookupCommand prints every stored record for a principal and the role the
// resolver settles on.
func (c *RolesCLI) LookupCommand(ctx context.Context, opts LookupOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	principalID := strings.TrimSpace(opts.PrincipalID)
	if principalID == "" {
		fmt.Fprintln(stderr, "principal id is required")
		return ExitUsage
	}
	summary := LookupSummary{PrincipalID: principalID, Records: map[string]*access.Record{}}
	for _, name := range c.order {
		record, err := c.partitions[name].Lookup(ctx, principalID)
		switch {
		case errors.Is(err, access.ErrRecordNotFound):
			summary.Records[name] = nil
		case err != nil:
			fmt.Fprintf(stderr, "lookup %s: %v\n", name, err)
			return ExitFailure
		default:
			rec := record
			summary.Records[name] = &rec
		}
	}
	if c.resolver != nil {
		res := c.resolver.Resolve(ctx, principalID)
		summary.Role = res.Role.String()
		summary.Source = res.Source
		perms := access.BuildPermissions(res.Role, res.Overrides)
		summary.Pages = granted(perms.Pages, access.GrantablePages(), perms.Universal())
		summary.Modules = granted(perms.Modules, nil, perms.Universal())
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return ExitFailure
		}
	} else {
		renderLookupHuman(stdout, c.order, summary)
	}
	for _, rec := range summary.Records {
		if rec != nil {
			return ExitOK
		}
	}
	return ExitNotFound
}

func (c *RolesCLI) partition(name string) (rolestore.Partition, bool) {
	if name == "" {
		name = c.order[0]
	}
	p, ok := c.partitions[name]
	return p, ok
}

func buildOverrides(grants, denies []string) (*access.Overrides, error) {
	if len(grants) == 0 && len(denies) == 0 {
		return nil, nil
	}
	out := &access.Overrides{Pages: map[string]bool{}, Modules: map[string]bool{}}
	pages := map[string]bool{}
	for _, p := range access.GrantablePages() {
		pages[p] = true
	}
	set := func(names []string, value bool) error {
		for _, name := range names {
			name = strings.TrimSpace(name)
			switch {
			case name == "":
			case pages[name]:
				out.Pages[name] = value
			case strings.HasPrefix(name, "can"):
				out.Modules[name] = value
			default:
				return fmt.Errorf("unknown page or module %q", name)
			}
		}
		return nil
	}
	if err := set(grants, true); err != nil {
		return nil, err
	}
	if err := set(denies, false); err != nil {
		return nil, err
	}
	return out, nil
}

func granted(flags map[string]bool, all []string, universal bool) []string {
	if universal {
		if all == nil {
			return []string{"*"}
		}
		return append([]string(nil), all...)
	}
	var out []string
	for name, ok := range flags {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func renderLookupHuman(w io.Writer, order []string, s LookupSummary) {
	fmt.Fprintf(w, "principal: %s\n", s.PrincipalID)
	for _, name := range order {
		rec := s.Records[name]
		if rec == nil {
			fmt.Fprintf(w, "  %-12s -\n", name)
			continue
		}
		fmt.Fprintf(w, "  %-12s %s\n", name, rec.Role)
	}
	if s.Role != "" {
		fmt.Fprintf(w, "resolved: %s (via %s)\n", s.Role, s.Source)
		fmt.Fprintf(w, "pages: %s\n", strings.Join(s.Pages, ", "))
	}
}

func streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
