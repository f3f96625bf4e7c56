package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/orgsite/orgsite/cmd/orgsite/cli"
	"github.com/orgsite/orgsite/internal/platform/db"
	"github.com/orgsite/orgsite/internal/shared"
)

// exitError carries a non-zero exit code from a subcommand.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return exitError{code: code}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()
			applied, err := db.Migrate(cmd.Context(), d.pool)
			if err != nil {
				return err
			}
			d.logger.Info("migrations applied", slog.Any("versions", applied))
			return nil
		},
	}
}

func newRolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage role records",
	}

	var grant cli.GrantOptions
	grantCmd := &cobra.Command{
		Use:   "grant <principal-id> <role>",
		Short: "Grant a role, optionally with page and module overrides",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRolesCLI(cmd, func(c *cli.RolesCLI) int {
				opts := grant
				opts.PrincipalID, opts.Role = args[0], args[1]
				opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
				return c.GrantCommand(cmd.Context(), opts)
			})
		},
	}
	grantCmd.Flags().StringVar(&grant.Partition, "partition", "", "partition to write (default: the current one)")
	grantCmd.Flags().StringSliceVar(&grant.Grants, "allow", nil, "pages or modules to allow, e.g. team,canEditTeam")
	grantCmd.Flags().StringSliceVar(&grant.Denies, "deny", nil, "pages or modules to deny")

	var revoke cli.RevokeOptions
	revokeCmd := &cobra.Command{
		Use:   "revoke <principal-id>",
		Short: "Remove a principal's role record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRolesCLI(cmd, func(c *cli.RolesCLI) int {
				opts := revoke
				opts.PrincipalID = args[0]
				opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
				return c.RevokeCommand(cmd.Context(), opts)
			})
		},
	}
	revokeCmd.Flags().StringVar(&revoke.Partition, "partition", "", "partition to delete from (default: the current one)")

	var lookup cli.LookupOptions
	lookupCmd := &cobra.Command{
		Use:   "lookup <principal-id>",
		Short: "Show stored records and the resolved role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRolesCLI(cmd, func(c *cli.RolesCLI) int {
				opts := lookup
				opts.PrincipalID = args[0]
				opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
				return c.LookupCommand(cmd.Context(), opts)
			})
		},
	}
	lookupCmd.Flags().BoolVar(&lookup.JSONOutput, "json", false, "print JSON")

	cmd.AddCommand(grantCmd, revokeCmd, lookupCmd)
	return cmd
}

func withRolesCLI(cmd *cobra.Command, run func(*cli.RolesCLI) int) error {
	d, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer d.close()
	parts, resolver, _, err := d.resolver(nil)
	if err != nil {
		return err
	}
	rolesCLI, err := cli.NewRolesCLI(parts, resolver)
	if err != nil {
		return err
	}
	rolesCLI.WithAudit(shared.NewAuditLogger(d.pool, d.logger), cliActor())
	return exitCode(run(rolesCLI))
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "trigger <task-type> [document-id]",
			Short: "Enqueue content:translate <id> or content:translate-sweep",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withJobsCLI(cmd, func(c *cli.JobsCLI) error {
					arg := ""
					if len(args) > 1 {
						arg = args[1]
					}
					info, err := c.Trigger(cmd.Context(), args[0], arg)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print default queue statistics as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJobsCLI(cmd, func(c *cli.JobsCLI) error {
					stats, err := c.InspectQueue(cmd.Context())
					if err != nil {
						return err
					}
					return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
				})
			},
		},
	)
	return cmd
}

func withJobsCLI(cmd *cobra.Command, run func(*cli.JobsCLI) error) error {
	d, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer d.close()
	jobsCLI, err := cli.NewJobsCLI(d.redisOpts())
	if err != nil {
		return err
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			d.logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	return run(jobsCLI)
}

// cliActor names the operator in audit entries written by the CLI.
func cliActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
