package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixperk/stompguard/pkg/client"
	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/policy"
)

const callTimeout = 5 * time.Second

// withClient dials the admin service for the duration of fn.
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := client.NewClient(opts.GRPCAddr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.GRPCAddr, err)
	}
	defer c.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, callTimeout)
	defer cancel()
	return fn(ctx, c)
}

// NewLocksCommand creates the locks command.
func NewLocksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "locks",
		Short:        "List held locks",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				report, err := c.ListLocks(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return writeLocks(cmd.OutOrStdout(), report)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Show per-resource contention",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				report, err := c.ContentionStats(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return writeContention(cmd.OutOrStdout(), report)
			})
		},
	}
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(opts *RootOptions) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show the resource class table",
		Long: `Show the resource class table.

By default the table is read from the running server. With --local the
table is built from the built-in defaults and --config instead, which
is how a policy file is checked before deploying it.

Examples:
  stompguard policy
  stompguard policy --local --config policy.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				cfg, err := policy.LoadConfig(opts.PolicyPath)
				if err != nil {
					return err
				}
				registry, err := policy.New(cfg)
				if err != nil {
					return err
				}
				report := introspect.Source{Registry: registry}.Policies()
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return writePolicies(cmd.OutOrStdout(), report)
			}

			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				report, err := c.Policies(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return writePolicies(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "render the local policy instead of asking the server")
	return cmd
}

// NewKeyCommand creates the key command.
func NewKeyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "key CLASS SCOPE",
		Short: "Resolve a resource to its lock key and current holder",
		Example: `  stompguard key db-single-writer rag
  stompguard key file-mutex /repo/src/main.go`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				view, err := c.ResolveKey(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				return writeKey(cmd.OutOrStdout(), view)
			})
		},
	}
}
