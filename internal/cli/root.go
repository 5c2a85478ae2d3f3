// Package cli implements the stompguard command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	PolicyPath string
	DataDir    string
	GRPCAddr   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stompguard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stompguard",
		Short: "stompguard - keep agents from stomping on each other",
		Long:  "Lease-based resource locks, guarded writes and merge policies for agents sharing files, databases, graphs and docs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.PolicyPath, "config", "", "YAML policy overrides")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "./data", "directory for the index, graph store and docs")
	cmd.PersistentFlags().StringVar(&opts.GRPCAddr, "grpc-addr", "localhost:9000", "admin gRPC address")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLocksCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewKeyCommand(opts))

	return cmd
}

// Logger builds the process logger. Logs always go to stderr so stdout
// stays free for command output and the MCP stdio transport.
func (o *RootOptions) Logger() *slog.Logger {
	return newLogger(os.Stderr, o.Verbose)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
