package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pixperk/stompguard/pkg/gateway"
	"github.com/pixperk/stompguard/pkg/mcptools"
	"github.com/pixperk/stompguard/pkg/server"
	"github.com/pixperk/stompguard/pkg/workspace"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	HTTPAddr     string
	Stdio        bool
	KeepAlive    bool
	ReapInterval time.Duration
	PollInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator with its admin surfaces",
		Long: `Open the workspace and serve it.

The admin gRPC service listens on --grpc-addr, the HTTP gateway with
/metrics and the JSON views on --http-addr. With --stdio the MCP tools
are also served on stdin/stdout.

Examples:
  stompguard serve --data-dir ./data
  stompguard serve --config policy.yaml --http-addr :8080 --stdio`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", ":8080", "HTTP gateway address")
	cmd.Flags().BoolVar(&opts.Stdio, "stdio", false, "serve MCP tools over stdio")
	cmd.Flags().BoolVar(&opts.KeepAlive, "keepalive", false, "renew leases while guarded operations run")
	cmd.Flags().DurationVar(&opts.ReapInterval, "reap-interval", time.Second, "how often expired leases are swept")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 10*time.Millisecond, "lock acquisition poll interval")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := opts.Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ws, err := workspace.Open(workspace.Config{
		PolicyPath:   opts.PolicyPath,
		DataDir:      opts.DataDir,
		PollInterval: opts.PollInterval,
		ReapInterval: opts.ReapInterval,
		KeepAlive:    opts.KeepAlive,
		Registerer:   reg,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer ws.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws.Start(ctx)

	listener, err := net.Listen("tcp", opts.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.GRPCAddr, err)
	}
	grpcServer := server.NewGRPCServer(server.NewServer(ws.Source()), logger)

	errCh := make(chan error, 3)
	go func() {
		logger.Info("admin gRPC listening", slog.String("addr", opts.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	gw := gateway.NewServer(opts.HTTPAddr, ws.Source(), reg, logger)
	go func() {
		logger.Info("HTTP gateway listening", slog.String("addr", opts.HTTPAddr))
		if err := gw.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	if opts.Stdio {
		go func() {
			logger.Info("MCP tools on stdio")
			if err := mcpserver.ServeStdio(mcptools.NewServer(ws.Source())); err != nil {
				errCh <- fmt.Errorf("mcp stdio: %w", err)
				return
			}
			// stdin closed: the client is gone
			stop()
		}()
	}

	logger.Info("stompguard ready", slog.String("data_dir", opts.DataDir))

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if stopErr := gw.Stop(shutdownCtx); stopErr != nil && !errors.Is(stopErr, context.DeadlineExceeded) {
		logger.Warn("gateway shutdown", slog.String("error", stopErr.Error()))
	}

	if err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
	}
	return err
}
