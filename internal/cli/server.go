package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/privtx/internal/api"
	"github.com/roach88/privtx/internal/config"
	"github.com/roach88/privtx/internal/node"
	"github.com/roach88/privtx/internal/publish"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 5 * time.Second

// NewServerCommand creates the server command.
func NewServerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a node",
		Long: `Start a node from its configuration file.

The node opens its SQLite database (creating it if it doesn't exist),
loads its key pairs and serves the client, peer and operational APIs
on server.address.

Example:
  privtx server --config ./privtx.yaml
  privtx server -c /etc/privtx/node1.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(rootOpts, cmd)
		},
	}

	return cmd
}

func runServer(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return newFormatter(opts, cmd).Fail("failed to load configuration", withCode(ErrCodeConfig, err))
	}

	var nodeOpts []node.Option
	if cfg.Server.CommunicationType == string(publish.Memory) {
		// A lone process has nobody to push to; keep the node usable for
		// local sends.
		nodeOpts = append(nodeOpts, node.WithNetwork(publish.NewNetwork()))
	}
	n, err := node.New(cfg, nodeOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start node", err)
	}
	defer func() {
		if closeErr := n.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	handler := api.NewServer(n.Transactions, n.Resend, api.Options{
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
	})

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	slog.Info("server starting", "address", ln.Addr().String(), "db", cfg.Database.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
