package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recetario/internal/recipeapi"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory recipe service for local development",
		Long: `Serve the recipe REST API from memory. When identity.secret is set,
requests must carry an HS256 bearer token signed with it.

Example:
  recetario serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default serve.addr)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, opts.RootOptions)

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Serve.Addr
	}

	apiOpts := []recipeapi.Option{recipeapi.WithLogger(logger)}
	if cfg.Identity.Secret != "" {
		apiOpts = append(apiOpts, recipeapi.WithSecret([]byte(cfg.Identity.Secret)))
	}
	api := recipeapi.New(apiOpts...)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("recipe service listening", "addr", ln.Addr().String(), "auth", cfg.Identity.Secret != "")
	fmt.Fprintf(cmd.OutOrStdout(), "Recipe service listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "failed to shut down", err)
	}
	logger.Info("recipe service stopped")
	return nil
}
