package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/recetario/internal/config"
	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/reachability"
	"github.com/roach88/recetario/internal/remote"
)

// app is the wiring shared by commands: configuration, logger, store
// and the pending queue built on it.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  kvstore.Store
	queue  *queue.Queue
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	if opts.StoreDriver != "" {
		cfg.Store.Driver = opts.StoreDriver
	}
	if opts.DB != "" {
		cfg.Store.Path = opts.DB
	}
	if opts.ServiceURL != "" {
		cfg.Service.BaseURL = opts.ServiceURL
	}
	if opts.UserID != "" {
		cfg.Identity.UserID = opts.UserID
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger creates the text logger on the command's stderr, at debug
// level when --verbose is set.
func newLogger(cmd *cobra.Command, opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp loads configuration and opens the store and queue.
// Callers must Close the returned app.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, opts)

	logger.Debug("opening store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	st, err := kvstore.Open(commandContext(cmd), cfg.KVStore())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	q := queue.New(st,
		queue.WithMaxAttempts(cfg.Sync.MaxAttempts),
		queue.WithLogger(logger),
	)
	return &app{cfg: cfg, logger: logger, store: st, queue: q}, nil
}

// Close releases the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing store", "error", err)
	}
}

// identityProvider returns the configured identity provider and, for token
// sign-in, the bearer token source for the service client.
func (a *app) identityProvider() (identity.Provider, remote.TokenSource) {
	if a.cfg.Identity.Token == "" {
		return identity.NewStatic(a.cfg.Identity.UserID), nil
	}

	tokenOpts := []identity.TokenOption{identity.WithLogger(a.logger)}
	if a.cfg.Identity.Secret != "" {
		tokenOpts = append(tokenOpts, identity.WithKey([]byte(a.cfg.Identity.Secret)))
	}
	p := identity.NewTokenProvider(a.cfg.Identity.Token, tokenOpts...)
	return p, p
}

// client builds the recipe service client.
func (a *app) client(tokens remote.TokenSource) (*remote.Client, error) {
	clientOpts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: a.cfg.Service.Timeout}),
		remote.WithLogger(a.logger),
	}
	if a.cfg.Service.RateLimit > 0 {
		clientOpts = append(clientOpts, remote.WithRateLimit(rate.Limit(a.cfg.Service.RateLimit), a.cfg.Service.Burst))
	}
	if tokens != nil {
		clientOpts = append(clientOpts, remote.WithTokenSource(tokens))
	}

	c, err := remote.NewClient(a.cfg.Service.BaseURL, clientOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid service url", err)
	}
	return c, nil
}

// network returns the reachability monitor. When probing is enabled the
// prober is returned as well so the caller can drive it.
func (a *app) network() (reachability.Monitor, *reachability.Prober) {
	if a.cfg.Reachability.Disabled {
		return reachability.NewStatic(true), nil
	}
	target := a.cfg.Reachability.ProbeURL
	if target == "" {
		target = a.cfg.Service.BaseURL
	}
	p := reachability.NewProber(target,
		reachability.WithInterval(a.cfg.Reachability.Interval),
		reachability.WithLogger(a.logger),
	)
	return p, p
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// signalContext derives a context cancelled on SIGINT/SIGTERM or when
// the command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
