package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recetario/internal/session"
	"github.com/roach88/recetario/internal/syncer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// UntilEmpty stops the loop once the pending queue is empty.
	UntilEmpty bool
}

// RunSummary is the data of the run command.
type RunSummary struct {
	Delivered []syncer.Notification `json:"delivered"`
	Remaining int                   `json:"remaining"`
	Stats     session.Stats         `json:"stats"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep delivering pending recipes in the background",
		Long: `Start the reconciliation loop for the signed-in user. Pending recipes
are retried every sync.interval and as soon as the service becomes reachable
again. Stops on Ctrl-C, or with --until-empty once nothing is pending.

Examples:
  recetario run --user 64b7f0c2a1e4d3b2c1a09876
  recetario run --until-empty --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.UntilEmpty, "until-empty", false, "exit once the pending queue is empty")
	return cmd
}

func runLoop(opts *RunOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ident, tokens := a.identityProvider()
	client, err := a.client(tokens)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	network, prober := a.network()
	if prober != nil {
		prober.Probe(ctx)
		go prober.Run(ctx)
	}

	sess := session.New(session.Deps{
		Queue:    a.queue,
		Service:  client,
		Identity: ident,
		Network:  network,
	},
		session.WithInterval(a.cfg.Sync.Interval),
		session.WithLogger(a.logger),
	)

	states, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			return out.Fail(ExitCommandError, CodeStore, "not signed in: set --user, identity.user_id or identity.token", nil)
		}
		return WrapExitError(ExitCommandError, "failed to start sync", err)
	}
	defer sess.Stop()

	if !out.JSON() {
		fmt.Fprintf(out.Writer, "Syncing as %s every %s. Press Ctrl-C to stop.\n",
			ident.Current().UserID, a.cfg.Sync.Interval)
	}

	summary := RunSummary{Delivered: []syncer.Notification{}}
	record := func(n syncer.Notification) {
		summary.Delivered = append(summary.Delivered, n)
		if !out.JSON() {
			fmt.Fprintf(out.Writer, "✓ %s confirmed (%s)\n", n.Name, n.RecipeID)
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case n := <-sess.Notifications():
			record(n)
		case st := <-states:
			if opts.UntilEmpty && !st.IsLoading && len(st.PendingRecipes) == 0 {
				break loop
			}
		}
	}

	// Notifications are sent before the queue commit that empties it.
	for drained := false; !drained; {
		select {
		case n := <-sess.Notifications():
			record(n)
		default:
			drained = true
		}
	}

	sess.Stop()
	summary.Remaining = len(a.queue.List(commandContext(cmd)))
	summary.Stats = sess.Stats()

	return out.Emit(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Stopped: delivered %d, %d still pending\n", len(summary.Delivered), summary.Remaining)
	})
}
