package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recetario/internal/syncer"
	"github.com/roach88/recetario/internal/view"
)

// SyncSummary is the data of the sync command.
type SyncSummary struct {
	Skipped      syncer.SkipReason     `json:"skipped,omitempty"`
	Attempted    int                   `json:"attempted"`
	Delivered    []syncer.Notification `json:"delivered"`
	Failed       int                   `json:"failed"`
	DeadLettered []string              `json:"deadLettered"`
	Remaining    int                   `json:"remaining"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation cycle",
		Long: `Deliver every pending recipe once, in queue order. Confirmed entries
leave the queue; failed ones stay for the next cycle.

Nothing is sent while signed out or offline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	ident, tokens := a.identityProvider()
	client, err := a.client(tokens)
	if err != nil {
		return err
	}
	network, prober := a.network()
	if prober != nil {
		prober.Probe(ctx)
	}

	rec := syncer.New(a.queue, client, ident, network, syncer.WithLogger(a.logger))
	res, err := rec.Cycle(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("sync failed: %v", err), nil)
	}

	summary := SyncSummary{
		Skipped:      res.Skipped,
		Attempted:    res.Attempted,
		Delivered:    res.Delivered,
		Failed:       res.Failed,
		DeadLettered: []string{},
		Remaining:    len(a.queue.List(ctx)),
	}
	if summary.Delivered == nil {
		summary.Delivered = []syncer.Notification{}
	}
	for _, m := range res.Commit.DeadLettered {
		summary.DeadLettered = append(summary.DeadLettered, m.Name)
	}

	return out.Emit(summary, func(w io.Writer) {
		if summary.Skipped != syncer.SkipNone {
			fmt.Fprintf(w, "Nothing sent: %s\n", describeSkip(summary.Skipped))
			return
		}
		for _, n := range summary.Delivered {
			fmt.Fprintf(w, "✓ %s confirmed (%s)\n", n.Name, n.RecipeID)
		}
		for _, name := range summary.DeadLettered {
			fmt.Fprintf(w, "✗ %s gave up after repeated failures\n", name)
		}
		fmt.Fprintf(w, "Delivered %d, failed %d, %d still pending\n",
			len(summary.Delivered), summary.Failed, summary.Remaining)
	})
}

func describeSkip(reason syncer.SkipReason) string {
	switch reason {
	case syncer.SkipEmptyQueue:
		return "no pending recipes"
	case syncer.SkipUnauthenticated:
		return "not signed in"
	case syncer.SkipNoIdentity:
		return "signed in without a user id"
	case syncer.SkipOffline:
		return "recipe service unreachable"
	case syncer.SkipInFlight:
		return "another sync is running"
	}
	return string(reason)
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show confirmed and pending recipes together",
		Long: `Fetch the signed-in user's recipes from the service and list them with
the recipes still waiting in the local queue. When the service cannot be
reached only the pending recipes are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(rootOpts, cmd)
		},
	}
}

func runView(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ident, tokens := a.identityProvider()
	client, err := a.client(tokens)
	if err != nil {
		return err
	}

	v := view.New(client, a.queue, view.WithLogger(a.logger))
	state := v.Refresh(commandContext(cmd), ident.Current().UserID)

	return out.Emit(state, func(w io.Writer) {
		fmt.Fprintf(w, "Recipes (%d):\n", len(state.ServerRecipes))
		for _, r := range state.ServerRecipes {
			fmt.Fprintf(w, "  %s  %s\n", r.ID, r.Name)
		}
		fmt.Fprintf(w, "Pending (%d):\n", len(state.PendingRecipes))
		for _, m := range state.PendingRecipes {
			fmt.Fprintf(w, "  %s  %s (%s)\n", m.LocalID, m.Name, describeKind(m))
		}
		for _, name := range state.Duplicates {
			fmt.Fprintf(w, "! %q is both pending and confirmed\n", name)
		}
	})
}
