package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/recipe"
)

// PendingList is the data of the pending and dead commands.
type PendingList struct {
	Entries []recipe.Mutation `json:"entries"`
	Stats   queue.Stats       `json:"stats"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List recipes waiting to be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			list := PendingList{
				Entries: a.queue.List(commandContext(cmd)),
				Stats:   a.queue.Stats(),
			}
			return out.Emit(list, func(w io.Writer) {
				writeEntries(w, list.Entries, "No pending recipes.")
			})
		},
	}
}

// NewDeadCommand creates the dead command and its requeue/purge children.
func NewDeadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List recipes that exhausted their delivery attempts",
		Long: `List dead-lettered recipes. An entry is dead-lettered after
sync.max_attempts consecutive failed deliveries (0 retries forever).

Examples:
  recetario dead
  recetario dead requeue 01928f3e-7a4b-7c1d-9e2f-3a4b5c6d7e8f
  recetario dead purge`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			list := PendingList{
				Entries: a.queue.DeadLetters(commandContext(cmd)),
				Stats:   a.queue.Stats(),
			}
			return out.Emit(list, func(w io.Writer) {
				writeEntries(w, list.Entries, "No dead-lettered recipes.")
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <local-id>",
		Short: "Move a dead-lettered recipe back to the pending queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			localID := args[0]
			if err := a.queue.Requeue(commandContext(cmd), localID); err != nil {
				if errors.Is(err, queue.ErrNotFound) {
					return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no dead-lettered recipe with id %s", localID), nil)
				}
				return out.Fail(ExitCommandError, CodeStore, err.Error(), nil)
			}
			return out.Emit(map[string]string{"requeued": localID}, func(w io.Writer) {
				fmt.Fprintf(w, "Requeued %s\n", localID)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Discard every dead-lettered recipe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			n := len(a.queue.DeadLetters(ctx))
			if err := a.queue.PurgeDeadLetters(ctx); err != nil {
				return out.Fail(ExitCommandError, CodeStore, err.Error(), nil)
			}
			return out.Emit(map[string]int{"purged": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Purged %d dead-lettered recipe%s\n", n, plural(n, "", "s"))
			})
		},
	})

	return cmd
}

func writeEntries(w io.Writer, entries []recipe.Mutation, empty string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, empty)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCAL ID\tNAME\tKIND\tATTEMPTS\tLAST ERROR")
	for _, m := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.LocalID, m.Name, describeKind(m), m.Attempts, m.LastError)
	}
	tw.Flush()
}
