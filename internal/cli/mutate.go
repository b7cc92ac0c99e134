package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recetario/internal/recipe"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Recipe   recipeFlags
	UpdateID string // server id of the recipe being edited
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a new recipe or an edit of a confirmed one",
		Long: `Validate a recipe and add it to the pending queue. It is delivered to
the recipe service by "recetario sync" or "recetario run".

Examples:
  recetario add --name Tarta -i "manzana:3" -i harina -s "Pelar" -s "Hornear"
  recetario add --file tarta.yaml
  recetario add --file flan.yaml --update 65f1c0ffee0123456789abcd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, cmd)
		},
	}

	opts.Recipe.register(cmd)
	cmd.Flags().StringVar(&opts.UpdateID, "update", "", "server id of the recipe this edits")
	return cmd
}

func runAdd(opts *AddOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	m, err := opts.Recipe.mutation(cmd)
	if err != nil {
		return err
	}
	if opts.UpdateID != "" {
		m.IsUpdate = true
		m.OriginalRecipeID = opts.UpdateID
	}
	if err := m.Validate(); err != nil {
		return failInvalid(out, err)
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.queue.Enqueue(commandContext(cmd), m)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("failed to queue %q: %v", m.Name, err), nil)
	}

	return out.Emit(stored, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %q as %s (%s)\n", stored.Name, stored.LocalID, describeKind(stored))
	})
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Recipe recipeFlags
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Replace a pending recipe before it is delivered",
		Long: `Replace the first pending entry with the given name. The entry keeps
its place in the queue and its failure count is reset.

Example:
  recetario edit Tarta --file tarta.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	opts.Recipe.register(cmd)
	return cmd
}

func runEdit(opts *EditOptions, name string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	m, err := opts.Recipe.mutation(cmd)
	if err != nil {
		return err
	}
	if m.Name == "" {
		m.Name = name
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	existing, ok := findPending(a.queue.List(ctx), name)
	if !ok {
		return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no pending recipe named %q", name), nil)
	}
	if !m.IsUpdate {
		m.IsUpdate = existing.IsUpdate
		m.OriginalRecipeID = existing.OriginalRecipeID
	}
	if err := m.Validate(); err != nil {
		return failInvalid(out, err)
	}

	if err := a.queue.Update(ctx, name, m); err != nil {
		return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("failed to update %q: %v", name, err), nil)
	}

	updated, err := a.queue.Get(ctx, existing.LocalID)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("failed to read back %q: %v", name, err), nil)
	}
	return out.Emit(updated, func(w io.Writer) {
		fmt.Fprintf(w, "Updated %q (%s, revision %d)\n", updated.Name, updated.LocalID, updated.Revision)
	})
}

func findPending(list []recipe.Mutation, name string) (recipe.Mutation, bool) {
	for _, m := range list {
		if m.Name == name {
			return m, true
		}
	}
	return recipe.Mutation{}, false
}

// RemoveOptions holds flags for the rm command.
type RemoveOptions struct {
	*RootOptions
	ByID bool
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Discard pending recipes",
		Long: `Discard every pending entry with the given name, or with --id the
single entry with that local id. Removing something not pending is not an error.

Examples:
  recetario rm Tarta
  recetario rm --id 01928f3e-7a4b-7c1d-9e2f-3a4b5c6d7e8f`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ByID, "id", false, "treat the argument as a local id")
	return cmd
}

func runRemove(opts *RemoveOptions, target string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	before := len(a.queue.List(ctx))
	if opts.ByID {
		err = a.queue.RemoveByID(ctx, target)
	} else {
		err = a.queue.Remove(ctx, target)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("failed to remove %q: %v", target, err), nil)
	}
	removed := before - len(a.queue.List(ctx))

	result := map[string]any{"target": target, "removed": removed}
	return out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d pending entr%s for %q\n", removed, plural(removed, "y", "ies"), target)
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
