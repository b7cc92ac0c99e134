package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/reachability"
	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/syncer"
	"github.com/roach88/recetario/internal/testutil"
	"github.com/roach88/recetario/internal/view"
)

// Harness holds the components one scenario runs against.
type Harness struct {
	store    kvstore.Store
	queue    *queue.Queue
	service  *testutil.FakeService
	identity *identity.Static
	network  *reachability.Static
	view     *view.View
	rec      *syncer.Reconciler
	logger   *slog.Logger

	notified []string
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes component logs to l (default: discarded).
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory SQLite store, a fresh
// fake service, a deterministic clock and local ids "local-1", "local-2"...
// so repeated runs produce identical traces.
//
// The returned error reports harness failures (the store cannot be
// opened). Failed expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := kvstore.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario, o.logger)

	result := NewResult()
	for i := range scenario.Steps {
		h.executeStep(ctx, i, &scenario.Steps[i], result)
	}

	result.Final = h.finalState(ctx)
	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st kvstore.Store, scenario *Scenario, logger *slog.Logger) *Harness {
	clock := testutil.NewClock()

	maxAttempts := queue.DefaultMaxAttempts
	if scenario.MaxAttempts != nil {
		maxAttempts = *scenario.MaxAttempts
	}

	h := &Harness{
		store:    st,
		service:  testutil.NewFakeService(),
		identity: identity.NewStatic(scenario.User),
		network:  reachability.NewStatic(scenario.Online),
		logger:   logger,
	}
	h.queue = queue.New(st,
		queue.WithIDGenerator(queue.NewSequenceGenerator("local")),
		queue.WithClock(clock.Now),
		queue.WithMaxAttempts(maxAttempts),
		queue.WithLogger(logger),
	)
	h.view = view.New(h.service, h.queue,
		view.WithClock(clock.Now),
		view.WithLogger(logger),
	)
	h.rec = syncer.New(h.queue, h.service, h.identity, h.network,
		syncer.WithClock(clock.Now),
		syncer.WithLogger(logger),
		syncer.WithNotifier(syncer.NotifierFunc(func(n syncer.Notification) {
			h.notified = append(h.notified, n.Name)
		})),
		syncer.WithOnCommitted(func(ctx context.Context, userID string) {
			h.view.Refresh(ctx, userID)
		}),
	)

	for _, r := range scenario.Seed {
		h.service.Seed(recipe.Recipe{ID: r.ID, Payload: r.Payload, Status: recipe.StatusApproved})
	}
	return h
}

func (h *Harness) executeStep(ctx context.Context, i int, step *Step, result *Result) {
	ev, err := h.apply(ctx, step)

	var mismatch *expectationError
	if errors.As(err, &mismatch) {
		result.AddTrace(ev)
		result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, ev.Op, mismatch.msg))
		return
	}
	if err != nil {
		ev.Outcome = "error"
	}
	result.AddTrace(ev)

	switch {
	case err == nil && step.ExpectError != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", i, ev.Op, step.ExpectError))
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, ev.Op, err))
	case err != nil && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d] %s: error %q does not contain %q", i, ev.Op, err, step.ExpectError))
	}

	h.logger.Debug("scenario step completed", "step", i, "op", ev.Op, "outcome", ev.Outcome)
}

// expectationError reports a cycle whose outcome differs from the step.
type expectationError struct {
	msg string
}

func (e *expectationError) Error() string { return e.msg }

func (h *Harness) apply(ctx context.Context, step *Step) (TraceEvent, error) {
	switch {
	case step.Enqueue != nil:
		m := *step.Enqueue
		ev := TraceEvent{Op: "enqueue", Target: m.Name}
		if err := m.Validate(); err != nil {
			return ev, err
		}
		stored, err := h.queue.Enqueue(ctx, m)
		if err != nil {
			return ev, err
		}
		h.view.RefreshPending(ctx)
		ev.Outcome = stored.LocalID
		return ev, nil

	case step.Edit != nil:
		ev := TraceEvent{Op: "edit", Target: step.Edit.Name}
		m := step.Edit.Recipe
		if m.Name == "" {
			m.Name = step.Edit.Name
		}
		if err := m.Validate(); err != nil {
			return ev, err
		}
		if err := h.queue.Update(ctx, step.Edit.Name, m); err != nil {
			return ev, err
		}
		h.view.RefreshPending(ctx)
		return ev, nil

	case step.Discard != "":
		ev := TraceEvent{Op: "discard", Target: step.Discard}
		if err := h.queue.Remove(ctx, step.Discard); err != nil {
			return ev, err
		}
		h.view.RefreshPending(ctx)
		return ev, nil

	case step.Online != nil:
		h.network.SetConnected(*step.Online)
		return TraceEvent{Op: "online", Outcome: strconv.FormatBool(*step.Online)}, nil

	case step.SignIn != "":
		h.identity.Set(identity.Identity{UserID: step.SignIn, Authenticated: true})
		return TraceEvent{Op: "sign_in", Target: step.SignIn}, nil

	case step.SignOut:
		h.identity.SignOut()
		return TraceEvent{Op: "sign_out"}, nil

	case len(step.Reject) > 0:
		h.service.Reject(step.Reject...)
		return TraceEvent{Op: "reject", Names: step.Reject}, nil

	case len(step.Accept) > 0:
		h.service.Accept(step.Accept...)
		return TraceEvent{Op: "accept", Names: step.Accept}, nil

	case step.Cycle != nil:
		return h.cycle(ctx, step.Cycle)

	case step.Refresh:
		state := h.view.Refresh(ctx, h.identity.Current().UserID)
		return TraceEvent{
			Op:      "refresh",
			Outcome: fmt.Sprintf("server=%d pending=%d", len(state.ServerRecipes), len(state.PendingRecipes)),
		}, nil

	case step.Requeue != "":
		ev := TraceEvent{Op: "requeue", Target: step.Requeue}
		for _, m := range h.queue.DeadLetters(ctx) {
			if m.Name == step.Requeue {
				if err := h.queue.Requeue(ctx, m.LocalID); err != nil {
					return ev, err
				}
				h.view.RefreshPending(ctx)
				ev.Outcome = m.LocalID
				return ev, nil
			}
		}
		return ev, fmt.Errorf("requeue %q: %w", step.Requeue, queue.ErrNotFound)
	}
	return TraceEvent{Op: "unknown"}, fmt.Errorf("step has no action")
}

func (h *Harness) cycle(ctx context.Context, cs *CycleStep) (TraceEvent, error) {
	repeat := cs.Repeat
	if repeat == 0 {
		repeat = 1
	}

	var res syncer.Result
	for n := 0; n < repeat; n++ {
		var err error
		res, err = h.rec.Cycle(ctx)
		if err != nil {
			return TraceEvent{Op: "cycle", Outcome: string(res.Skipped)}, err
		}
	}

	ev := TraceEvent{Op: "cycle", Names: notificationNames(res.Delivered)}
	if res.Skipped != syncer.SkipNone {
		ev.Outcome = "skipped:" + string(res.Skipped)
	} else {
		ev.Outcome = fmt.Sprintf("delivered=%d failed=%d dead=%d",
			len(res.Delivered), res.Failed, len(res.Commit.DeadLettered))
	}

	var problems []string
	if cs.Skipped != "" && string(res.Skipped) != cs.Skipped {
		problems = append(problems, fmt.Sprintf("skipped %q, want %q", res.Skipped, cs.Skipped))
	}
	if cs.Delivered != nil && !sameNames(ev.Names, cs.Delivered) {
		problems = append(problems, fmt.Sprintf("delivered %v, want %v", ev.Names, cs.Delivered))
	}
	if cs.Failed != nil && res.Failed != *cs.Failed {
		problems = append(problems, fmt.Sprintf("failed %d, want %d", res.Failed, *cs.Failed))
	}
	if cs.DeadLettered != nil {
		dead := mutationNames(res.Commit.DeadLettered)
		if !sameNames(dead, cs.DeadLettered) {
			problems = append(problems, fmt.Sprintf("dead-lettered %v, want %v", dead, cs.DeadLettered))
		}
	}
	if len(problems) > 0 {
		return ev, &expectationError{msg: strings.Join(problems, "; ")}
	}
	return ev, nil
}

func (h *Harness) finalState(ctx context.Context) FinalState {
	state := h.view.Snapshot()

	final := FinalState{
		Queue:         entrySnapshots(h.queue.List(ctx)),
		DeadLetters:   entrySnapshots(h.queue.DeadLetters(ctx)),
		Server:        []RecipeSnapshot{},
		Notifications: append([]string{}, h.notified...),
		View: ViewSnapshot{
			Server:     []string{},
			Pending:    mutationNames(state.PendingRecipes),
			Duplicates: append([]string{}, state.Duplicates...),
			Loading:    state.IsLoading,
		},
	}
	for _, r := range h.service.Recipes() {
		final.Server = append(final.Server, RecipeSnapshot{ID: r.ID, Name: r.Name})
	}
	for _, r := range state.ServerRecipes {
		final.View.Server = append(final.View.Server, r.Name)
	}
	return final
}

func entrySnapshots(list []recipe.Mutation) []EntrySnapshot {
	out := make([]EntrySnapshot, 0, len(list))
	for _, m := range list {
		out = append(out, EntrySnapshot{
			LocalID:  m.LocalID,
			Name:     m.Name,
			IsUpdate: m.IsUpdate,
			Revision: m.Revision,
			Attempts: m.Attempts,
		})
	}
	return out
}

func mutationNames(list []recipe.Mutation) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.Name)
	}
	return out
}

func notificationNames(list []syncer.Notification) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Name)
	}
	return out
}
