package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/reachability"
	"github.com/roach88/recetario/internal/recipe"
)

// DefaultInterval is the tick period of Run.
const DefaultInterval = 3 * time.Second

// PendingQueue is the part of queue.Queue the reconciler uses.
type PendingQueue interface {
	List(ctx context.Context) []recipe.Mutation
	Commit(ctx context.Context, attempts []queue.Attempt) (queue.CommitResult, error)
}

// RecipeService is the remote side of delivery.
type RecipeService interface {
	Create(ctx context.Context, p recipe.Payload) (recipe.Recipe, error)
	Update(ctx context.Context, id string, p recipe.Payload) error
}

// Notification announces one confirmed mutation.
type Notification struct {
	LocalID  string    `json:"localId"`
	Name     string    `json:"name"`
	RecipeID string    `json:"recipeId,omitempty"`
	IsUpdate bool      `json:"isUpdate"`
	At       time.Time `json:"at"`
}

// Notifier receives success notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Result summarizes one cycle.
type Result struct {
	Skipped   SkipReason
	Attempted int
	Delivered []Notification
	Failed    int
	Commit    queue.CommitResult
}

// Reconciler drains the pending queue against the recipe service.
//
// Thread-safety: Cycle, Trigger and Stats are safe from any goroutine.
// Run must be called from at most one goroutine at a time.
type Reconciler struct {
	queue    PendingQueue
	service  RecipeService
	identity identity.Provider
	network  reachability.Monitor

	interval    time.Duration
	notifier    Notifier
	onCommitted func(ctx context.Context, userID string)
	logger      *slog.Logger
	now         func() time.Time

	running atomic.Bool
	trigger chan struct{} // buffered, size 1

	stats stats
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval sets the tick period of Run (default 3s).
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithNotifier sets the success notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithOnCommitted registers a hook called after a cycle that removed
// entries from the queue, typically to refresh the unified view.
func WithOnCommitted(fn func(ctx context.Context, userID string)) Option {
	return func(r *Reconciler) { r.onCommitted = fn }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock overrides the time source for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(
	q PendingQueue,
	svc RecipeService,
	ident identity.Provider,
	network reachability.Monitor,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		queue:    q,
		service:  svc,
		identity: ident,
		network:  network,
		interval: DefaultInterval,
		notifier: NotifierFunc(func(Notification) {}),
		logger:   slog.Default(),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stats.skipped = make(map[SkipReason]int64)
	return r
}

// Trigger requests a cycle as soon as Run is idle. Multiple triggers
// before the cycle starts coalesce into one.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run executes a cycle every interval and on Trigger until ctx is
// cancelled. Cycle errors are logged and the loop continues; the next
// tick retries.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler starting", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
		}

		if _, err := r.Cycle(ctx); err != nil {
			if errors.Is(err, ErrCycleInProgress) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("reconciliation cycle failed", "error", err)
		}
	}
}

// Cycle performs one reconciliation pass.
//
// When another cycle is running it returns ErrCycleInProgress with
// Result.Skipped set to SkipInFlight and touches nothing. When the
// session is ineligible it returns a Result naming the reason and a nil
// error.
func (r *Reconciler) Cycle(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.stats.skip(SkipInFlight)
		return Result{Skipped: SkipInFlight}, ErrCycleInProgress
	}
	defer r.running.Store(false)

	r.stats.cycle()

	list := r.queue.List(ctx)
	if len(list) == 0 {
		return r.skip(SkipEmptyQueue), nil
	}
	id := r.identity.Current()
	if !id.Authenticated {
		return r.skip(SkipUnauthenticated), nil
	}
	if id.UserID == "" {
		return r.skip(SkipNoIdentity), nil
	}
	if !r.network.Connected() {
		return r.skip(SkipOffline), nil
	}

	var result Result
	attempts := make([]queue.Attempt, 0, len(list))

	for _, m := range list {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++

		recipeID, err := r.deliver(ctx, m, id.UserID)
		if err != nil && ctx.Err() != nil {
			// Interrupted, not rejected: leave the entry as it was.
			r.logger.Debug("delivery interrupted", "name", m.Name, "local_id", m.LocalID)
			break
		}
		attempts = append(attempts, queue.Attempt{
			LocalID:  m.LocalID,
			Revision: m.Revision,
			Err:      err,
			RecipeID: recipeID,
			At:       r.now(),
		})

		if err != nil {
			result.Failed++
			r.stats.failed.Add(1)
			r.logger.Debug("delivery failed, will retry",
				"name", m.Name,
				"local_id", m.LocalID,
				"attempts", m.Attempts+1,
				"error", err,
			)
			continue
		}

		n := Notification{
			LocalID:  m.LocalID,
			Name:     m.Name,
			RecipeID: recipeID,
			IsUpdate: m.TargetsExisting(),
			At:       r.now(),
		}
		result.Delivered = append(result.Delivered, n)
		r.stats.delivered.Add(1)
		r.logger.Info("mutation delivered", "name", m.Name, "local_id", m.LocalID, "recipe_id", recipeID)
		r.notifier.Notify(n)
	}

	if len(attempts) == 0 {
		return result, nil
	}

	// Confirmed deliveries must reach the queue even if the caller is
	// shutting down, or they would be sent again.
	commit, err := r.queue.Commit(context.WithoutCancel(ctx), attempts)
	if err != nil {
		return result, fmt.Errorf("commit %d outcomes: %w", len(attempts), err)
	}
	result.Commit = commit
	r.stats.deadLettered.Add(int64(len(commit.DeadLettered)))

	if commit.Shrank() && r.onCommitted != nil {
		r.onCommitted(context.WithoutCancel(ctx), id.UserID)
	}
	return result, nil
}

// deliver sends one mutation and returns the server id of the recipe.
func (r *Reconciler) deliver(ctx context.Context, m recipe.Mutation, userID string) (string, error) {
	p := m.Payload
	if p.UserID == "" {
		p.UserID = userID
	}

	if m.TargetsExisting() {
		if err := r.service.Update(ctx, m.OriginalRecipeID, p); err != nil {
			return "", fmt.Errorf("update %s: %w", m.OriginalRecipeID, err)
		}
		return m.OriginalRecipeID, nil
	}

	created, err := r.service.Create(ctx, p)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", p.Name, err)
	}
	return created.ID, nil
}

func (r *Reconciler) skip(reason SkipReason) Result {
	r.stats.skip(reason)
	r.logger.Debug("reconciliation skipped", "reason", reason)
	return Result{Skipped: reason}
}

// Stats is a snapshot of the reconciler counters.
type Stats struct {
	Cycles       int64                `json:"cycles"`
	Skipped      map[SkipReason]int64 `json:"skipped"`
	Delivered    int64                `json:"delivered"`
	Failed       int64                `json:"failed"`
	DeadLettered int64                `json:"deadLettered"`
}

// Stats returns the counters accumulated since New.
func (r *Reconciler) Stats() Stats {
	return r.stats.snapshot()
}

type stats struct {
	mu      sync.Mutex
	cycles  int64
	skipped map[SkipReason]int64

	delivered    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
}

func (s *stats) cycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
}

func (s *stats) skip(reason SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[reason]++
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	skipped := make(map[SkipReason]int64, len(s.skipped))
	for k, v := range s.skipped {
		skipped[k] = v
	}
	cycles := s.cycles
	s.mu.Unlock()

	return Stats{
		Cycles:       cycles,
		Skipped:      skipped,
		Delivered:    s.delivered.Load(),
		Failed:       s.failed.Load(),
		DeadLettered: s.deadLettered.Load(),
	}
}
