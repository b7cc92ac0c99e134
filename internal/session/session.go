// Package session owns the lifetime of the sync machinery for one
// signed-in user.
//
// A Session wires the pending queue, the reconciler and the unified
// view together. The reconciliation loop only runs between Start and
// Stop; signing out stops it so no timer outlives the session.
//
// UI intents go through the Session: a submitted recipe is validated,
// queued first, shown immediately as pending, and delivered in the
// background.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/reachability"
	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/syncer"
	"github.com/roach88/recetario/internal/view"
)

// Errors returned by Start.
var (
	ErrAlreadyStarted   = errors.New("session: already started")
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// NotificationBuffer is the capacity of the Notifications channel.
const NotificationBuffer = 64

// Service is the remote recipe service as used by a session.
type Service interface {
	syncer.RecipeService
	view.ServerSource
}

// Deps are the collaborators of a Session.
type Deps struct {
	Queue    *queue.Queue
	Service  Service
	Identity identity.Provider
	Network  reachability.Monitor
}

// Session ties the sync components to one user's signed-in lifetime.
//
// Thread-safety: All methods are safe for concurrent use.
type Session struct {
	queue    *queue.Queue
	identity identity.Provider
	network  reachability.Monitor
	rec      *syncer.Reconciler
	view     *view.View
	logger   *slog.Logger

	notes   chan syncer.Notification
	dropped int64

	mu         sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	unregister func()
}

// Option configures a Session.
type Option func(*options)

type options struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// WithInterval sets the reconciliation tick period.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source for notifications and refreshes.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a stopped Session.
func New(deps Deps, opts ...Option) *Session {
	o := options{
		interval: syncer.DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		queue:    deps.Queue,
		identity: deps.Identity,
		network:  deps.Network,
		logger:   o.logger.With("component", "session"),
		notes:    make(chan syncer.Notification, NotificationBuffer),
	}
	s.view = view.New(deps.Service, deps.Queue,
		view.WithLogger(o.logger),
		view.WithClock(o.now),
	)
	s.rec = syncer.New(deps.Queue, deps.Service, deps.Identity, deps.Network,
		syncer.WithInterval(o.interval),
		syncer.WithLogger(o.logger),
		syncer.WithClock(o.now),
		syncer.WithNotifier(syncer.NotifierFunc(s.notify)),
		syncer.WithOnCommitted(func(ctx context.Context, userID string) {
			s.view.Refresh(ctx, userID)
		}),
	)
	return s
}

// Start begins the reconciliation loop and performs the first refresh.
// It fails when the user is not signed in or the session is running.
func (s *Session) Start(ctx context.Context) error {
	id := s.identity.Current()
	if !id.Authenticated {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.unregister = s.queue.OnChange(func() {
		s.view.RefreshPending(runCtx)
		s.rec.Trigger()
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.rec.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("reconciler stopped", "error", err)
		}
	}()

	if sub, ok := s.network.(reachability.Subscriber); ok {
		changes, unsubscribe := sub.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.watchNetwork(runCtx, changes)
		}()
	}
	s.mu.Unlock()

	s.logger.Info("session started", "user_id", id.UserID)
	s.view.Refresh(runCtx, id.UserID)
	s.rec.Trigger()
	return nil
}

// watchNetwork requests a cycle whenever connectivity comes back.
func (s *Session) watchNetwork(ctx context.Context, changes <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case connected := <-changes:
			if connected {
				s.logger.Debug("network reachable, triggering sync")
				s.rec.Trigger()
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	unregister := s.unregister
	s.cancel = nil
	s.unregister = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	unregister()
	cancel()
	s.wg.Wait()
	s.logger.Info("session stopped")
}

// Running reports whether the loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// IdentityChanged reconciles the session with the current identity:
// starting on sign-in, stopping on sign-out, and refreshing the view.
func (s *Session) IdentityChanged(ctx context.Context) error {
	id := s.identity.Current()
	if !id.Authenticated {
		s.Stop()
		s.view.Refresh(ctx, "")
		return nil
	}
	if s.Running() {
		s.view.Refresh(ctx, id.UserID)
		return nil
	}
	if err := s.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		return err
	}
	return nil
}

// SubmitRecipe validates m, queues it and requests delivery. The queued
// entry is returned; it is visible in State immediately.
func (s *Session) SubmitRecipe(ctx context.Context, m recipe.Mutation) (recipe.Mutation, error) {
	if err := m.Validate(); err != nil {
		return recipe.Mutation{}, err
	}
	if m.UserID == "" {
		m.UserID = s.identity.Current().UserID
	}

	stored, err := s.queue.Enqueue(ctx, m)
	if err != nil {
		return recipe.Mutation{}, fmt.Errorf("submit recipe: %w", err)
	}
	s.afterLocalChange(ctx)
	return stored, nil
}

// EditPending replaces the queued entry named name.
func (s *Session) EditPending(ctx context.Context, name string, m recipe.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.queue.Update(ctx, name, m); err != nil {
		return fmt.Errorf("edit pending: %w", err)
	}
	s.afterLocalChange(ctx)
	return nil
}

// DiscardPending removes queued entries named name before delivery.
func (s *Session) DiscardPending(ctx context.Context, name string) error {
	if err := s.queue.Remove(ctx, name); err != nil {
		return fmt.Errorf("discard pending: %w", err)
	}
	s.afterLocalChange(ctx)
	return nil
}

// afterLocalChange makes a local edit visible when the loop is not
// running (the queue listener covers the running case).
func (s *Session) afterLocalChange(ctx context.Context) {
	if !s.Running() {
		s.view.RefreshPending(ctx)
	}
}

// Refresh reloads the unified view for the current user.
func (s *Session) Refresh(ctx context.Context) view.State {
	return s.view.Refresh(ctx, s.identity.Current().UserID)
}

// State returns the latest unified view.
func (s *Session) State() view.State {
	return s.view.Snapshot()
}

// Subscribe streams view updates.
func (s *Session) Subscribe() (<-chan view.State, func()) {
	return s.view.Subscribe()
}

// Notifications delivers one value per confirmed mutation. When the
// reader falls behind by more than NotificationBuffer, the oldest
// notifications are dropped.
func (s *Session) Notifications() <-chan syncer.Notification {
	return s.notes
}

func (s *Session) notify(n syncer.Notification) {
	for {
		select {
		case s.notes <- n:
			return
		default:
		}
		select {
		case <-s.notes:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// SyncNow runs one reconciliation cycle immediately, whether or not the
// loop is running.
func (s *Session) SyncNow(ctx context.Context) (syncer.Result, error) {
	return s.rec.Cycle(ctx)
}

// Stats aggregates component counters.
type Stats struct {
	Queue                queue.Stats  `json:"queue"`
	Sync                 syncer.Stats `json:"sync"`
	View                 view.Stats   `json:"view"`
	DroppedNotifications int64        `json:"droppedNotifications"`
}

// Stats returns the counters of every component.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	dropped := s.dropped
	s.mu.Unlock()
	return Stats{
		Queue:                s.queue.Stats(),
		Sync:                 s.rec.Stats(),
		View:                 s.view.Stats(),
		DroppedNotifications: dropped,
	}
}
