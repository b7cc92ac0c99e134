// Package view merges confirmed server recipes and locally pending
// mutations into one state for display.
//
// A refresh publishes a loading state that keeps the previous data,
// reads both sources concurrently and then swaps in the complete result
// in one step. Readers never see a half-updated state. When refreshes
// overlap, only the most recently started one may publish. A pending-only
// refresh never cancels a full one; the full refresh adopts the newer
// pending list when it completes.
package view

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/recetario/internal/recipe"
)

// ServerSource lists the confirmed recipes of a user.
type ServerSource interface {
	ListByUser(ctx context.Context, userID string) ([]recipe.Recipe, error)
}

// PendingSource lists the locally pending mutations.
type PendingSource interface {
	List(ctx context.Context) []recipe.Mutation
}

// State is the unified recipe state.
type State struct {
	ServerRecipes  []recipe.Recipe   `json:"serverRecipes"`
	PendingRecipes []recipe.Mutation `json:"pendingRecipes"`
	IsLoading      bool              `json:"isLoading"`

	// Duplicates lists pending names that also appear among the server
	// recipes. Neither list is altered.
	Duplicates  []string  `json:"duplicates,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// View holds the current State and publishes changes to subscribers.
//
// Thread-safety: All methods are safe for concurrent use.
type View struct {
	server  ServerSource
	pending PendingSource
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64 // full refreshes
	pendingGen uint64 // pending-only refreshes
	subs       map[int]chan State
	nextSub    int

	refreshes      atomic.Int64
	discarded      atomic.Int64
	serverFailures atomic.Int64
}

// Option configures a View.
type Option func(*View)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithClock overrides the time source for RefreshedAt.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// New creates a View with empty lists.
func New(server ServerSource, pending PendingSource, opts ...Option) *View {
	v := &View{
		server:  server,
		pending: pending,
		logger:  slog.Default(),
		now:     time.Now,
		state: State{
			ServerRecipes:  []recipe.Recipe{},
			PendingRecipes: []recipe.Mutation{},
		},
		subs: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Snapshot returns the current state.
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Subscribe returns a channel that receives every published state. A slow
// subscriber only ever sees the newest one. The returned func unsubscribes.
func (v *View) Subscribe() (<-chan State, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextSub
	v.nextSub++
	ch := make(chan State, 1)
	v.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
		})
	}
}

// Refresh reloads both lists and publishes the merged state. A server
// failure yields an empty server list; pending entries are always shown.
// An empty userID skips the server fetch.
//
// If a newer Refresh started meanwhile, this call's result is dropped
// and the current state is returned instead.
func (v *View) Refresh(ctx context.Context, userID string) State {
	v.mu.Lock()
	v.generation++
	gen := v.generation
	pendingGen := v.pendingGen
	v.state.IsLoading = true
	v.publishLocked()
	v.mu.Unlock()

	v.refreshes.Add(1)

	var (
		g       errgroup.Group
		server  []recipe.Recipe
		pending []recipe.Mutation
	)
	g.Go(func() error {
		server = v.fetchServer(ctx, userID)
		return nil
	})
	g.Go(func() error {
		pending = v.listPending(ctx)
		return nil
	})
	_ = g.Wait()

	if server == nil {
		server = []recipe.Recipe{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.generation {
		v.discarded.Add(1)
		v.logger.Debug("stale refresh discarded", "generation", gen, "current", v.generation)
		return v.state
	}
	if pendingGen != v.pendingGen {
		// A local change landed while the server was answering.
		pending = v.listPending(ctx)
	}

	v.state = State{
		ServerRecipes:  server,
		PendingRecipes: pending,
		IsLoading:      false,
		Duplicates:     duplicates(server, pending),
		UserID:         userID,
		RefreshedAt:    v.now().UTC(),
	}
	v.publishLocked()
	return v.state
}

// RefreshPending reloads only the pending list and publishes at once,
// keeping the current server list and loading flag. Used right after a
// local change so it shows without waiting for the network. A full
// refresh still in flight keeps running and publishes its server list
// together with the newest pending list.
func (v *View) RefreshPending(ctx context.Context) State {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending := v.listPending(ctx)

	v.pendingGen++
	v.state.PendingRecipes = pending
	v.state.Duplicates = duplicates(v.state.ServerRecipes, pending)
	v.publishLocked()
	return v.state
}

func (v *View) listPending(ctx context.Context) []recipe.Mutation {
	pending := v.pending.List(ctx)
	if pending == nil {
		return []recipe.Mutation{}
	}
	return pending
}

func (v *View) fetchServer(ctx context.Context, userID string) []recipe.Recipe {
	if userID == "" {
		return []recipe.Recipe{}
	}
	recipes, err := v.server.ListByUser(ctx, userID)
	if err != nil {
		v.serverFailures.Add(1)
		v.logger.Warn("server recipes unavailable, showing pending only", "user_id", userID, "error", err)
		return []recipe.Recipe{}
	}
	return recipes
}

// publishLocked sends the current state to every subscriber, replacing
// any value it has not read yet. Caller must hold v.mu.
func (v *View) publishLocked() {
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v.state
	}
}

func duplicates(server []recipe.Recipe, pending []recipe.Mutation) []string {
	confirmed := make(map[string]bool, len(server))
	for _, r := range server {
		confirmed[recipe.NormalizeName(r.Name)] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, m := range pending {
		if m.TargetsExisting() {
			continue
		}
		key := recipe.NormalizeName(m.Name)
		if confirmed[key] && !seen[key] {
			seen[key] = true
			out = append(out, m.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Stats reports refresh counters.
type Stats struct {
	Refreshes      int64 `json:"refreshes"`
	Discarded      int64 `json:"discarded"`
	ServerFailures int64 `json:"serverFailures"`
}

// Stats returns the counters accumulated since New.
func (v *View) Stats() Stats {
	return Stats{
		Refreshes:      v.refreshes.Load(),
		Discarded:      v.discarded.Load(),
		ServerFailures: v.serverFailures.Load(),
	}
}
