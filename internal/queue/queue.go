package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/recipe"
)

// Storage keys. The names are shared with existing installations and must
// not change.
const (
	StorageKey    = "createReceiptSync"
	DeadLetterKey = "createReceiptSyncDeadLetter"
)

// DefaultMaxAttempts is the number of consecutive failed deliveries after
// which an entry is dead-lettered.
const DefaultMaxAttempts = 20

// ErrNotFound is returned by lookups by LocalID.
var ErrNotFound = errors.New("queue: entry not found")

// Queue is the durable list of pending recipe mutations.
//
// Thread-safety: all methods are safe for concurrent use.
type Queue struct {
	mu          sync.Mutex // serializes every read-modify-write
	store       kvstore.Store
	ids         IDGenerator
	now         func() time.Time
	maxAttempts int
	logger      *slog.Logger

	lmu       sync.Mutex
	listeners map[int]func()
	nextLID   int

	readFailures   atomic.Int64
	duplicateNames atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator overrides the LocalID generator (default UUIDv7).
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithClock overrides the time source used for EnqueuedAt/LastAttemptAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithMaxAttempts sets the dead-letter threshold. Zero disables
// dead-lettering and retries forever.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue persisted in store.
func New(store kvstore.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		ids:         UUIDv7Generator{},
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
		listeners:   make(map[int]func()),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxAttempts returns the dead-letter threshold (0 = unlimited).
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// OnChange registers fn to be called after Enqueue, Update, Remove and
// Requeue change the list. fn runs on the caller's goroutine after the
// queue lock is released. The returned func unregisters it.
func (q *Queue) OnChange(fn func()) (unregister func()) {
	q.lmu.Lock()
	defer q.lmu.Unlock()

	id := q.nextLID
	q.nextLID++
	q.listeners[id] = fn

	return func() {
		q.lmu.Lock()
		defer q.lmu.Unlock()
		delete(q.listeners, id)
	}
}

func (q *Queue) notify() {
	q.lmu.Lock()
	fns := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// List returns the pending entries in enqueue order. Returns an empty
// slice on first run and when the store cannot be read.
func (q *Queue) List(ctx context.Context) []recipe.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx, StorageKey)
	if err != nil {
		q.readFailures.Add(1)
		q.logger.Warn("pending queue unreadable, treating as empty", "error", err)
		return []recipe.Mutation{}
	}
	return list
}

// Get returns the entry with the given LocalID.
func (q *Queue) Get(ctx context.Context, localID string) (recipe.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx, StorageKey)
	if err != nil {
		return recipe.Mutation{}, fmt.Errorf("get %s: %w", localID, err)
	}
	for _, m := range list {
		if m.LocalID == localID {
			return m, nil
		}
	}
	return recipe.Mutation{}, fmt.Errorf("get %s: %w", localID, ErrNotFound)
}

// Enqueue appends m and persists the list. The stored entry is returned
// with LocalID, EnqueuedAt and Status filled in.
//
// Submitting a payload identical to an entry that is already pending for
// the same target is a no-op that returns the existing entry. A different
// payload with an already-pending name is appended; callers edit entries
// with Update.
func (q *Queue) Enqueue(ctx context.Context, m recipe.Mutation) (recipe.Mutation, error) {
	fingerprint, err := m.Payload.Fingerprint()
	if err != nil {
		return recipe.Mutation{}, fmt.Errorf("enqueue %q: %w", m.Name, err)
	}

	q.mu.Lock()
	list, err := q.load(ctx, StorageKey)
	if err != nil {
		q.mu.Unlock()
		return recipe.Mutation{}, fmt.Errorf("enqueue %q: %w", m.Name, err)
	}

	key := recipe.NormalizeName(m.Name)
	var namesake *recipe.Mutation
	for i, existing := range list {
		if recipe.NormalizeName(existing.Name) != key {
			continue
		}
		if sameTarget(existing, m) {
			if fp, err := existing.Payload.Fingerprint(); err == nil && fp == fingerprint {
				q.mu.Unlock()
				q.logger.Debug("identical mutation already pending", "name", m.Name, "local_id", existing.LocalID)
				return existing, nil
			}
		}
		if namesake == nil {
			namesake = &list[i]
		}
	}
	if namesake != nil {
		q.duplicateNames.Add(1)
		q.logger.Warn("another pending mutation shares this name",
			"name", m.Name,
			"existing_local_id", namesake.LocalID,
		)
	}

	if m.LocalID == "" {
		m.LocalID = q.ids.Generate()
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = q.now().UTC()
	}
	if m.Status == "" {
		m.Status = recipe.StatusCreating
	}
	m.Attempts = 0
	m.LastError = ""
	m.LastAttemptAt = nil

	list = append(list, m)
	if err := q.save(ctx, StorageKey, list); err != nil {
		q.mu.Unlock()
		return recipe.Mutation{}, fmt.Errorf("enqueue %q: %w", m.Name, err)
	}
	q.mu.Unlock()

	q.logger.Info("mutation enqueued", "name", m.Name, "local_id", m.LocalID, "is_update", m.IsUpdate)
	q.notify()
	return m, nil
}

// Remove deletes every entry whose name equals name.
// Removing an absent name is a no-op.
func (q *Queue) Remove(ctx context.Context, name string) error {
	return q.removeWhere(ctx, "remove "+name, func(m recipe.Mutation) bool {
		return m.Name == name
	})
}

// RemoveByID deletes the entry with the given LocalID, if present.
func (q *Queue) RemoveByID(ctx context.Context, localID string) error {
	return q.removeWhere(ctx, "remove "+localID, func(m recipe.Mutation) bool {
		return m.LocalID == localID
	})
}

func (q *Queue) removeWhere(ctx context.Context, op string, match func(recipe.Mutation) bool) error {
	q.mu.Lock()
	list, err := q.load(ctx, StorageKey)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}

	kept := list[:0:0]
	for _, m := range list {
		if !match(m) {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(list) {
		q.mu.Unlock()
		return nil
	}

	if err := q.save(ctx, StorageKey, kept); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	q.mu.Unlock()

	q.logger.Info("mutation removed", "op", op, "removed", len(list)-len(kept))
	q.notify()
	return nil
}

// Update replaces the first entry whose name equals name with m.
// The entry keeps its LocalID and EnqueuedAt, its Revision is bumped and
// its failure count reset. When m names no target the entry keeps its
// own. Updating an absent name is a no-op.
func (q *Queue) Update(ctx context.Context, name string, m recipe.Mutation) error {
	q.mu.Lock()
	list, err := q.load(ctx, StorageKey)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("update %q: %w", name, err)
	}

	idx := -1
	for i := range list {
		if list[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return nil
	}

	old := list[idx]
	m.LocalID = old.LocalID
	m.EnqueuedAt = old.EnqueuedAt
	m.Revision = old.Revision + 1
	m.Attempts = 0
	m.LastError = ""
	m.LastAttemptAt = nil
	if m.Status == "" {
		m.Status = old.Status
	}
	if !m.TargetsExisting() && old.TargetsExisting() {
		m.IsUpdate = true
		m.OriginalRecipeID = old.OriginalRecipeID
	}
	list[idx] = m

	if err := q.save(ctx, StorageKey, list); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("update %q: %w", name, err)
	}
	q.mu.Unlock()

	q.logger.Info("mutation updated", "name", name, "local_id", m.LocalID, "revision", m.Revision)
	q.notify()
	return nil
}

// Stats reports queue-level diagnostics.
type Stats struct {
	ReadFailures   int64 `json:"readFailures"`
	DuplicateNames int64 `json:"duplicateNames"`
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		ReadFailures:   q.readFailures.Load(),
		DuplicateNames: q.duplicateNames.Load(),
	}
}

// load reads the list stored under key. Caller must hold q.mu.
func (q *Queue) load(ctx context.Context, key string) ([]recipe.Mutation, error) {
	raw, found, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || len(raw) == 0 {
		return []recipe.Mutation{}, nil
	}

	var list []recipe.Mutation
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if list == nil {
		list = []recipe.Mutation{}
	}
	return list, nil
}

// save writes the list under key. Caller must hold q.mu.
func (q *Queue) save(ctx context.Context, key string, list []recipe.Mutation) error {
	if list == nil {
		list = []recipe.Mutation{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return q.store.Set(ctx, key, raw)
}

func sameTarget(a, b recipe.Mutation) bool {
	return a.IsUpdate == b.IsUpdate && a.OriginalRecipeID == b.OriginalRecipeID
}
