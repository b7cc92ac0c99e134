package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/recetario/internal/recipe"
)

// ErrRejected is returned for recipes the FakeService is told to reject.
var ErrRejected = errors.New("testutil: recipe rejected by fake service")

// Call records one request made against FakeService.
type Call struct {
	Op   string // "create", "update" or "list"
	Name string
	ID   string
}

// FakeService is an in-memory remote recipe service with scriptable
// failures and an optional gate that holds deliveries in flight.
//
// Thread-safety: All methods are safe for concurrent use.
type FakeService struct {
	mu      sync.Mutex
	recipes []recipe.Recipe
	reject  map[string]bool
	listErr error
	nextID  int
	calls   []Call
	gate    chan struct{}

	entered     chan string
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewFakeService creates a service with no recipes that accepts everything.
func NewFakeService() *FakeService {
	return &FakeService{
		reject:  make(map[string]bool),
		entered: make(chan string, 256),
	}
}

// Reject makes create and update calls for these names fail.
func (f *FakeService) Reject(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.reject[n] = true
	}
}

// Accept undoes Reject for these names.
func (f *FakeService) Accept(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		delete(f.reject, n)
	}
}

// FailList makes ListByUser return err. nil restores normal behavior.
func (f *FakeService) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Hold blocks every create and update until the returned release func
// is called (or the caller's context ends).
func (f *FakeService) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Entered receives the recipe name of each create/update as it starts.
func (f *FakeService) Entered() <-chan string {
	return f.entered
}

// Seed stores a confirmed recipe directly, assigning an id if missing.
func (f *FakeService) Seed(r recipe.Recipe) recipe.Recipe {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == "" {
		f.nextID++
		r.ID = fmt.Sprintf("srv-%d", f.nextID)
	}
	f.recipes = append(f.recipes, r)
	return r
}

// Create implements the remote create call.
func (f *FakeService) Create(ctx context.Context, p recipe.Payload) (recipe.Recipe, error) {
	f.record(Call{Op: "create", Name: p.Name})
	if err := f.enter(ctx, p.Name); err != nil {
		return recipe.Recipe{}, err
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[p.Name] {
		return recipe.Recipe{}, ErrRejected
	}
	f.nextID++
	r := recipe.Recipe{ID: fmt.Sprintf("srv-%d", f.nextID), Payload: p, Status: recipe.StatusPendingToApprove}
	f.recipes = append(f.recipes, r)
	return r, nil
}

// Update implements the remote update-by-id call.
func (f *FakeService) Update(ctx context.Context, id string, p recipe.Payload) error {
	f.record(Call{Op: "update", Name: p.Name, ID: id})
	if err := f.enter(ctx, p.Name); err != nil {
		return err
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[p.Name] {
		return ErrRejected
	}
	for i := range f.recipes {
		if f.recipes[i].ID == id {
			f.recipes[i].Payload = p
			f.recipes[i].Version++
			return nil
		}
	}
	return fmt.Errorf("testutil: recipe %s not found", id)
}

// ListByUser implements the remote "recipes by user" call.
func (f *FakeService) ListByUser(_ context.Context, userID string) ([]recipe.Recipe, error) {
	f.record(Call{Op: "list", ID: userID})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []recipe.Recipe{}
	for _, r := range f.recipes {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Calls returns every recorded call in order.
func (f *FakeService) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls with the given op and recipe name.
func (f *FakeService) CallCount(op, name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && c.Name == name {
			n++
		}
	}
	return n
}

// DeliveryCalls counts create and update calls.
func (f *FakeService) DeliveryCalls() int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == "create" || c.Op == "update" {
			n++
		}
	}
	return n
}

// MaxConcurrent is the highest number of deliveries seen in flight at once.
func (f *FakeService) MaxConcurrent() int {
	return int(f.maxInFlight.Load())
}

// Recipes returns the confirmed recipes.
func (f *FakeService) Recipes() []recipe.Recipe {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recipe.Recipe(nil), f.recipes...)
}

func (f *FakeService) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// enter tracks concurrency and waits on the gate. On success the caller
// must decrement inFlight.
func (f *FakeService) enter(ctx context.Context, name string) error {
	n := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	select {
	case f.entered <- name:
	default:
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.inFlight.Add(-1)
			return ctx.Err()
		}
	}
	return nil
}
