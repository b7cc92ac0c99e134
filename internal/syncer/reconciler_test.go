package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/queue"
	"github.com/roach88/recetario/internal/reachability"
	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/testutil"
)

type fixture struct {
	queue    *queue.Queue
	service  *testutil.FakeService
	identity *identity.Static
	network  *reachability.Static
	rec      *Reconciler

	mu        sync.Mutex
	notes     []Notification
	committed []string
}

func newFixture(t *testing.T, qopts ...queue.Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock()

	f := &fixture{
		service:  testutil.NewFakeService(),
		identity: identity.NewStatic("user-1"),
		network:  reachability.NewStatic(true),
	}
	base := []queue.Option{
		queue.WithIDGenerator(queue.NewSequenceGenerator("local")),
		queue.WithClock(clock.Now),
		queue.WithLogger(logger),
	}
	f.queue = queue.New(kvstore.NewMemoryStore(), append(base, qopts...)...)
	f.rec = New(f.queue, f.service, f.identity, f.network,
		WithLogger(logger),
		WithClock(clock.Now),
		WithInterval(10*time.Millisecond),
		WithNotifier(NotifierFunc(func(n Notification) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.notes = append(f.notes, n)
		})),
		WithOnCommitted(func(_ context.Context, userID string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.committed = append(f.committed, userID)
		}),
	)
	return f
}

func (f *fixture) enqueue(t *testing.T, m recipe.Mutation) recipe.Mutation {
	t.Helper()
	stored, err := f.queue.Enqueue(context.Background(), m)
	require.NoError(t, err)
	return stored
}

func (f *fixture) notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notes...)
}

func (f *fixture) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func create(name string) recipe.Mutation {
	return recipe.Mutation{
		Payload: recipe.Payload{
			Name:        name,
			Ingredients: []recipe.Ingredient{{Name: "harina", Quantity: "200", Unit: "g"}},
			Steps:       []string{"mezclar"},
		},
	}
}

func pendingNames(t *testing.T, q *queue.Queue) []string {
	t.Helper()
	var out []string
	for _, m := range q.List(context.Background()) {
		out = append(out, m.Name)
	}
	return out
}

func noteNames(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Name
	}
	return out
}

func TestCycle_DeliversAllAndEmptiesQueue(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("Tarta"))

	res, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SkipNone, res.Skipped)
	assert.Equal(t, 1, res.Attempted)
	assert.Empty(t, pendingNames(t, f.queue))

	notes := f.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Tarta", notes[0].Name)
	assert.Equal(t, "srv-1", notes[0].RecipeID)
	assert.False(t, notes[0].IsUpdate)

	assert.Equal(t, 1, f.service.CallCount("create", "Tarta"))
	assert.Equal(t, 1, f.committedCount())
}

func TestCycle_PartialFailureKeepsOnlyFailed(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"A", "B", "C"} {
		f.enqueue(t, create(n))
	}
	f.service.Reject("B")

	res, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"B"}, pendingNames(t, f.queue))
	assert.Equal(t, []string{"A", "C"}, noteNames(f.notifications()), "failures are never announced")

	list := f.queue.List(context.Background())
	assert.Equal(t, 1, list[0].Attempts)
	assert.Contains(t, list[0].LastError, testutil.ErrRejected.Error())

	// Next cycle succeeds once the server accepts B.
	f.service.Accept("B")
	_, err = f.rec.Cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pendingNames(t, f.queue))
	assert.Equal(t, []string{"A", "C", "B"}, noteNames(f.notifications()))

	st := f.rec.Stats()
	assert.Equal(t, int64(3), st.Delivered)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(2), st.Cycles)
}

func TestCycle_AllFailedDoesNotPropagate(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))
	f.service.Reject("A")

	_, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.committedCount())
}

func TestCycle_SkipsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		enqueue bool
		want    SkipReason
	}{
		{
			name:  "empty queue",
			setup: func(*fixture) {},
			want:  SkipEmptyQueue,
		},
		{
			name:    "signed out",
			setup:   func(f *fixture) { f.identity.SignOut() },
			enqueue: true,
			want:    SkipUnauthenticated,
		},
		{
			name: "no user id",
			setup: func(f *fixture) {
				f.identity.Set(identity.Identity{Authenticated: true})
			},
			enqueue: true,
			want:    SkipNoIdentity,
		},
		{
			name:    "offline",
			setup:   func(f *fixture) { f.network.SetConnected(false) },
			enqueue: true,
			want:    SkipOffline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.enqueue {
				f.enqueue(t, create("Tarta"))
			}
			tt.setup(f)

			res, err := f.rec.Cycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Skipped)
			assert.Zero(t, f.service.DeliveryCalls())
			assert.Empty(t, f.notifications())
			assert.Equal(t, int64(1), f.rec.Stats().Skipped[tt.want])

			if tt.enqueue {
				list := f.queue.List(context.Background())
				require.Len(t, list, 1)
				assert.Zero(t, list[0].Attempts)
			}
		})
	}
}

func TestCycle_SingleInFlight(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))
	f.enqueue(t, create("B"))

	release := f.service.Hold()
	defer release()

	done := make(chan Result, 1)
	go func() {
		res, err := f.rec.Cycle(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	assert.Equal(t, "A", <-f.service.Entered())

	res, err := f.rec.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, SkipInFlight, res.Skipped)
	assert.Equal(t, 1, f.service.DeliveryCalls(), "skipped cycle made no calls")

	release()
	first := <-done
	assert.Equal(t, 2, first.Attempted)
	assert.Equal(t, 1, f.service.CallCount("create", "A"))
	assert.Equal(t, 1, f.service.CallCount("create", "B"))
	assert.Equal(t, 1, f.service.MaxConcurrent())
}

func TestCycle_UpdateUsesOriginalID(t *testing.T) {
	f := newFixture(t)
	existing := f.service.Seed(recipe.Recipe{Payload: recipe.Payload{Name: "Tarta", UserID: "user-1"}})

	m := create("Tarta")
	m.Description = "con crema"
	m.IsUpdate = true
	m.OriginalRecipeID = existing.ID
	f.enqueue(t, m)

	// An update without an original id is delivered as a create.
	orphan := create("Flan")
	orphan.IsUpdate = true
	f.enqueue(t, orphan)

	_, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.service.CallCount("update", "Tarta"))
	assert.Equal(t, 1, f.service.CallCount("create", "Flan"))
	assert.Zero(t, f.service.CallCount("create", "Tarta"))

	recipes := f.service.Recipes()
	assert.Equal(t, "con crema", recipes[0].Description)

	notes := f.notifications()
	require.Len(t, notes, 2)
	assert.True(t, notes[0].IsUpdate)
	assert.Equal(t, existing.ID, notes[0].RecipeID)
}

func TestCycle_FillsMissingUserID(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("Tarta"))

	_, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)

	recipes := f.service.Recipes()
	require.Len(t, recipes, 1)
	assert.Equal(t, "user-1", recipes[0].UserID)
}

func TestCycle_EnqueueDuringCycleIsKept(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))

	release := f.service.Hold()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.rec.Cycle(context.Background())
		assert.NoError(t, err)
	}()

	<-f.service.Entered()
	f.enqueue(t, create("Late"))
	release()
	<-done

	assert.Equal(t, []string{"Late"}, pendingNames(t, f.queue))
}

func TestCycle_EditDuringCycleIsKept(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))

	release := f.service.Hold()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.rec.Cycle(context.Background())
		assert.NoError(t, err)
	}()

	<-f.service.Entered()
	edited := create("A")
	edited.Description = "v2"
	require.NoError(t, f.queue.Update(context.Background(), "A", edited))
	release()
	<-done

	list := f.queue.List(context.Background())
	require.Len(t, list, 1)
	assert.Equal(t, "v2", list[0].Description)
	assert.True(t, list[0].IsUpdate, "the confirmed create becomes the edit's target")
	assert.Equal(t, "srv-1", list[0].OriginalRecipeID)

	_, err := f.rec.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.service.CallCount("create", "A"))
	assert.Equal(t, 1, f.service.CallCount("update", "A"))
	stored := f.service.Recipes()
	require.Len(t, stored, 1)
	assert.Equal(t, "v2", stored[0].Description)
	assert.Empty(t, f.queue.List(context.Background()))
}

func TestCycle_CancelledDeliveryIsNotCounted(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))
	f.enqueue(t, create("B"))

	release := f.service.Hold()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, err := f.rec.Cycle(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	<-f.service.Entered()
	cancel()
	res := <-done

	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Failed)
	assert.Zero(t, f.service.CallCount("create", "B"))

	list := f.queue.List(context.Background())
	require.Len(t, list, 2)
	assert.Zero(t, list[0].Attempts)
}

func TestCycle_OnCommittedOutlivesCancellation(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hookErr error
	called := false
	rec := New(f.queue, f.service, f.identity, f.network,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		// Stop arrives right after the server confirmed A.
		WithNotifier(NotifierFunc(func(Notification) { cancel() })),
		WithOnCommitted(func(hctx context.Context, _ string) {
			called = true
			hookErr = hctx.Err()
		}),
	)

	res, err := rec.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, noteNames(res.Delivered))
	require.True(t, called)
	assert.NoError(t, hookErr, "the refresh after a commit is not cut short")
	assert.Empty(t, f.queue.List(context.Background()))
}

func TestCycle_DeadLetters(t *testing.T) {
	f := newFixture(t, queue.WithMaxAttempts(2))
	f.enqueue(t, create("Broken"))
	f.service.Reject("Broken")

	for i := 0; i < 2; i++ {
		_, err := f.rec.Cycle(context.Background())
		require.NoError(t, err)
	}

	assert.Empty(t, pendingNames(t, f.queue))
	assert.Len(t, f.queue.DeadLetters(context.Background()), 1)
	assert.Equal(t, int64(1), f.rec.Stats().DeadLettered)
	assert.Empty(t, f.notifications())
	assert.Equal(t, 1, f.committedCount(), "dead-lettering shrinks the queue")
}

type failingCommit struct {
	*queue.Queue
}

func (failingCommit) Commit(context.Context, []queue.Attempt) (queue.CommitResult, error) {
	return queue.CommitResult{}, testutil.ErrInjected
}

func TestCycle_CommitFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))

	rec := New(failingCommit{f.queue}, f.service, f.identity, f.network,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := rec.Cycle(context.Background())
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, []string{"A"}, pendingNames(t, f.queue))
}

func TestRun_TriggerAndStop(t *testing.T) {
	f := newFixture(t)
	f.rec.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx) }()

	f.enqueue(t, create("Tarta"))
	f.rec.Trigger()
	f.rec.Trigger()

	require.Eventually(t, func() bool {
		return len(f.notifications()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 1, f.service.CallCount("create", "Tarta"))
}

func TestRun_TicksUntilQueueDrains(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, create("A"))
	f.service.Reject("A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.service.CallCount("create", "A") >= 2
	}, time.Second, 5*time.Millisecond)

	f.service.Accept("A")
	require.Eventually(t, func() bool {
		return len(pendingNames(t, f.queue)) == 0
	}, time.Second, 5*time.Millisecond)
}
