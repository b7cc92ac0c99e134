package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/testutil"
)

func newTestQueue(t *testing.T, store kvstore.Store, opts ...Option) *Queue {
	t.Helper()
	base := []Option{
		WithIDGenerator(NewSequenceGenerator("local")),
		WithClock(testutil.NewClock().Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(store, append(base, opts...)...)
}

func mutation(name string) recipe.Mutation {
	return recipe.Mutation{
		Payload: recipe.Payload{
			Name:        name,
			Ingredients: []recipe.Ingredient{{Name: "agua"}},
			Steps:       []string{"hervir"},
			UserID:      "user-1",
		},
	}
}

func names(list []recipe.Mutation) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Name
	}
	return out
}

func TestList_EmptyOnFirstRun(t *testing.T) {
	q := newTestQueue(t, kvstore.NewMemoryStore())

	list := q.List(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestEnqueue_ThenListContainsEntryOnce(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	stored, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	assert.Equal(t, "local-1", stored.LocalID)
	assert.Equal(t, recipe.StatusCreating, stored.Status)
	assert.Equal(t, testutil.Epoch, stored.EnqueuedAt)

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, stored.LocalID, list[0].LocalID)
	assert.Equal(t, "Tarta", list[0].Name)
}

func TestEnqueue_IdenticalPayloadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	first, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	assert.Equal(t, first.LocalID, second.LocalID)
	assert.Len(t, q.List(ctx), 1)
	assert.Zero(t, q.Stats().DuplicateNames)
}

func TestEnqueue_SameNameDifferentPayloadIsKeptAndCounted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	other := mutation("tarta")
	other.Servings = 6
	_, err = q.Enqueue(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, []string{"Tarta", "tarta"}, names(q.List(ctx)))
	assert.Equal(t, int64(1), q.Stats().DuplicateNames)
}

func TestEnqueue_MatchesAnyIdenticalNamesake(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	v2 := mutation("Tarta")
	v2.Description = "v2"
	second, err := q.Enqueue(ctx, v2)
	require.NoError(t, err)

	again, err := q.Enqueue(ctx, v2)
	require.NoError(t, err)

	assert.Equal(t, second.LocalID, again.LocalID)
	assert.Len(t, q.List(ctx), 2)
	assert.Equal(t, int64(1), q.Stats().DuplicateNames, "the repeat is not another duplicate")
}

func TestEnqueue_PersistsUnderStorageKey(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := newTestQueue(t, store)

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	raw, found, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.True(t, found)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "Tarta", stored[0]["name"])
	assert.Equal(t, false, stored[0]["isUpdate"])
}

func TestUpdate_ReplacesAndKeepsLength(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	orig, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, mutation("Sopa"))
	require.NoError(t, err)

	edited := mutation("Tarta")
	edited.Description = "con canela"
	require.NoError(t, q.Update(ctx, "Tarta", edited))

	list := q.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "con canela", list[0].Description)
	assert.Equal(t, orig.LocalID, list[0].LocalID)
	assert.Equal(t, orig.EnqueuedAt, list[0].EnqueuedAt)
	assert.Equal(t, 1, list[0].Revision)
	assert.Equal(t, recipe.StatusCreating, list[0].Status)
}

func TestUpdate_KeepsTargetWhenEditNamesNone(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	m := mutation("Tarta")
	m.IsUpdate = true
	m.OriginalRecipeID = "srv-3"
	_, err := q.Enqueue(ctx, m)
	require.NoError(t, err)

	require.NoError(t, q.Update(ctx, "Tarta", mutation("Tarta")))

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsUpdate)
	assert.Equal(t, "srv-3", list[0].OriginalRecipeID)
}

func TestUpdate_AbsentNameIsNoop(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyStore()
	q := newTestQueue(t, store)

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	writes := store.Sets.Load()

	require.NoError(t, q.Update(ctx, "Ghost", mutation("Ghost")))
	assert.Equal(t, []string{"Tarta"}, names(q.List(ctx)))
	assert.Equal(t, writes, store.Sets.Load(), "no write for a no-op")
}

func TestUpdate_ResetsAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	m, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	_, err = q.Commit(ctx, []Attempt{{LocalID: m.LocalID, Err: errors.New("boom")}})
	require.NoError(t, err)
	require.Equal(t, 1, q.List(ctx)[0].Attempts)

	require.NoError(t, q.Update(ctx, "Tarta", mutation("Tarta")))

	got := q.List(ctx)[0]
	assert.Zero(t, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.Nil(t, got.LastAttemptAt)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	for _, n := range []string{"A", "B", "C"} {
		_, err := q.Enqueue(ctx, mutation(n))
		require.NoError(t, err)
	}

	require.NoError(t, q.Remove(ctx, "B"))
	assert.Equal(t, []string{"A", "C"}, names(q.List(ctx)))

	require.NoError(t, q.Remove(ctx, "B"), "absent name must not error")
	assert.Equal(t, []string{"A", "C"}, names(q.List(ctx)))
}

func TestRemove_AllEntriesWithName(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	dup := mutation("Tarta")
	dup.Servings = 2
	_, err = q.Enqueue(ctx, dup)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, "Tarta"))
	assert.Empty(t, q.List(ctx))
}

func TestRemoveByID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	a, err := q.Enqueue(ctx, mutation("A"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, mutation("B"))
	require.NoError(t, err)

	require.NoError(t, q.RemoveByID(ctx, a.LocalID))
	assert.Equal(t, []string{"B"}, names(q.List(ctx)))
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	m, err := q.Enqueue(ctx, mutation("A"))
	require.NoError(t, err)

	got, err := q.Get(ctx, m.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	_, err = q.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestList_ReadFailureDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyStore()
	q := newTestQueue(t, store)

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	store.FailGets.Store(true)
	assert.Empty(t, q.List(ctx))
	assert.Equal(t, int64(1), q.Stats().ReadFailures)

	store.FailGets.Store(false)
	assert.Len(t, q.List(ctx), 1, "data intact once the store recovers")
}

func TestList_CorruptDocumentDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, StorageKey, json.RawMessage(`{"not":"a list"}`)))
	q := newTestQueue(t, store)

	assert.Empty(t, q.List(ctx))
	assert.Equal(t, int64(1), q.Stats().ReadFailures)
}

func TestMutations_ReadFailureDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyStore()
	q := newTestQueue(t, store)

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)

	store.FailGets.Store(true)
	_, err = q.Enqueue(ctx, mutation("Sopa"))
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.ErrorIs(t, q.Remove(ctx, "Tarta"), testutil.ErrInjected)
	assert.ErrorIs(t, q.Update(ctx, "Tarta", mutation("Tarta")), testutil.ErrInjected)

	store.FailGets.Store(false)
	assert.Equal(t, []string{"Tarta"}, names(q.List(ctx)))
}

func TestEnqueue_WriteFailureReturnsError(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyStore()
	q := newTestQueue(t, store)

	store.FailSets.Store(true)
	_, err := q.Enqueue(ctx, mutation("Tarta"))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	store.FailSets.Store(false)
	assert.Empty(t, q.List(ctx))
}

func TestOnChange(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	var mu sync.Mutex
	calls := 0
	unregister := q.OnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	require.NoError(t, q.Update(ctx, "Tarta", mutation("Tarta")))
	require.NoError(t, q.Remove(ctx, "Ghost")) // no-op: no notification
	require.NoError(t, q.Remove(ctx, "Tarta"))

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	unregister()
	_, err = q.Enqueue(ctx, mutation("Sopa"))
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestOnChange_ListenerMayReadQueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())

	var seen []string
	q.OnChange(func() { seen = names(q.List(ctx)) })

	_, err := q.Enqueue(ctx, mutation("Tarta"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Tarta"}, seen)
}

func TestEnqueue_ConcurrentWritersLoseNothing(t *testing.T) {
	ctx := context.Background()
	q := New(kvstore.NewMemoryStore(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := mutation("recipe")
			m.Servings = i + 1
			_, err := q.Enqueue(ctx, m)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list := q.List(ctx)
	assert.Len(t, list, 50)

	ids := make(map[string]bool)
	for _, m := range list {
		ids[m.LocalID] = true
	}
	assert.Len(t, ids, 50, "LocalIDs are unique")
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "local-1", g.Generate())
	assert.Equal(t, "local-2", g.Generate())
}

func TestUUIDv7Generator(t *testing.T) {
	a := UUIDv7Generator{}.Generate()
	b := UUIDv7Generator{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
