package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recetario/internal/kvstore"
	"github.com/roach88/recetario/internal/recipe"
	"github.com/roach88/recetario/internal/testutil"
)

func enqueueAll(t *testing.T, q *Queue, ns ...string) []recipe.Mutation {
	t.Helper()
	out := make([]recipe.Mutation, len(ns))
	for i, n := range ns {
		m, err := q.Enqueue(context.Background(), mutation(n))
		require.NoError(t, err)
		out[i] = m
	}
	return out
}

func TestCommit_PartialFailureLeavesFailedEntries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A", "B", "C")

	at := testutil.Epoch.Add(time.Minute)
	res, err := q.Commit(ctx, []Attempt{
		{LocalID: ms[0].LocalID, At: at},
		{LocalID: ms[1].LocalID, Err: errors.New("503"), At: at},
		{LocalID: ms[2].LocalID, At: at},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Before)
	assert.Equal(t, 1, res.After)
	assert.Equal(t, []string{"A", "C"}, names(res.Delivered))
	assert.Equal(t, []string{"B"}, names(res.Retrying))
	assert.True(t, res.Shrank())

	list := q.List(ctx)
	require.Equal(t, []string{"B"}, names(list))
	assert.Equal(t, 1, list[0].Attempts)
	assert.Equal(t, "503", list[0].LastError)
	require.NotNil(t, list[0].LastAttemptAt)
	assert.Equal(t, at, *list[0].LastAttemptAt)
}

func TestCommit_KeepsEntriesEnqueuedDuringCycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A")

	// Snapshot taken, then the UI enqueues while A is being delivered.
	enqueueAll(t, q, "Late")

	res, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Late"}, names(q.List(ctx)))
	assert.Equal(t, 2, res.Before)
	assert.Equal(t, 1, res.After)
}

func TestCommit_KeepsEntriesEditedDuringCycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A")

	edited := mutation("A")
	edited.Description = "v2"
	require.NoError(t, q.Update(ctx, "A", edited))

	res, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID, Revision: ms[0].Revision}})
	require.NoError(t, err)
	assert.False(t, res.Shrank())

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "v2", list[0].Description, "edit made mid-cycle still needs delivery")
	assert.Zero(t, list[0].Attempts)
}

func TestCommit_EditedCreateBecomesUpdateOfConfirmedRecipe(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A")

	edited := mutation("A")
	edited.Description = "v2"
	require.NoError(t, q.Update(ctx, "A", edited))

	res, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID, Revision: ms[0].Revision, RecipeID: "srv-7"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(res.Retargeted))
	assert.Empty(t, res.Delivered)

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsUpdate)
	assert.Equal(t, "srv-7", list[0].OriginalRecipeID)
	assert.Equal(t, "v2", list[0].Description)
}

func TestCommit_EditedFailedCreateStaysCreate(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A")
	require.NoError(t, q.Update(ctx, "A", mutation("A")))

	res, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID, Revision: ms[0].Revision, Err: errors.New("503")}})
	require.NoError(t, err)
	assert.Empty(t, res.Retargeted)

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsUpdate)
	assert.Zero(t, list[0].Attempts)
}

func TestCommit_EntryRemovedDuringCycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	ms := enqueueAll(t, q, "A", "B")

	require.NoError(t, q.Remove(ctx, "A"))

	res, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID}, {LocalID: ms[1].LocalID}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, names(res.Delivered))
	assert.Empty(t, q.List(ctx))
}

func TestCommit_NoAttemptsLeavesQueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore())
	enqueueAll(t, q, "A", "B")

	res, err := q.Commit(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Shrank())
	assert.Equal(t, []string{"A", "B"}, names(q.List(ctx)))
}

func TestCommit_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore(), WithMaxAttempts(3))
	ms := enqueueAll(t, q, "Broken", "Fine")

	fail := []Attempt{{LocalID: ms[0].LocalID, Err: errors.New("400 bad payload")}}
	for i := 0; i < 2; i++ {
		res, err := q.Commit(ctx, fail)
		require.NoError(t, err)
		assert.Empty(t, res.DeadLettered)
	}

	res, err := q.Commit(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, []string{"Broken"}, names(res.DeadLettered))
	assert.True(t, res.Shrank())

	assert.Equal(t, []string{"Fine"}, names(q.List(ctx)))
	dead := q.DeadLetters(ctx)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "400 bad payload", dead[0].LastError)
}

func TestCommit_UnlimitedAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore(), WithMaxAttempts(0))
	ms := enqueueAll(t, q, "Broken")

	for i := 0; i < 50; i++ {
		_, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID, Err: errors.New("nope")}})
		require.NoError(t, err)
	}

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, 50, list[0].Attempts)
	assert.Empty(t, q.DeadLetters(ctx))
}

func TestCommit_ReadFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyStore()
	q := newTestQueue(t, store)
	ms := enqueueAll(t, q, "A")

	store.FailGets.Store(true)
	_, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID}})
	assert.ErrorIs(t, err, testutil.ErrInjected)

	store.FailGets.Store(false)
	assert.Len(t, q.List(ctx), 1)
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore(), WithMaxAttempts(1))
	ms := enqueueAll(t, q, "Broken")

	_, err := q.Commit(ctx, []Attempt{{LocalID: ms[0].LocalID, Err: errors.New("nope")}})
	require.NoError(t, err)
	require.Empty(t, q.List(ctx))

	require.NoError(t, q.Requeue(ctx, ms[0].LocalID))

	list := q.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, ms[0].LocalID, list[0].LocalID)
	assert.Zero(t, list[0].Attempts)
	assert.Equal(t, 1, list[0].Revision)
	assert.Empty(t, q.DeadLetters(ctx))

	assert.ErrorIs(t, q.Requeue(ctx, "missing"), ErrNotFound)
}

func TestPurgeDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, kvstore.NewMemoryStore(), WithMaxAttempts(1))
	ms := enqueueAll(t, q, "A", "B")

	_, err := q.Commit(ctx, []Attempt{
		{LocalID: ms[0].LocalID, Err: errors.New("x")},
		{LocalID: ms[1].LocalID, Err: errors.New("y")},
	})
	require.NoError(t, err)
	require.Len(t, q.DeadLetters(ctx), 2)

	require.NoError(t, q.PurgeDeadLetters(ctx))
	assert.Empty(t, q.DeadLetters(ctx))
}
