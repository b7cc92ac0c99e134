package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/recetario/internal/recipe"
)

// Attempt is the outcome of one delivery made from a List snapshot.
type Attempt struct {
	LocalID string

	// Revision of the entry that was delivered. If the entry was edited
	// while the delivery was in flight, the outcome no longer applies.
	Revision int

	// Err is nil when the server confirmed the mutation.
	Err error

	// RecipeID is the server id of the confirmed recipe.
	RecipeID string

	At time.Time
}

// CommitResult describes how Commit changed the queue.
type CommitResult struct {
	Before       int
	After        int
	Delivered    []recipe.Mutation
	Retrying     []recipe.Mutation
	DeadLettered []recipe.Mutation

	// Retargeted are entries whose create was confirmed while they were
	// being edited. They stay queued as updates of the created recipe.
	Retargeted []recipe.Mutation
}

// Shrank reports whether any entry left the pending list.
func (r CommitResult) Shrank() bool {
	return len(r.Delivered) > 0 || len(r.DeadLettered) > 0
}

// Commit applies delivery outcomes to the current list in one write:
// delivered entries are removed, failed entries get their attempt count
// and last error updated, and failed entries that reached MaxAttempts
// move to the dead-letter list.
//
// Entries without an attempt (enqueued during the cycle) and entries
// whose Revision changed since the attempt (edited during the cycle) are
// kept. If such an edited entry was a create the server confirmed, it
// becomes an update of the created recipe so it is not created twice.
func (q *Queue) Commit(ctx context.Context, attempts []Attempt) (CommitResult, error) {
	byID := make(map[string]Attempt, len(attempts))
	for _, a := range attempts {
		byID[a.LocalID] = a
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx, StorageKey)
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	result := CommitResult{Before: len(list)}
	kept := make([]recipe.Mutation, 0, len(list))

	for _, m := range list {
		a, ok := byID[m.LocalID]
		if !ok {
			kept = append(kept, m)
			continue
		}
		if a.Revision != m.Revision {
			if a.Err == nil && a.RecipeID != "" && !m.TargetsExisting() {
				m.IsUpdate = true
				m.OriginalRecipeID = a.RecipeID
				result.Retargeted = append(result.Retargeted, m)
			}
			kept = append(kept, m)
			continue
		}

		if a.Err == nil {
			result.Delivered = append(result.Delivered, m)
			continue
		}

		at := a.At.UTC()
		m.Attempts++
		m.LastError = a.Err.Error()
		m.LastAttemptAt = &at

		if q.maxAttempts > 0 && m.Attempts >= q.maxAttempts {
			result.DeadLettered = append(result.DeadLettered, m)
			continue
		}
		result.Retrying = append(result.Retrying, m)
		kept = append(kept, m)
	}

	// Dead letters are written first: a crash between the two writes
	// leaves an entry in both lists rather than in neither.
	if len(result.DeadLettered) > 0 {
		dead, err := q.load(ctx, DeadLetterKey)
		if err != nil {
			return CommitResult{}, fmt.Errorf("commit: read dead letters: %w", err)
		}
		dead = append(dead, result.DeadLettered...)
		if err := q.save(ctx, DeadLetterKey, dead); err != nil {
			return CommitResult{}, fmt.Errorf("commit: write dead letters: %w", err)
		}
	}

	if err := q.save(ctx, StorageKey, kept); err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}
	result.After = len(kept)

	for _, m := range result.Retargeted {
		q.logger.Info("edited mutation now updates its created recipe",
			"name", m.Name,
			"local_id", m.LocalID,
			"recipe_id", m.OriginalRecipeID,
		)
	}
	for _, m := range result.DeadLettered {
		q.logger.Warn("mutation dead-lettered",
			"name", m.Name,
			"local_id", m.LocalID,
			"attempts", m.Attempts,
			"last_error", m.LastError,
		)
	}
	return result, nil
}
