package queue

import (
	"context"
	"fmt"

	"github.com/roach88/recetario/internal/recipe"
)

// DeadLetters returns entries that exhausted MaxAttempts. Like List, it
// degrades to an empty slice when the store cannot be read.
func (q *Queue) DeadLetters(ctx context.Context) []recipe.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx, DeadLetterKey)
	if err != nil {
		q.readFailures.Add(1)
		q.logger.Warn("dead-letter list unreadable, treating as empty", "error", err)
		return []recipe.Mutation{}
	}
	return list
}

// Requeue moves a dead-lettered entry back to the pending list with its
// failure count reset.
func (q *Queue) Requeue(ctx context.Context, localID string) error {
	q.mu.Lock()

	dead, err := q.load(ctx, DeadLetterKey)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", localID, err)
	}

	idx := -1
	for i := range dead {
		if dead[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", localID, ErrNotFound)
	}

	list, err := q.load(ctx, StorageKey)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", localID, err)
	}

	m := dead[idx]
	m.Attempts = 0
	m.LastError = ""
	m.LastAttemptAt = nil
	m.Revision++

	// Pending list first: a crash in between duplicates, never loses.
	if err := q.save(ctx, StorageKey, append(list, m)); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", localID, err)
	}
	remaining := append(dead[:idx:idx], dead[idx+1:]...)
	if err := q.save(ctx, DeadLetterKey, remaining); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", localID, err)
	}
	q.mu.Unlock()

	q.logger.Info("mutation requeued", "name", m.Name, "local_id", localID)
	q.notify()
	return nil
}

// PurgeDeadLetters discards every dead-lettered entry.
func (q *Queue) PurgeDeadLetters(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, DeadLetterKey); err != nil {
		return fmt.Errorf("purge dead letters: %w", err)
	}
	return nil
}
