package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/roach88/recetario/internal/kvstore"
)

// ErrInjected is returned by FlakyStore when a failure is switched on.
var ErrInjected = errors.New("testutil: injected store failure")

// FlakyStore wraps a kvstore.Store and fails reads or writes on demand.
type FlakyStore struct {
	kvstore.Store

	FailGets atomic.Bool
	FailSets atomic.Bool

	Gets atomic.Int64
	Sets atomic.Int64
}

// NewFlakyStore wraps an in-memory store.
func NewFlakyStore() *FlakyStore {
	return &FlakyStore{Store: kvstore.NewMemoryStore()}
}

// Get fails with ErrInjected while FailGets is set.
func (f *FlakyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	f.Gets.Add(1)
	if f.FailGets.Load() {
		return nil, false, ErrInjected
	}
	return f.Store.Get(ctx, key)
}

// Set fails with ErrInjected while FailSets is set.
func (f *FlakyStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	f.Sets.Add(1)
	if f.FailSets.Load() {
		return ErrInjected
	}
	return f.Store.Set(ctx, key, value)
}
