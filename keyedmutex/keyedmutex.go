// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package keyedmutex provides a map of per-key mutual-exclusion locks,
// created lazily, backed by golang.org/x/sync/semaphore so callers can pass
// a context and have a blocked waiter give up on cancellation instead of
// hanging forever. Used to serialize git workspace access per repo
// directory and merge-request store access per PR, per spec invariant I5
// and the per-PR ordering requirement.
package keyedmutex

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Map holds one binary semaphore per key.
type Map struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{locks: make(map[string]*semaphore.Weighted)}
}

// Lock acquires the lock for key, blocking until it is available or ctx is
// done. The returned func releases the lock; callers must call it exactly
// once, typically via defer.
func (m *Map) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sem := m.semaphoreFor(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (m *Map) semaphoreFor(key string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.locks[key] = sem
	}
	return sem
}
