// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyedlock provides mutual exclusion per string key with
// context-aware acquisition.
//
// Each key gets its own one-slot channel. A waiter holds a lease on
// the key's entry while it waits or holds the lock; when the last
// lease is released the entry is removed, so the map only grows with
// the number of keys in use at once.
package keyedlock

import (
	"context"
	"sync"
)

// Locks is a set of per-key mutexes. The zero value is ready to use.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	slot   chan struct{}
	leases int
}

// Lock acquires the lock for key, waiting until it is free or ctx is
// done. On success it returns the function that releases the lock;
// the caller must call it exactly once. On ctx expiry it returns
// ctx.Err() and holds nothing.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	e := l.lease(key)

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.release(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locks) lease(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = make(map[string]*entry)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.leases++
	return e
}

func (l *Locks) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.leases--
	if e.leases == 0 {
		delete(l.entries, key)
	}
}
