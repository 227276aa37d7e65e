// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisrelay

import "sync"

// outbox is a count-bounded FIFO of encoded envelopes. Pushing into a
// full outbox evicts the oldest entry. notify (capacity 1) wakes the
// shipper when data arrives.
type outbox struct {
	mu      sync.Mutex
	entries [][]byte
	limit   int
	dropped uint64
	notify  chan struct{}
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = DefaultOutbox
	}
	return &outbox{limit: limit, notify: make(chan struct{}, 1)}
}

func (o *outbox) push(data []byte) {
	o.mu.Lock()
	for len(o.entries) >= o.limit {
		o.entries[0] = nil
		o.entries = o.entries[1:]
		o.dropped++
	}
	o.entries = append(o.entries, data)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// peek returns the oldest entry, or nil when empty.
func (o *outbox) peek() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 {
		return nil
	}
	return o.entries[0]
}

// pop removes entry if it is still the oldest. A push that evicted it
// while it was being shipped leaves the outbox untouched.
func (o *outbox) pop(entry []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 || &o.entries[0][0] != &entry[0] {
		return
	}
	o.entries[0] = nil
	o.entries = o.entries[1:]
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func (o *outbox) droppedCount() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
