// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the subscriber channel size used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 64

// Subscription is one consumer's attachment to a topic. Events arrive
// on Events in publish order; the channel is closed by
// [Hub.Unsubscribe].
type Subscription struct {
	id      string
	topic   string
	channel chan Event

	resync  atomic.Bool
	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

// SubscriptionStats reports delivery counters for one subscription.
type SubscriptionStats struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
	Buffered int    `json:"buffered"`
}

func newSubscription(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		channel: make(chan Event, buffer),
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Topic returns the topic the subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event { return s.channel }

// TakeResync reports whether events were dropped since the last call
// and clears the flag. A consumer that sees true should discard any
// buffered events and pull a fresh snapshot.
func (s *Subscription) TakeResync() bool {
	return s.resync.CompareAndSwap(true, false)
}

// Drain discards every event currently buffered.
func (s *Subscription) Drain() int {
	drained := 0
	for {
		select {
		case _, ok := <-s.channel:
			if !ok {
				return drained
			}
			drained++
		default:
			return drained
		}
	}
}

// Stats returns the subscription's delivery counters.
func (s *Subscription) Stats() SubscriptionStats {
	return SubscriptionStats{
		ID:       s.id,
		Topic:    s.topic,
		Sent:     s.sent.Load(),
		Dropped:  s.dropped.Load(),
		Buffered: len(s.channel),
	}
}

// offer attempts a non-blocking send. On overflow the event is
// dropped and the subscription is flagged for resync.
func (s *Subscription) offer(event Event) bool {
	select {
	case s.channel <- event:
		s.sent.Add(1)
		return true
	default:
		s.dropped.Add(1)
		s.resync.Store(true)
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.channel) })
}
