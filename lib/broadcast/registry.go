// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"errors"
	"sort"
	"sync"
)

// ErrSubscriptionNotFound is returned by Registry.Remove for a
// subscription that is not registered.
var ErrSubscriptionNotFound = errors.New("broadcast: subscription not found")

// Registry tracks which subscriptions are attached to which topics.
// Implementations must be safe for concurrent use. Subscribers must
// return a topic's subscriptions in registration order.
type Registry interface {
	Add(subscription *Subscription)
	Remove(subscription *Subscription) error
	Subscribers(topic string) []*Subscription
	Topics() []string
	Len() int
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription
	count  int
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{topics: make(map[string][]*Subscription)}
}

func (r *MemoryRegistry) Add(subscription *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[subscription.topic] = append(r.topics[subscription.topic], subscription)
	r.count++
}

func (r *MemoryRegistry) Remove(subscription *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	subscriptions := r.topics[subscription.topic]
	for index, existing := range subscriptions {
		if existing != subscription {
			continue
		}
		remaining := append(subscriptions[:index:index], subscriptions[index+1:]...)
		if len(remaining) == 0 {
			delete(r.topics, subscription.topic)
		} else {
			r.topics[subscription.topic] = remaining
		}
		r.count--
		return nil
	}
	return ErrSubscriptionNotFound
}

// Subscribers returns a copy of the topic's subscriptions.
func (r *MemoryRegistry) Subscribers(topic string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Subscription(nil), r.topics[topic]...)
}

func (r *MemoryRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
