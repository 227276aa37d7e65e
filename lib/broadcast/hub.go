// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("broadcast: hub closed")

	// ErrInvalidTopic is returned by Subscribe for a malformed topic.
	ErrInvalidTopic = errors.New("broadcast: invalid topic")
)

// Relay forwards locally published events to other instances.
// Forward must not block on the network; implementations queue the
// event and ship it asynchronously.
type Relay interface {
	Forward(topic string, event Event) error
}

// Config configures a Hub. All fields are optional.
type Config struct {
	// Registry defaults to a new MemoryRegistry.
	Registry Registry

	// Relay, when set, receives every event passed to Publish.
	Relay Relay

	// Buffer is the default subscriber channel size.
	Buffer int

	// OnDeliver and OnDrop are called once per subscriber per event,
	// with the hub's lock held. They must not block.
	OnDeliver func(topic string)
	OnDrop    func(topic string)

	Logger *slog.Logger
}

// Hub delivers events to subscriptions. Safe for concurrent use.
type Hub struct {
	registry  Registry
	buffer    int
	onDeliver func(string)
	onDrop    func(string)
	logger    *slog.Logger

	// mu orders deliveries so every subscriber of a topic observes
	// the same publish order, and keeps Unsubscribe from closing a
	// channel mid-send.
	mu     sync.Mutex
	relay  Relay
	closed bool
}

// NewHub returns a hub configured by config.
func NewHub(config Config) *Hub {
	if config.Registry == nil {
		config.Registry = NewMemoryRegistry()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	return &Hub{
		registry:  config.Registry,
		relay:     config.Relay,
		buffer:    config.Buffer,
		onDeliver: config.OnDeliver,
		onDrop:    config.OnDrop,
		logger:    config.Logger,
	}
}

// SetRelay installs or replaces the relay. A relay usually needs the
// hub to deliver inbound events, so it is attached after both exist.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

// Subscribe attaches a new subscription to topic. A non-positive
// buffer selects the hub's default.
func (h *Hub) Subscribe(topic string, buffer int) (*Subscription, error) {
	if !ValidTopic(topic) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if buffer <= 0 {
		buffer = h.buffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	subscription := newSubscription(topic, buffer)
	h.registry.Add(subscription)
	h.logger.Debug("subscription added", "topic", topic, "subscription_id", subscription.id)
	return subscription, nil
}

// Unsubscribe detaches subscription and closes its channel. Calling
// it twice is harmless.
func (h *Hub) Unsubscribe(subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.registry.Remove(subscription); err == nil {
		h.logger.Debug("subscription removed",
			"topic", subscription.topic,
			"subscription_id", subscription.id,
			"sent", subscription.sent.Load(),
			"dropped", subscription.dropped.Load(),
		)
	}
	subscription.close()
}

// Publish delivers event to the local subscribers of each topic and
// hands it to the relay. It never blocks and never fails: relay
// errors are logged.
func (h *Hub) Publish(event Event, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, topic := range topics {
		h.deliverLocked(topic, event)
		if h.relay == nil {
			continue
		}
		if err := h.relay.Forward(topic, event); err != nil {
			h.logger.Warn("relay forward failed",
				"topic", topic,
				"event_type", string(event.Type),
				"error", err,
			)
		}
	}
}

// Deliver hands event to local subscribers of topic only. Relays call
// it for events received from other instances. It returns the number
// of subscriptions that accepted the event.
func (h *Hub) Deliver(topic string, event Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	return h.deliverLocked(topic, event)
}

func (h *Hub) deliverLocked(topic string, event Event) int {
	delivered := 0
	for _, subscription := range h.registry.Subscribers(topic) {
		if subscription.offer(event) {
			delivered++
			if h.onDeliver != nil {
				h.onDeliver(topic)
			}
			continue
		}
		if h.onDrop != nil {
			h.onDrop(topic)
		}
		h.logger.Debug("subscriber overflow, marked for resync",
			"topic", topic,
			"subscription_id", subscription.id,
			"event_type", string(event.Type),
		)
	}
	return delivered
}

// Stats returns counters for every live subscription ordered by
// topic, then ID.
func (h *Hub) Stats() []SubscriptionStats {
	var stats []SubscriptionStats
	for _, topic := range h.registry.Topics() {
		for _, subscription := range h.registry.Subscribers(topic) {
			stats = append(stats, subscription.Stats())
		}
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Topic != stats[j].Topic {
			return stats[i].Topic < stats[j].Topic
		}
		return stats[i].ID < stats[j].ID
	})
	return stats
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int { return h.registry.Len() }

// Close detaches every subscription, closing their channels. Later
// publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, topic := range h.registry.Topics() {
		for _, subscription := range h.registry.Subscribers(topic) {
			h.registry.Remove(subscription)
			subscription.close()
		}
	}
}
