// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/clock"
	"github.com/bureau-foundation/frontdesk/lib/codec"
)

const (
	DefaultChannel = "frontdesk.events"
	DefaultOutbox  = 1024

	// retryDelay is how long the shipper waits after a failed
	// publish before trying the same envelope again.
	retryDelay = 2 * time.Second
)

// Sink receives events from other instances. *broadcast.Hub
// satisfies it.
type Sink interface {
	Deliver(topic string, event broadcast.Event) int
}

// Config configures a Relay.
type Config struct {
	Channel string
	Outbox  int

	// Origin identifies this instance. Defaults to a random UUID.
	Origin string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats reports relay counters.
type Stats struct {
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// envelope is the wire form of a relayed event.
type envelope struct {
	Origin string          `cbor:"origin"`
	Topic  string          `cbor:"topic"`
	Event  broadcast.Event `cbor:"event"`
}

// Relay implements broadcast.Relay over Redis pub/sub.
type Relay struct {
	client  redis.UniversalClient
	sink    Sink
	channel string
	origin  string
	clock   clock.Clock
	logger  *slog.Logger
	outbox  *outbox

	published atomic.Uint64
	received  atomic.Uint64
}

// New returns a relay publishing through client and delivering
// inbound events to sink. Call Run to start it.
func New(client redis.UniversalClient, sink Sink, config Config) *Relay {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Origin == "" {
		config.Origin = uuid.NewString()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		client:  client,
		sink:    sink,
		channel: config.Channel,
		origin:  config.Origin,
		clock:   config.Clock,
		logger:  config.Logger,
		outbox:  newOutbox(config.Outbox),
	}
}

// Origin returns the instance ID stamped on outgoing envelopes.
func (r *Relay) Origin() string { return r.origin }

// Forward encodes event and queues it for publishing.
func (r *Relay) Forward(topic string, event broadcast.Event) error {
	data, err := codec.Marshal(envelope{Origin: r.origin, Topic: topic, Event: event})
	if err != nil {
		return fmt.Errorf("redisrelay: encoding %s event: %w", event.Type, err)
	}
	r.outbox.push(data)
	return nil
}

// Run subscribes to the channel and ships the outbox until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redisrelay: subscribing to %s: %w", r.channel, err)
	}
	messages := pubsub.Channel()

	r.logger.Info("relay running", "channel", r.channel, "origin", r.origin)

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case message, ok := <-messages:
			if !ok {
				return errors.New("redisrelay: subscription closed")
			}
			if err := r.handle([]byte(message.Payload)); err != nil {
				r.logger.Warn("discarding relayed event", "error", err)
			}

		case <-r.outbox.notify:
			if retry != nil {
				continue
			}
			if err := r.flush(ctx); err != nil {
				r.logger.Warn("relay publish failed", "error", err, "pending", r.outbox.len())
				retry = r.clock.After(retryDelay)
			}

		case <-retry:
			retry = nil
			if err := r.flush(ctx); err != nil {
				r.logger.Warn("relay publish failed", "error", err, "pending", r.outbox.len())
				retry = r.clock.After(retryDelay)
			}
		}
	}
}

// flush publishes queued envelopes oldest first. It stops at the
// first failure, leaving that envelope queued.
func (r *Relay) flush(ctx context.Context) error {
	for {
		data := r.outbox.peek()
		if data == nil {
			return nil
		}
		if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
			return fmt.Errorf("redisrelay: publishing to %s: %w", r.channel, err)
		}
		r.outbox.pop(data)
		r.published.Add(1)
	}
}

// handle decodes one inbound envelope and delivers it locally unless
// this instance sent it.
func (r *Relay) handle(payload []byte) error {
	var message envelope
	if err := codec.Unmarshal(payload, &message); err != nil {
		return fmt.Errorf("redisrelay: decoding envelope: %w", err)
	}
	if message.Origin == r.origin {
		return nil
	}
	if !broadcast.ValidTopic(message.Topic) {
		return fmt.Errorf("redisrelay: envelope from %s has invalid topic %q", message.Origin, message.Topic)
	}
	r.received.Add(1)
	r.sink.Deliver(message.Topic, message.Event)
	return nil
}

// Stats returns the relay's counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Received:  r.received.Load(),
		Dropped:   r.outbox.droppedCount(),
		Pending:   r.outbox.len(),
	}
}
