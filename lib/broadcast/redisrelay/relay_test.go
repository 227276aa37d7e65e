// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisrelay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/codec"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

var at = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type delivery struct {
	Topic string
	Event broadcast.Event
}

type recordingSink struct {
	deliveries []delivery
}

func (s *recordingSink) Deliver(topic string, event broadcast.Event) int {
	s.deliveries = append(s.deliveries, delivery{Topic: topic, Event: event})
	return 1
}

func calledEvent() broadcast.Event {
	window := 1
	called := at
	return broadcast.TicketEvent(broadcast.EventTicketCalled, queueschema.Ticket{
		ID:        "tk-3f9a2c",
		StudentID: "s-100",
		ServiceID: "transcripts",
		Status:    queueschema.StatusCalled,
		Number:    7,
		CreatedAt: at.Add(-10 * time.Minute),
		CalledAt:  &called,
		Window:    &window,
		UpdatedAt: at,
	}, at)
}

func encode(t *testing.T, origin, topic string, event broadcast.Event) []byte {
	t.Helper()
	data, err := codec.Marshal(envelope{Origin: origin, Topic: topic, Event: event})
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	return data
}

func TestFlushPublishesInOrder(t *testing.T) {
	client, mock := redismock.NewClientMock()
	relay := New(client, &recordingSink{}, Config{Origin: "instance-a"})

	first := calledEvent()
	second := broadcast.Event{Type: broadcast.EventQueueUpdated, ServiceID: "transcripts", At: at}
	if err := relay.Forward(broadcast.ServiceTopic("transcripts"), first); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := relay.Forward(broadcast.TopicAdmin, second); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	mock.ExpectPublish(DefaultChannel, encode(t, "instance-a", broadcast.ServiceTopic("transcripts"), first)).SetVal(1)
	mock.ExpectPublish(DefaultChannel, encode(t, "instance-a", broadcast.TopicAdmin, second)).SetVal(1)

	if err := relay.flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if stats := relay.Stats(); stats.Published != 2 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 2 published, 0 pending", stats)
	}
}

func TestFailedPublishStaysQueued(t *testing.T) {
	client, mock := redismock.NewClientMock()
	relay := New(client, &recordingSink{}, Config{Origin: "instance-a", Channel: "custom"})
	event := calledEvent()
	relay.Forward(broadcast.TopicAdmin, event)
	payload := encode(t, "instance-a", broadcast.TopicAdmin, event)

	mock.ExpectPublish("custom", payload).SetErr(errors.New("connection refused"))
	if err := relay.flush(context.Background()); err == nil {
		t.Fatal("flush succeeded against a failing client")
	}
	if pending := relay.Stats().Pending; pending != 1 {
		t.Fatalf("pending = %d after failure, want 1", pending)
	}

	mock.ExpectPublish("custom", payload).SetVal(0)
	if err := relay.flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if stats := relay.Stats(); stats.Pending != 0 || stats.Published != 1 {
		t.Errorf("stats = %+v, want 1 published, 0 pending", stats)
	}
}

func TestOutboxDropsOldest(t *testing.T) {
	client, _ := redismock.NewClientMock()
	relay := New(client, &recordingSink{}, Config{Outbox: 2})
	for _, ticketID := range []string{"a", "b", "c"} {
		relay.Forward(broadcast.TopicQueue, broadcast.Event{Type: broadcast.EventStatisticsUpdated, TicketID: ticketID, At: at})
	}
	if stats := relay.Stats(); stats.Dropped != 1 || stats.Pending != 2 {
		t.Fatalf("stats = %+v, want 1 dropped, 2 pending", stats)
	}

	var oldest envelope
	if err := codec.Unmarshal(relay.outbox.peek(), &oldest); err != nil {
		t.Fatalf("decoding oldest: %v", err)
	}
	if oldest.Event.TicketID != "b" {
		t.Errorf("oldest queued = %q, want b", oldest.Event.TicketID)
	}
}

func TestInboundEventsReachSink(t *testing.T) {
	client, _ := redismock.NewClientMock()
	sender := New(client, &recordingSink{}, Config{Origin: "instance-a"})
	sink := &recordingSink{}
	receiver := New(client, sink, Config{Origin: "instance-b"})

	event := calledEvent()
	sender.Forward(broadcast.UserTopic("s-100"), event)

	if err := receiver.handle(sender.outbox.peek()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := []delivery{{Topic: broadcast.UserTopic("s-100"), Event: event}}
	if diff := cmp.Diff(want, sink.deliveries); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	if received := receiver.Stats().Received; received != 1 {
		t.Errorf("received = %d, want 1", received)
	}
}

func TestOwnEventsAreSkipped(t *testing.T) {
	client, _ := redismock.NewClientMock()
	sink := &recordingSink{}
	relay := New(client, sink, Config{Origin: "instance-a"})
	if err := relay.handle(encode(t, "instance-a", broadcast.TopicAdmin, calledEvent())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.deliveries) != 0 {
		t.Errorf("own event delivered %d times", len(sink.deliveries))
	}
}

func TestMalformedEnvelopes(t *testing.T) {
	client, _ := redismock.NewClientMock()
	sink := &recordingSink{}
	relay := New(client, sink, Config{Origin: "instance-a"})

	if err := relay.handle([]byte("not cbor")); err == nil {
		t.Error("garbage payload accepted")
	}
	if err := relay.handle(encode(t, "instance-b", "nowhere", calledEvent())); err == nil {
		t.Error("invalid topic accepted")
	}
	if len(sink.deliveries) != 0 {
		t.Errorf("malformed envelopes delivered %d events", len(sink.deliveries))
	}
}

func TestDefaultOriginIsUnique(t *testing.T) {
	client, _ := redismock.NewClientMock()
	first := New(client, &recordingSink{}, Config{})
	second := New(client, &recordingSink{}, Config{})
	if first.Origin() == "" || first.Origin() == second.Origin() {
		t.Errorf("origins %q and %q should be distinct and non-empty", first.Origin(), second.Origin())
	}
}
