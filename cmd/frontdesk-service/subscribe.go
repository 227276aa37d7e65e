// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/metrics"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/service"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// subscribeRequest names the topic to follow. Topic wins over the
// shorthand fields.
type subscribeRequest struct {
	Topic     string `cbor:"topic"`
	ServiceID string `cbor:"service_id"`
	StudentID string `cbor:"student_id"`
}

func (r subscribeRequest) topic() (string, error) {
	topic := r.Topic
	switch {
	case topic != "":
	case r.ServiceID != "":
		topic = broadcast.ServiceTopic(r.ServiceID)
	case r.StudentID != "":
		topic = broadcast.UserTopic(r.StudentID)
	default:
		return "", fmt.Errorf("%w: topic, service_id or student_id is required", queue.ErrInvalidArgument)
	}
	if !broadcast.ValidTopic(topic) {
		return "", fmt.Errorf("%w: topic %q", queue.ErrInvalidArgument, topic)
	}
	return topic, nil
}

// defaultHeartbeat applies when no heartbeat interval is configured.
const defaultHeartbeat = 30 * time.Second

// Subscribe frame types.
const (
	// frameSnapshot carries the current state of the topic. It is the
	// first frame of every stream and follows every resync frame.
	frameSnapshot = "snapshot"

	// frameEvent carries one live event.
	frameEvent = "event"

	// frameHeartbeat is sent when the stream has been idle for a
	// heartbeat interval.
	frameHeartbeat = "heartbeat"

	// frameResync means events were dropped. The client discards its
	// local state; a snapshot frame follows.
	frameResync = "resync"
)

// subscribeFrame is one value written on a subscribe stream.
//
// Snapshot frames for a service topic carry that service's snapshot;
// for the admin and queue topics they carry one snapshot per active
// service. Snapshot frames for a user topic carry the student's
// position, absent when they have no active ticket.
type subscribeFrame struct {
	Type      string                 `cbor:"type"`
	Topic     string                 `cbor:"topic,omitempty"`
	Snapshots []queueschema.Snapshot `cbor:"snapshots,omitempty"`
	Position  *queueschema.Position  `cbor:"position,omitempty"`
	Event     *broadcast.Event       `cbor:"event,omitempty"`
}

// handleSubscribe registers a subscription before reading state, so
// no event committed after the snapshot is missed. Events already
// reflected in the snapshot may be repeated.
func (fd *FrontDesk) handleSubscribe(ctx context.Context, raw []byte, stream *service.StreamConn) error {
	var request subscribeRequest
	if err := decodeRequest(raw, &request); err != nil {
		return err
	}
	topic, err := request.topic()
	if err != nil {
		return err
	}

	subscription, err := fd.hub.Subscribe(topic, fd.buffer)
	if err != nil {
		if errors.Is(err, broadcast.ErrInvalidTopic) {
			return fmt.Errorf("%w: %v", queue.ErrInvalidArgument, err)
		}
		return err
	}
	metrics.AddSubscribers(1)
	defer func() {
		fd.hub.Unsubscribe(subscription)
		metrics.AddSubscribers(-1)
	}()

	// A snapshot failure before the first frame rejects the stream.
	snapshot, err := fd.topicSnapshot(ctx, topic)
	if err != nil {
		return err
	}

	logger := fd.logger.With("topic", topic, "subscription", subscription.ID())
	logger.Info("subscribe stream started")
	defer logger.Info("subscribe stream ended")

	if err := stream.Send(snapshot); err != nil {
		return err
	}

	interval := fd.heartbeat
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	heartbeat := fd.clock.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		if subscription.TakeResync() {
			dropped := subscription.Drain()
			logger.Warn("subscriber fell behind, resynchronizing", "drained", dropped)
			if err := stream.Send(subscribeFrame{Type: frameResync, Topic: topic}); err != nil {
				return err
			}
			snapshot, err := fd.topicSnapshot(ctx, topic)
			if err != nil {
				return err
			}
			if err := stream.Send(snapshot); err != nil {
				return err
			}
			heartbeat.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-subscription.Events():
			if !ok {
				// The hub closed.
				return nil
			}
			if err := stream.Send(subscribeFrame{Type: frameEvent, Topic: topic, Event: &event}); err != nil {
				return err
			}
			heartbeat.Reset(interval)

		case <-heartbeat.C:
			if err := stream.Send(subscribeFrame{Type: frameHeartbeat}); err != nil {
				return err
			}
		}
	}
}

// topicSnapshot builds the snapshot frame for topic.
func (fd *FrontDesk) topicSnapshot(ctx context.Context, topic string) (subscribeFrame, error) {
	frame := subscribeFrame{Type: frameSnapshot, Topic: topic}

	switch broadcast.TopicKind(topic) {
	case "service":
		snapshot, err := fd.controller.Snapshot(ctx, strings.TrimPrefix(topic, broadcast.ServiceTopic("")))
		if err != nil {
			return frame, err
		}
		frame.Snapshots = []queueschema.Snapshot{snapshot}

	case "user":
		studentID := strings.TrimPrefix(topic, broadcast.UserTopic(""))
		ticket, err := fd.store.GetActiveTicketFor(ctx, studentID)
		if errors.Is(err, store.ErrNotFound) {
			return frame, nil
		}
		if err != nil {
			return frame, &queue.StoreError{Op: "subscribe", Err: err}
		}
		position, err := fd.controller.Position(ctx, ticket.ID)
		if err != nil {
			return frame, err
		}
		frame.Position = position

	default:
		services, err := fd.store.ListActiveServices(ctx)
		if err != nil {
			return frame, &queue.StoreError{Op: "subscribe", Err: err}
		}
		for _, active := range services {
			snapshot, err := fd.controller.Snapshot(ctx, active.ID)
			if err != nil {
				return frame, err
			}
			frame.Snapshots = append(frame.Snapshots, snapshot)
		}
	}
	return frame, nil
}
