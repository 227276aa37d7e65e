// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/clock"
	"github.com/bureau-foundation/frontdesk/lib/estimate"
	"github.com/bureau-foundation/frontdesk/lib/keyedlock"
	"github.com/bureau-foundation/frontdesk/lib/metrics"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
	"github.com/bureau-foundation/frontdesk/lib/ticketid"
)

// Publisher receives events after each committed transition.
// *broadcast.Hub satisfies it.
type Publisher interface {
	Publish(event broadcast.Event, topics ...string)
}

// Config configures a Controller. Store is required.
type Config struct {
	Store store.Store

	// Estimator defaults to one seeded from Store.
	Estimator *estimate.Estimator

	// Publisher defaults to discarding events.
	Publisher Publisher

	// Ordering ranks waiting tickets. The zero value is strict
	// priority then FIFO.
	Ordering queue.Ordering

	// IDPrefix is the ticket ID prefix.
	IDPrefix string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller performs queue operations. Safe for concurrent use.
type Controller struct {
	store     store.Store
	estimator *estimate.Estimator
	publisher Publisher
	ordering  queue.Ordering
	ids       *ticketid.Generator
	clock     clock.Clock
	logger    *slog.Logger

	services keyedlock.Locks
	students keyedlock.Locks
}

type discardPublisher struct{}

func (discardPublisher) Publish(broadcast.Event, ...string) {}

// New returns a Controller.
func New(config Config) (*Controller, error) {
	if config.Store == nil {
		return nil, errors.New("admission: Store is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Estimator == nil {
		config.Estimator = estimate.New(config.Store, estimate.Config{Clock: config.Clock})
	}
	if config.Publisher == nil {
		config.Publisher = discardPublisher{}
	}
	controller := &Controller{
		store:     config.Store,
		estimator: config.Estimator,
		publisher: config.Publisher,
		ordering:  config.Ordering,
		clock:     config.Clock,
		logger:    config.Logger,
	}
	controller.ids = ticketid.New(config.IDPrefix, controller.ticketIDTaken)
	return controller, nil
}

// Estimator returns the controller's estimator.
func (c *Controller) Estimator() *estimate.Estimator { return c.estimator }

func (c *Controller) ticketIDTaken(ctx context.Context, id string) (bool, error) {
	_, err := c.store.GetTicket(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, err
}

// lockService acquires the service's critical section.
func (c *Controller) lockService(ctx context.Context, serviceID string) (func(), error) {
	unlock, err := c.services.Lock(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("waiting for service %s: %w", serviceID, err)
	}
	return unlock, nil
}

// observe records latency and, on failure, the rejection kind of one
// operation. Call it deferred with a pointer to the named error.
func (c *Controller) observe(operation string, start time.Time, err *error) {
	metrics.RecordOperationDuration(operation, c.clock.Now().Sub(start))
	if *err != nil {
		metrics.RecordRejection(operation, queue.Kind(*err))
	}
}

// loadService maps a missing service to ErrServiceUnavailable.
func (c *Controller) loadService(ctx context.Context, op, serviceID string) (queueschema.Service, error) {
	service, err := c.store.GetService(ctx, serviceID)
	switch {
	case err == nil:
		return service, nil
	case errors.Is(err, store.ErrNotFound):
		return queueschema.Service{}, fmt.Errorf("service %q: %w", serviceID, queue.ErrServiceUnavailable)
	}
	return queueschema.Service{}, &queue.StoreError{Op: op, Err: err}
}

// loadTicket maps a missing ticket to ErrNotFound.
func (c *Controller) loadTicket(ctx context.Context, op, ticketID string) (queueschema.Ticket, error) {
	if ticketID == "" {
		return queueschema.Ticket{}, fmt.Errorf("ticket ID: %w", queue.ErrInvalidArgument)
	}
	ticket, err := c.store.GetTicket(ctx, ticketID)
	switch {
	case err == nil:
		return ticket, nil
	case errors.Is(err, store.ErrNotFound):
		return queueschema.Ticket{}, fmt.Errorf("ticket %q: %w", ticketID, queue.ErrNotFound)
	}
	return queueschema.Ticket{}, &queue.StoreError{Op: op, Err: err}
}

// snapshot builds the unannotated queue of service from committed
// state.
func (c *Controller) snapshot(ctx context.Context, op string, service queueschema.Service) (queueschema.Snapshot, error) {
	active, err := c.store.ListActive(ctx, service.ID)
	if err != nil {
		return queueschema.Snapshot{}, &queue.StoreError{Op: op, Err: err}
	}
	return c.ordering.Snapshot(service, active, c.clock.Now()), nil
}

// annotate fills wait estimates on snapshot. Failures are logged and
// leave the estimates zero: a committed transition must not be
// reported as failed because history could not be read.
func (c *Controller) annotate(ctx context.Context, service queueschema.Service, snapshot *queueschema.Snapshot) {
	if _, _, err := c.estimator.Annotate(ctx, service, snapshot); err != nil {
		c.logger.Warn("wait estimate unavailable",
			"service_id", service.ID,
			"error", err,
		)
	}
}

// announce publishes the events for one committed transition of
// ticket: the lifecycle event to the service, student and admin
// topics, the fresh queue to the service and admin topics, and a
// position update to every student whose rank moved. It must be
// called with the service lock held.
func (c *Controller) announce(ctx context.Context, eventType broadcast.EventType, ticket queueschema.Ticket, service queueschema.Service, before queueschema.Snapshot) *queueschema.Snapshot {
	now := c.clock.Now()
	serviceTopic := broadcast.ServiceTopic(ticket.ServiceID)
	c.publisher.Publish(broadcast.TicketEvent(eventType, ticket, now),
		serviceTopic, broadcast.UserTopic(ticket.StudentID), broadcast.TopicAdmin)
	metrics.RecordTransition(ticket.ServiceID, string(ticket.Status))

	after, err := c.snapshot(ctx, "announce", service)
	if err != nil {
		c.logger.Warn("queue snapshot unavailable after transition",
			"service_id", ticket.ServiceID,
			"ticket_id", ticket.ID,
			"error", err,
		)
		return nil
	}
	c.annotate(ctx, service, &after)

	c.publisher.Publish(broadcast.Event{
		Type:      broadcast.EventQueueUpdated,
		ServiceID: service.ID,
		At:        now,
		Snapshot:  &after,
	}, serviceTopic, broadcast.TopicAdmin)

	for _, change := range queue.RankChanges(before, after) {
		position, ok := queue.PositionOf(after, change.Entry.Ticket.ID)
		if !ok {
			continue
		}
		c.publisher.Publish(broadcast.Event{
			Type:      broadcast.EventPositionChanged,
			ServiceID: service.ID,
			StudentID: change.Entry.Ticket.StudentID,
			TicketID:  change.Entry.Ticket.ID,
			At:        now,
			Position:  &position,
		}, broadcast.UserTopic(change.Entry.Ticket.StudentID))
	}
	return &after
}
