// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// claimAttempts bounds how often CallNext retries a claim that lost a
// race in the store.
const claimAttempts = 3

// CallNext moves the head of the service's queue to CALLED on the
// lowest free window. It fails with ErrNoCapacity when every window is
// occupied and ErrQueueEmpty when nobody is waiting. The choice of
// ticket and window is made inside the store's claim, so concurrent
// calls never select the same ticket or window, even from processes
// sharing the store.
func (c *Controller) CallNext(ctx context.Context, serviceID, operatorID string) (ticket queueschema.Ticket, err error) {
	defer c.observe("call_next", c.clock.Now(), &err)

	if serviceID == "" {
		return queueschema.Ticket{}, fmt.Errorf("service ID: %w", queue.ErrInvalidArgument)
	}
	unlock, err := c.lockService(ctx, serviceID)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	defer unlock()

	service, err := c.loadService(ctx, "call_next", serviceID)
	if err != nil {
		return queueschema.Ticket{}, err
	}

	var (
		before queueschema.Snapshot
		window int
	)
	for attempt := 1; ; attempt++ {
		now := c.clock.Now()
		ticket, err = c.store.ClaimNext(ctx, store.Claim{
			ServiceID: service.ID,
			Choose: func(active []queueschema.Ticket) (string, int, error) {
				before = c.ordering.Snapshot(service, active, now)
				free, ok := queue.FreeWindow(before)
				if !ok {
					return "", 0, fmt.Errorf("service %q has %d of %d windows busy: %w",
						service.ID, len(before.Serving), before.Capacity, queue.ErrNoCapacity)
				}
				head, ok := queue.Head(before)
				if !ok {
					return "", 0, fmt.Errorf("service %q: %w", service.ID, queue.ErrQueueEmpty)
				}
				window = free
				return head.ID, free, nil
			},
			CalledAt:   now,
			OperatorID: operatorID,
		})
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, queue.ErrNoCapacity), errors.Is(err, queue.ErrQueueEmpty):
			return queueschema.Ticket{}, err
		case !errors.Is(err, store.ErrConflict):
			return queueschema.Ticket{}, &queue.StoreError{Op: "call_next", Err: err}
		case attempt == claimAttempts:
			return queueschema.Ticket{}, fmt.Errorf("service %q: every claim lost to a concurrent call: %w",
				service.ID, queue.ErrNoCapacity)
		}
		c.logger.Debug("claim lost to a concurrent call, retrying",
			"service_id", service.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	c.logger.Info("ticket called",
		"service_id", service.ID,
		"ticket_id", ticket.ID,
		"number", service.DisplayNumber(ticket.Number),
		"window", window,
		"operator_id", operatorID,
	)
	c.announce(ctx, broadcast.EventTicketCalled, ticket, service, before)
	return ticket, nil
}

// BeginService moves a CALLED ticket to IN_PROGRESS. The ticket keeps
// its window.
func (c *Controller) BeginService(ctx context.Context, ticketID string) (ticket queueschema.Ticket, err error) {
	defer c.observe("begin_service", c.clock.Now(), &err)
	return c.transition(ctx, transitionRequest{
		op:       "begin_service",
		ticketID: ticketID,
		to:       queueschema.StatusInProgress,
		event:    broadcast.EventServiceStarted,
	})
}

// Complete moves an IN_PROGRESS ticket to COMPLETED and feeds the
// realized service time to the estimator. Completing a ticket twice
// fails the second time with ErrInvalidTransition.
func (c *Controller) Complete(ctx context.Context, ticketID, notes string) (ticket queueschema.Ticket, err error) {
	defer c.observe("complete", c.clock.Now(), &err)
	ticket, err = c.transition(ctx, transitionRequest{
		op:        "complete",
		ticketID:  ticketID,
		to:        queueschema.StatusCompleted,
		notes:     notes,
		event:     broadcast.EventServiceCompleted,
		committed: c.estimator.Record,
	})
	return ticket, err
}

// MarkNoShow moves a CALLED ticket to NO_SHOW, freeing its window.
func (c *Controller) MarkNoShow(ctx context.Context, ticketID string) (ticket queueschema.Ticket, err error) {
	defer c.observe("no_show", c.clock.Now(), &err)
	return c.transition(ctx, transitionRequest{
		op:       "no_show",
		ticketID: ticketID,
		to:       queueschema.StatusNoShow,
		event:    broadcast.EventTicketNoShow,
	})
}

// AdminCancel cancels any non-terminal ticket, including one in
// progress.
func (c *Controller) AdminCancel(ctx context.Context, ticketID string) (ticket queueschema.Ticket, err error) {
	defer c.observe("admin_cancel", c.clock.Now(), &err)
	return c.transition(ctx, transitionRequest{
		op:       "admin_cancel",
		ticketID: ticketID,
		to:       queueschema.StatusCancelled,
		staff:    true,
		event:    broadcast.EventTicketCancelled,
	})
}

type transitionRequest struct {
	op       string
	ticketID string
	to       queueschema.Status
	staff    bool
	notes    string
	event    broadcast.EventType

	// committed runs after the store write, under the service lock,
	// before events are published.
	committed func(queueschema.Ticket)
}

// transition moves one ticket under its service's lock. The ticket is
// read once to find the service and again under the lock, so the
// transition check sees the status the write will compare against.
func (c *Controller) transition(ctx context.Context, request transitionRequest) (queueschema.Ticket, error) {
	ticket, err := c.loadTicket(ctx, request.op, request.ticketID)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	unlock, err := c.lockService(ctx, ticket.ServiceID)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	defer unlock()

	ticket, err = c.loadTicket(ctx, request.op, request.ticketID)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	if err := queue.CheckTransition(ticket.ID, ticket.Status, request.to, request.staff); err != nil {
		return queueschema.Ticket{}, err
	}
	service, err := c.loadService(ctx, request.op, ticket.ServiceID)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	before, err := c.snapshot(ctx, request.op, service)
	if err != nil {
		return queueschema.Ticket{}, err
	}

	now := c.clock.Now()
	update := store.StatusUpdate{
		TicketID:  ticket.ID,
		From:      ticket.Status,
		To:        request.to,
		Notes:     request.notes,
		UpdatedAt: now,
	}
	switch request.to {
	case queueschema.StatusInProgress:
		update.StartedAt = &now
	case queueschema.StatusCompleted:
		update.CompletedAt = &now
	}

	updated, err := c.apply(ctx, request.op, update)
	if err != nil {
		return queueschema.Ticket{}, err
	}
	if request.committed != nil {
		request.committed(updated)
	}

	c.logger.Info("ticket transitioned",
		"service_id", updated.ServiceID,
		"ticket_id", updated.ID,
		"from", string(ticket.Status),
		"to", string(updated.Status),
		"by_staff", request.staff,
	)
	c.announce(ctx, request.event, updated, service, before)
	return updated, nil
}

// apply performs the store's compare-and-set and maps its errors.
func (c *Controller) apply(ctx context.Context, op string, update store.StatusUpdate) (queueschema.Ticket, error) {
	ticket, err := c.store.UpdateStatus(ctx, update)
	switch {
	case err == nil:
		return ticket, nil
	case errors.Is(err, store.ErrConflict):
		return queueschema.Ticket{}, &queue.TransitionError{
			TicketID: update.TicketID,
			From:     update.From,
			To:       update.To,
			Reason:   "ticket changed concurrently",
		}
	case errors.Is(err, store.ErrNotFound):
		return queueschema.Ticket{}, fmt.Errorf("ticket %q: %w", update.TicketID, queue.ErrNotFound)
	}
	return queueschema.Ticket{}, &queue.StoreError{Op: op, Err: err}
}
