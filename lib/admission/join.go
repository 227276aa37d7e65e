// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// JoinRequest asks for a new ticket.
type JoinRequest struct {
	StudentID string
	ServiceID string

	// Priority moves the ticket ahead of lower-priority tickets.
	// Zero is normal.
	Priority int
}

// Join issues a WAITING ticket. It fails with ErrAlreadyQueued if the
// student holds an active ticket for any service, and with
// ErrServiceUnavailable if the service is unknown or inactive. The
// returned position is informational and may be nil if the queue
// could not be read back after the ticket was committed.
func (c *Controller) Join(ctx context.Context, request JoinRequest) (ticket queueschema.Ticket, position *queueschema.Position, err error) {
	defer c.observe("join", c.clock.Now(), &err)

	if request.StudentID == "" {
		return queueschema.Ticket{}, nil, fmt.Errorf("student ID: %w", queue.ErrInvalidArgument)
	}
	if request.ServiceID == "" {
		return queueschema.Ticket{}, nil, fmt.Errorf("service ID: %w", queue.ErrInvalidArgument)
	}

	unlockStudent, err := c.students.Lock(ctx, request.StudentID)
	if err != nil {
		return queueschema.Ticket{}, nil, fmt.Errorf("waiting for student %s: %w", request.StudentID, err)
	}
	defer unlockStudent()
	unlockService, err := c.lockService(ctx, request.ServiceID)
	if err != nil {
		return queueschema.Ticket{}, nil, err
	}
	defer unlockService()

	service, err := c.loadService(ctx, "join", request.ServiceID)
	if err != nil {
		return queueschema.Ticket{}, nil, err
	}
	if !service.Active {
		return queueschema.Ticket{}, nil, fmt.Errorf("service %q is closed: %w", service.ID, queue.ErrServiceUnavailable)
	}

	existing, err := c.store.GetActiveTicketFor(ctx, request.StudentID)
	switch {
	case err == nil:
		return queueschema.Ticket{}, nil, &queue.AlreadyQueuedError{
			StudentID: request.StudentID,
			TicketID:  existing.ID,
			ServiceID: existing.ServiceID,
		}
	case !errors.Is(err, store.ErrNotFound):
		return queueschema.Ticket{}, nil, &queue.StoreError{Op: "join", Err: err}
	}

	before, err := c.snapshot(ctx, "join", service)
	if err != nil {
		return queueschema.Ticket{}, nil, err
	}

	now := c.clock.Now()
	ticketID, err := c.ids.Next(ctx, service.ID, request.StudentID, now)
	if err != nil {
		return queueschema.Ticket{}, nil, &queue.StoreError{Op: "join", Err: err}
	}

	ticket, err = c.store.CreateTicket(ctx, store.NewTicket{
		ID:        ticketID,
		StudentID: request.StudentID,
		ServiceID: service.ID,
		Priority:  request.Priority,
		CreatedAt: now,
	})
	switch {
	case errors.Is(err, store.ErrActiveTicketExists):
		// Another process won the race the lookup above could not see.
		return queueschema.Ticket{}, nil, &queue.AlreadyQueuedError{StudentID: request.StudentID}
	case errors.Is(err, store.ErrNotFound):
		return queueschema.Ticket{}, nil, fmt.Errorf("service %q: %w", service.ID, queue.ErrServiceUnavailable)
	case err != nil:
		return queueschema.Ticket{}, nil, &queue.StoreError{Op: "join", Err: err}
	}

	c.logger.Info("student joined",
		"service_id", service.ID,
		"ticket_id", ticket.ID,
		"student_id", ticket.StudentID,
		"number", service.DisplayNumber(ticket.Number),
		"priority", ticket.Priority,
	)

	if after := c.announce(ctx, broadcast.EventStudentJoined, ticket, service, before); after != nil {
		if found, ok := queue.PositionOf(*after, ticket.ID); ok {
			position = &found
		}
	}
	return ticket, position, nil
}

// Leave cancels the student's own ticket. WAITING and CALLED tickets
// may leave; IN_PROGRESS and terminal tickets fail with
// ErrInvalidTransition.
func (c *Controller) Leave(ctx context.Context, ticketID string) (ticket queueschema.Ticket, err error) {
	defer c.observe("leave", c.clock.Now(), &err)
	return c.transition(ctx, transitionRequest{
		op:       "leave",
		ticketID: ticketID,
		to:       queueschema.StatusCancelled,
		event:    broadcast.EventStudentLeft,
	})
}

// Position returns where the ticket stands right now: its rank among
// waiting tickets with an estimated wait, or rank 0 and BeingServed
// once called. It returns nil for terminal tickets.
func (c *Controller) Position(ctx context.Context, ticketID string) (position *queueschema.Position, err error) {
	defer c.observe("position", c.clock.Now(), &err)

	ticket, err := c.loadTicket(ctx, "position", ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, nil
	}
	snapshot, err := c.Snapshot(ctx, ticket.ServiceID)
	if err != nil {
		return nil, err
	}
	found, ok := queue.PositionOf(snapshot, ticket.ID)
	if !ok {
		// The ticket reached a terminal status between the two reads.
		return nil, nil
	}
	return &found, nil
}

// Snapshot returns the service's current queue with wait estimates.
// Subscribers that missed events pull it to resynchronize.
func (c *Controller) Snapshot(ctx context.Context, serviceID string) (queueschema.Snapshot, error) {
	if serviceID == "" {
		return queueschema.Snapshot{}, fmt.Errorf("service ID: %w", queue.ErrInvalidArgument)
	}
	service, err := c.loadService(ctx, "snapshot", serviceID)
	if err != nil {
		return queueschema.Snapshot{}, err
	}
	snapshot, err := c.snapshot(ctx, "snapshot", service)
	if err != nil {
		return queueschema.Snapshot{}, err
	}
	if _, _, err := c.estimator.Annotate(ctx, service, &snapshot); err != nil {
		return queueschema.Snapshot{}, &queue.StoreError{Op: "snapshot", Err: err}
	}
	return snapshot, nil
}

// ComputeStatistics derives the service's statistics from committed
// state. It does not persist or publish them.
func (c *Controller) ComputeStatistics(ctx context.Context, serviceID string) (queueschema.Statistics, error) {
	service, err := c.loadService(ctx, "statistics", serviceID)
	if err != nil {
		return queueschema.Statistics{}, err
	}
	// Other processes sharing the store complete tickets this
	// estimator never sees recorded.
	if err := c.estimator.Reseed(ctx, service.ID); err != nil {
		return queueschema.Statistics{}, &queue.StoreError{Op: "statistics", Err: err}
	}
	snapshot, err := c.snapshot(ctx, "statistics", service)
	if err != nil {
		return queueschema.Statistics{}, err
	}
	newcomer, average, err := c.estimator.Annotate(ctx, service, &snapshot)
	if err != nil {
		return queueschema.Statistics{}, &queue.StoreError{Op: "statistics", Err: err}
	}
	now := c.clock.Now()
	completed, err := c.store.CountCompletedSince(ctx, service.ID, store.DayStart(now))
	if err != nil {
		return queueschema.Statistics{}, &queue.StoreError{Op: "statistics", Err: err}
	}
	return queueschema.Statistics{
		ServiceID:             service.ID,
		WaitingCount:          len(snapshot.Waiting),
		InProgressCount:       len(snapshot.Serving),
		EstimatedWaitMinutes:  newcomer.Minutes,
		AverageServiceMinutes: math.Round(average.Minutes*10) / 10,
		CompletedToday:        completed,
		Confidence:            newcomer.Confidence,
		UpdatedAt:             now,
	}, nil
}
