// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the persistence contract the frontdesk core
// depends on. The core never chooses a storage engine: it is handed a
// [Store] and relies only on the guarantees documented here.
//
// Implementations live in subpackages: memstore (tests and
// single-process development), sqlitestore, and pgstore.
//
// # Guarantees
//
//   - CreateTicket fails with [ErrActiveTicketExists] when the student
//     already holds a non-terminal ticket for any service, even when
//     two creates race.
//   - UpdateStatus is a compare-and-set: it applies only if the ticket
//     is currently in StatusUpdate.From, and fails with [ErrConflict]
//     otherwise. The whole update is one atomic write.
//   - ClaimNext reads the service's active tickets, lets the caller
//     choose which to call and on which window, and writes the call as
//     one atomic step with respect to every other write to that
//     service, including writes from other processes sharing the
//     store. No two CALLED or IN_PROGRESS tickets of a service ever
//     hold the same window.
//   - Reads observe only committed state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

var (
	// ErrNotFound is returned when a ticket, service or statistics row
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by UpdateStatus when the ticket is not in
	// the expected status.
	ErrConflict = errors.New("store: status conflict")

	// ErrActiveTicketExists is returned by CreateTicket when the
	// student already has a non-terminal ticket.
	ErrActiveTicketExists = errors.New("store: student already has an active ticket")
)

// Store is the persistence contract.
type Store interface {
	// CreateTicket inserts a WAITING ticket. The store assigns the
	// display number (next per service per local day of CreatedAt).
	CreateTicket(ctx context.Context, ticket NewTicket) (queue.Ticket, error)

	GetTicket(ctx context.Context, ticketID string) (queue.Ticket, error)

	// GetActiveTicketFor returns the student's non-terminal ticket,
	// or ErrNotFound.
	GetActiveTicketFor(ctx context.Context, studentID string) (queue.Ticket, error)

	// ListActive returns the service's WAITING, CALLED and
	// IN_PROGRESS tickets in no particular order.
	ListActive(ctx context.Context, serviceID string) ([]queue.Ticket, error)

	// UpdateStatus applies update atomically if the ticket is in
	// update.From and returns the ticket as written.
	UpdateStatus(ctx context.Context, update StatusUpdate) (queue.Ticket, error)

	// ClaimNext moves the ticket chosen by claim.Choose from WAITING
	// to CALLED and returns it as written. An error from Choose is
	// returned unwrapped with nothing written. A choice that does not
	// hold against the active tickets fails with ErrConflict.
	ClaimNext(ctx context.Context, claim Claim) (queue.Ticket, error)

	// RecentCompleted returns up to limit COMPLETED tickets of the
	// service, most recently completed first.
	RecentCompleted(ctx context.Context, serviceID string, limit int) ([]queue.Ticket, error)

	// CountCompletedSince counts COMPLETED tickets of the service with
	// CompletedAt at or after since.
	CountCompletedSince(ctx context.Context, serviceID string, since time.Time) (int, error)

	GetService(ctx context.Context, serviceID string) (queue.Service, error)
	ListActiveServices(ctx context.Context) ([]queue.Service, error)

	// PutService inserts or replaces a service definition.
	PutService(ctx context.Context, service queue.Service) error

	UpsertStatistics(ctx context.Context, stats queue.Statistics) error
	GetStatistics(ctx context.Context, serviceID string) (queue.Statistics, error)

	Close() error
}

// NewTicket holds the caller-chosen fields of a ticket being created.
type NewTicket struct {
	ID        string
	StudentID string
	ServiceID string
	Priority  int
	CreatedAt time.Time
}

// StatusUpdate describes one compare-and-set transition.
//
// Timestamp fields are applied when non-nil and never cleared, except
// that Window is cleared whenever To does not occupy a window.
type StatusUpdate struct {
	TicketID string
	From     queue.Status
	To       queue.Status

	CalledAt    *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Window      *int

	OperatorID string
	Notes      string

	UpdatedAt time.Time
}

// Claim describes calling the next ticket of one service.
type Claim struct {
	ServiceID string

	// Choose picks the ticket to call and its window from the
	// service's active tickets as they stand inside the claim. It runs
	// while the store holds the service, so it must not call the
	// store.
	Choose func(active []queue.Ticket) (ticketID string, window int, err error)

	CalledAt   time.Time
	OperatorID string
}

// Update returns the status update that calls ticketID to window.
func (claim Claim) Update(ticketID string, window int) StatusUpdate {
	calledAt := claim.CalledAt
	return StatusUpdate{
		TicketID:   ticketID,
		From:       queue.StatusWaiting,
		To:         queue.StatusCalled,
		CalledAt:   &calledAt,
		Window:     &window,
		OperatorID: claim.OperatorID,
		UpdatedAt:  claim.CalledAt,
	}
}

// Verify checks a choice against the active tickets it was made from.
// The ticket must be a WAITING ticket of the service and no other
// ticket may occupy window. Failures wrap ErrConflict.
func (claim Claim) Verify(active []queue.Ticket, ticketID string, window int) error {
	if window < 0 {
		return fmt.Errorf("window %d: %w", window, ErrConflict)
	}
	found := false
	for _, ticket := range active {
		if ticket.ID == ticketID {
			if ticket.ServiceID != claim.ServiceID || ticket.Status != queue.StatusWaiting {
				return fmt.Errorf("ticket %s is %s in %s: %w", ticket.ID, ticket.Status, ticket.ServiceID, ErrConflict)
			}
			found = true
			continue
		}
		if occupied, ok := ticket.WindowIndex(); ok && occupied == window && ticket.Status.OccupiesWindow() {
			return fmt.Errorf("window %d is held by ticket %s: %w", window, ticket.ID, ErrConflict)
		}
	}
	if !found {
		return fmt.Errorf("ticket %s is not waiting in %s: %w", ticketID, claim.ServiceID, ErrConflict)
	}
	return nil
}

// Apply returns ticket with update applied. Implementations use it so
// every store writes the same columns the same way. It does not check
// From.
func (update StatusUpdate) Apply(ticket queue.Ticket) queue.Ticket {
	ticket.Status = update.To
	if update.CalledAt != nil {
		ticket.CalledAt = timePointer(*update.CalledAt)
	}
	if update.StartedAt != nil {
		ticket.StartedAt = timePointer(*update.StartedAt)
	}
	if update.CompletedAt != nil {
		ticket.CompletedAt = timePointer(*update.CompletedAt)
	}
	if update.To.OccupiesWindow() {
		if update.Window != nil {
			window := *update.Window
			ticket.Window = &window
		}
	} else {
		ticket.Window = nil
	}
	if update.OperatorID != "" {
		ticket.OperatorID = update.OperatorID
	}
	if update.Notes != "" {
		ticket.Notes = update.Notes
	}
	ticket.UpdatedAt = update.UpdatedAt
	return ticket
}

// DayStart returns local midnight of the day containing t, used for
// display-number sequencing and completed-today counts.
func DayStart(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func timePointer(t time.Time) *time.Time {
	return &t
}
