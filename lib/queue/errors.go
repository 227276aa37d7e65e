// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

var (
	// ErrAlreadyQueued means the student already holds an active
	// ticket somewhere.
	ErrAlreadyQueued = errors.New("student already has an active ticket")

	// ErrServiceUnavailable means the service does not exist or is not
	// accepting new tickets.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidTransition means the ticket is not in a status that
	// allows the requested move, including when another caller moved
	// it first.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoCapacity means every window of the service is occupied.
	ErrNoCapacity = errors.New("no free window")

	// ErrQueueEmpty means there is nobody waiting to call.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrNotFound means the ticket does not exist.
	ErrNotFound = errors.New("ticket not found")

	// ErrStoreFailure means the store failed for a reason other than
	// the ones above.
	ErrStoreFailure = errors.New("store failure")

	// ErrInvalidArgument means a required identifier was empty.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransitionError reports a rejected status move.
type TransitionError struct {
	TicketID string
	From     queueschema.Status
	To       queueschema.Status

	// Reason is set when the rejection was not a plain graph check,
	// for example a concurrent update.
	Reason string
}

func (e *TransitionError) Error() string {
	message := fmt.Sprintf("ticket %s: cannot move from %s to %s", e.TicketID, e.From, e.To)
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	return message
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// AlreadyQueuedError names the ticket the student already holds.
type AlreadyQueuedError struct {
	StudentID string
	TicketID  string
	ServiceID string
}

func (e *AlreadyQueuedError) Error() string {
	if e.TicketID == "" {
		return fmt.Sprintf("student %s already has an active ticket", e.StudentID)
	}
	return fmt.Sprintf("student %s already has active ticket %s for %s", e.StudentID, e.TicketID, e.ServiceID)
}

// Is makes errors.Is(err, ErrAlreadyQueued) true.
func (e *AlreadyQueuedError) Is(target error) bool {
	return target == ErrAlreadyQueued
}

// StoreError wraps an unexpected store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreFailure) true.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// CheckTransition returns a *TransitionError unless from → to is a
// legal move. Staff moves additionally allow cancelling a ticket that
// is in progress.
func CheckTransition(ticketID string, from, to queueschema.Status, staff bool) error {
	if queueschema.CanTransition(from, to) {
		return nil
	}
	if staff && to == queueschema.StatusCancelled && queueschema.StaffMayCancel(from) {
		return nil
	}
	return &TransitionError{TicketID: ticketID, From: from, To: to}
}

// Kind returns a short stable label for err, used as a metrics label
// and in socket error responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAlreadyQueued):
		return "already_queued"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNoCapacity):
		return "no_capacity"
	case errors.Is(err, ErrQueueEmpty):
		return "queue_empty"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	}
	return "internal"
}
