// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "fmt"

// Status is the lifecycle state of a ticket.
type Status string

const (
	// StatusWaiting is the initial state: the ticket holds a place in
	// line and has a rank.
	StatusWaiting Status = "waiting"

	// StatusCalled means a window has been assigned and the student
	// has been asked to come forward. The window is occupied.
	StatusCalled Status = "called"

	// StatusInProgress means the student is at the window.
	StatusInProgress Status = "in_progress"

	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// transitions lists every forward move. Staff-only moves are listed
// separately in staffTransitions.
var transitions = map[Status][]Status{
	StatusWaiting:    {StatusCalled, StatusCancelled},
	StatusCalled:     {StatusInProgress, StatusNoShow, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

var staffTransitions = map[Status][]Status{
	StatusInProgress: {StatusCancelled},
}

// ParseStatus validates s against the closed set of statuses.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("queue: unknown status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// IsActive reports whether the ticket still counts against the
// student's single-active-ticket allowance.
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusInProgress
}

// OccupiesWindow reports whether a ticket in this status holds one of
// the service's windows.
func (s Status) OccupiesWindow() bool {
	return s == StatusCalled || s == StatusInProgress
}

// CanTransition reports whether from → to is a move anyone may make.
func CanTransition(from, to Status) bool {
	return contains(transitions[from], to)
}

// StaffMayCancel reports whether staff may cancel a ticket in status
// from. Staff may cancel anything that is not terminal.
func StaffMayCancel(from Status) bool {
	return CanTransition(from, StatusCancelled) || contains(staffTransitions[from], StatusCancelled)
}

// ActiveStatuses lists the non-terminal statuses in lifecycle order.
func ActiveStatuses() []Status {
	return []Status{StatusWaiting, StatusCalled, StatusInProgress}
}

func contains(statuses []Status, target Status) bool {
	for _, status := range statuses {
		if status == target {
			return true
		}
	}
	return false
}
