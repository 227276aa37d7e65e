// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Service is a desk function students queue for ("transcripts",
// "enrollment"). Services are administered outside the core; the core
// reads them and never changes their identity.
type Service struct {
	// ID is the stable identifier used in topics and store keys.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// BaseServiceMinutes is the configured estimate of how long one
	// student takes at a window. Used until enough history exists.
	BaseServiceMinutes float64 `json:"base_service_minutes"`

	// Windows is the number of operators that may serve this service
	// at the same time. Zero means one.
	Windows int `json:"windows"`

	// Active services accept new tickets. Inactive services can still
	// be drained by staff.
	Active bool `json:"active"`

	// Prefix is prepended to display numbers ("A" → "A-014").
	Prefix string `json:"prefix,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

var serviceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Capacity returns the window count, at least 1.
func (s Service) Capacity() int {
	if s.Windows < 1 {
		return 1
	}
	return s.Windows
}

// DisplayNumber formats a ticket number for the lobby board.
func (s Service) DisplayNumber(number int) string {
	if s.Prefix == "" {
		return fmt.Sprintf("%03d", number)
	}
	return fmt.Sprintf("%s-%03d", s.Prefix, number)
}

// Validate checks the fields a store needs before persisting s.
func (s *Service) Validate() error {
	if !serviceIDPattern.MatchString(s.ID) {
		return fmt.Errorf("service: id %q must match %s", s.ID, serviceIDPattern)
	}
	if s.Name == "" {
		return errors.New("service: name is required")
	}
	if s.BaseServiceMinutes <= 0 {
		return fmt.Errorf("service %s: base_service_minutes must be positive, got %v", s.ID, s.BaseServiceMinutes)
	}
	if s.Windows < 0 {
		return fmt.Errorf("service %s: windows must not be negative, got %d", s.ID, s.Windows)
	}
	return nil
}

// Ticket is one student's claim on a place in a service's line.
//
// Rank is deliberately absent: it is derived from the active set on
// every read and never stored.
type Ticket struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	ServiceID string `json:"service_id"`
	Status    Status `json:"status"`

	// Priority orders tickets ahead of arrival time. Higher is served
	// sooner. Zero for ordinary students.
	Priority int `json:"priority"`

	// Number is the per-service display number, restarting at 1 each
	// local day.
	Number int `json:"number"`

	CreatedAt   time.Time  `json:"created_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Window is the 0-based window index. Set only while the status
	// occupies a window.
	Window *int `json:"window,omitempty"`

	// OperatorID identifies the staff member who called the ticket.
	OperatorID string `json:"operator_id,omitempty"`

	// Notes holds the operator's completion notes.
	Notes string `json:"notes,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceDuration returns CompletedAt − CalledAt for a completed
// ticket, and false if either timestamp is missing or the result is
// negative.
func (t Ticket) ServiceDuration() (time.Duration, bool) {
	if t.CalledAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	duration := t.CompletedAt.Sub(*t.CalledAt)
	if duration < 0 {
		return 0, false
	}
	return duration, true
}

// WindowIndex returns the assigned window and whether one is set.
func (t Ticket) WindowIndex() (int, bool) {
	if t.Window == nil {
		return 0, false
	}
	return *t.Window, true
}

// Confidence tags how much a wait estimate can be trusted.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RankedTicket is a waiting ticket with its derived rank and estimate.
type RankedTicket struct {
	Rank                 int        `json:"rank"`
	EstimatedWaitMinutes float64    `json:"estimated_wait_minutes"`
	Confidence           Confidence `json:"confidence,omitempty"`
	Ticket               Ticket     `json:"ticket"`
}

// Snapshot is the ordered active set of one service at one instant.
// Subscribers that missed events pull a fresh Snapshot instead of
// replaying.
type Snapshot struct {
	ServiceID string `json:"service_id"`
	Capacity  int    `json:"capacity"`

	// Serving holds called and in-progress tickets ordered by window.
	Serving []Ticket `json:"serving"`

	// Waiting holds waiting tickets, Waiting[i].Rank == i+1.
	Waiting []RankedTicket `json:"waiting"`

	TakenAt time.Time `json:"taken_at"`
}

// FreeWindows returns how many windows are unoccupied.
func (s Snapshot) FreeWindows() int {
	free := s.Capacity - len(s.Serving)
	if free < 0 {
		return 0
	}
	return free
}

// Position is a ticket's place in line as seen by its student.
type Position struct {
	TicketID string `json:"ticket_id"`
	Status   Status `json:"status"`

	// Rank is 1-based among waiting tickets, 0 once being served.
	Rank         int  `json:"rank"`
	TotalWaiting int  `json:"total_waiting"`
	BeingServed  bool `json:"being_served"`

	// Window is set while being served.
	Window *int `json:"window,omitempty"`

	EstimatedWaitMinutes float64    `json:"estimated_wait_minutes"`
	Confidence           Confidence `json:"confidence,omitempty"`
}

// Statistics are the aggregate figures the refresher publishes for a
// service.
type Statistics struct {
	ServiceID             string     `json:"service_id"`
	WaitingCount          int        `json:"waiting_count"`
	InProgressCount       int        `json:"in_progress_count"`
	EstimatedWaitMinutes  float64    `json:"estimated_wait_minutes"`
	AverageServiceMinutes float64    `json:"average_service_minutes"`
	CompletedToday        int        `json:"completed_today"`
	Confidence            Confidence `json:"confidence"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
