// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sort"
	"time"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// Ordering ranks waiting tickets. The zero value is plain priority,
// then FIFO, then ID.
type Ordering struct {
	// AgingInterval adds one to a ticket's effective priority per full
	// interval waited. Zero disables aging, which keeps ranks stable
	// between mutations.
	AgingInterval time.Duration
}

// EffectivePriority is the priority used for ordering at now.
func (o Ordering) EffectivePriority(ticket queueschema.Ticket, now time.Time) int {
	if o.AgingInterval <= 0 {
		return ticket.Priority
	}
	waited := now.Sub(ticket.CreatedAt)
	if waited <= 0 {
		return ticket.Priority
	}
	return ticket.Priority + int(waited/o.AgingInterval)
}

// Less reports whether a is served before b.
func (o Ordering) Less(a, b queueschema.Ticket, now time.Time) bool {
	priorityA, priorityB := o.EffectivePriority(a, now), o.EffectivePriority(b, now)
	if priorityA != priorityB {
		return priorityA > priorityB
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders tickets in place.
func (o Ordering) Sort(tickets []queueschema.Ticket, now time.Time) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return o.Less(tickets[i], tickets[j], now)
	})
}

// Order returns a sorted copy of tickets using the default Ordering.
func Order(tickets []queueschema.Ticket) []queueschema.Ticket {
	ordered := append([]queueschema.Ticket(nil), tickets...)
	Ordering{}.Sort(ordered, time.Time{})
	return ordered
}
