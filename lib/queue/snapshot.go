// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sort"
	"time"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// Snapshot partitions a service's active tickets into served and
// waiting, ranking the waiting ones. Terminal tickets in active are
// ignored. Estimates are left zero for the caller to fill.
func (o Ordering) Snapshot(service queueschema.Service, active []queueschema.Ticket, now time.Time) queueschema.Snapshot {
	snapshot := queueschema.Snapshot{
		ServiceID: service.ID,
		Capacity:  service.Capacity(),
		Serving:   []queueschema.Ticket{},
		Waiting:   []queueschema.RankedTicket{},
		TakenAt:   now,
	}

	var waiting []queueschema.Ticket
	for _, ticket := range active {
		switch {
		case ticket.Status == queueschema.StatusWaiting:
			waiting = append(waiting, ticket)
		case ticket.Status.OccupiesWindow():
			snapshot.Serving = append(snapshot.Serving, ticket)
		}
	}

	sort.SliceStable(snapshot.Serving, func(i, j int) bool {
		return servingLess(snapshot.Serving[i], snapshot.Serving[j])
	})

	o.Sort(waiting, now)
	for index, ticket := range waiting {
		snapshot.Waiting = append(snapshot.Waiting, queueschema.RankedTicket{
			Rank:   index + 1,
			Ticket: ticket,
		})
	}
	return snapshot
}

// BuildSnapshot is Ordering{}.Snapshot.
func BuildSnapshot(service queueschema.Service, active []queueschema.Ticket, now time.Time) queueschema.Snapshot {
	return Ordering{}.Snapshot(service, active, now)
}

// servingLess orders by window index; tickets without one go last,
// earliest call first.
func servingLess(a, b queueschema.Ticket) bool {
	windowA, hasA := a.WindowIndex()
	windowB, hasB := b.WindowIndex()
	switch {
	case hasA && hasB && windowA != windowB:
		return windowA < windowB
	case hasA != hasB:
		return hasA
	}
	if a.CalledAt != nil && b.CalledAt != nil && !a.CalledAt.Equal(*b.CalledAt) {
		return a.CalledAt.Before(*b.CalledAt)
	}
	return a.ID < b.ID
}

// PositionOf returns the position of ticketID in snapshot, or false if
// the ticket is not active in it. Estimates are taken from the ranked
// entry as the caller filled them.
func PositionOf(snapshot queueschema.Snapshot, ticketID string) (queueschema.Position, bool) {
	for _, ticket := range snapshot.Serving {
		if ticket.ID == ticketID {
			position := queueschema.Position{
				TicketID:     ticket.ID,
				Status:       ticket.Status,
				Rank:         0,
				TotalWaiting: len(snapshot.Waiting),
				BeingServed:  true,
				Confidence:   queueschema.ConfidenceHigh,
			}
			if window, ok := ticket.WindowIndex(); ok {
				position.Window = &window
			}
			return position, true
		}
	}
	for _, entry := range snapshot.Waiting {
		if entry.Ticket.ID == ticketID {
			return queueschema.Position{
				TicketID:             entry.Ticket.ID,
				Status:               entry.Ticket.Status,
				Rank:                 entry.Rank,
				TotalWaiting:         len(snapshot.Waiting),
				EstimatedWaitMinutes: entry.EstimatedWaitMinutes,
				Confidence:           entry.Confidence,
			}, true
		}
	}
	return queueschema.Position{}, false
}

// FreeWindow returns the lowest window index not occupied in snapshot,
// or false if all Capacity windows are taken.
func FreeWindow(snapshot queueschema.Snapshot) (int, bool) {
	if len(snapshot.Serving) >= snapshot.Capacity {
		return 0, false
	}
	occupied := make(map[int]bool, len(snapshot.Serving))
	for _, ticket := range snapshot.Serving {
		if window, ok := ticket.WindowIndex(); ok {
			occupied[window] = true
		}
	}
	for window := 0; window < snapshot.Capacity; window++ {
		if !occupied[window] {
			return window, true
		}
	}
	return 0, false
}

// Head returns the first waiting ticket, or false if nobody waits.
func Head(snapshot queueschema.Snapshot) (queueschema.Ticket, bool) {
	if len(snapshot.Waiting) == 0 {
		return queueschema.Ticket{}, false
	}
	return snapshot.Waiting[0].Ticket, true
}

// RankChange is a waiting ticket whose rank differs between two
// snapshots. Before is 0 when the ticket was not waiting before.
type RankChange struct {
	Before int
	Entry  queueschema.RankedTicket
}

// RankChanges lists tickets waiting in after whose rank is not the
// same as in before, in rank order.
func RankChanges(before, after queueschema.Snapshot) []RankChange {
	previous := make(map[string]int, len(before.Waiting))
	for _, entry := range before.Waiting {
		previous[entry.Ticket.ID] = entry.Rank
	}
	var changes []RankChange
	for _, entry := range after.Waiting {
		if rank := previous[entry.Ticket.ID]; rank != entry.Rank {
			changes = append(changes, RankChange{Before: rank, Entry: entry})
		}
	}
	return changes
}
