// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"testing"
	"time"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func waitingTicket(id string, priority int, offset time.Duration) queueschema.Ticket {
	return queueschema.Ticket{
		ID:        id,
		StudentID: "student-" + id,
		ServiceID: "transcripts",
		Status:    queueschema.StatusWaiting,
		Priority:  priority,
		CreatedAt: epoch.Add(offset),
	}
}

func ids(tickets []queueschema.Ticket) []string {
	result := make([]string, len(tickets))
	for i, ticket := range tickets {
		result[i] = ticket.ID
	}
	return result
}

func TestOrderPriorityThenFIFOThenID(t *testing.T) {
	tickets := []queueschema.Ticket{
		waitingTicket("late", 0, 3*time.Minute),
		waitingTicket("b-tie", 0, time.Minute),
		waitingTicket("urgent", 5, 4*time.Minute),
		waitingTicket("a-tie", 0, time.Minute),
		waitingTicket("early", 0, 0),
	}

	got := ids(Order(tickets))
	want := []string{"urgent", "early", "a-tie", "b-tie", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Order = %v, want %v", got, want)
		}
	}

	if tickets[0].ID != "late" {
		t.Error("Order modified its input")
	}
}

func TestAgingRaisesEffectivePriority(t *testing.T) {
	ordering := Ordering{AgingInterval: 10 * time.Minute}
	old := waitingTicket("old", 0, 0)
	fresh := waitingTicket("fresh", 2, 25*time.Minute)

	now := epoch.Add(26 * time.Minute)
	if got := ordering.EffectivePriority(old, now); got != 2 {
		t.Errorf("old effective priority = %d, want 2", got)
	}
	if got := ordering.EffectivePriority(fresh, now); got != 2 {
		t.Errorf("fresh effective priority = %d, want 2", got)
	}
	if !ordering.Less(old, fresh, now) {
		t.Error("at equal effective priority the older ticket should go first")
	}

	if (Ordering{}).Less(old, fresh, now) {
		t.Error("without aging the higher base priority should go first")
	}
}

func TestAgingIgnoresFutureCreation(t *testing.T) {
	ordering := Ordering{AgingInterval: time.Minute}
	ticket := waitingTicket("skewed", 1, time.Hour)
	if got := ordering.EffectivePriority(ticket, epoch); got != 1 {
		t.Errorf("effective priority = %d, want base 1", got)
	}
}
