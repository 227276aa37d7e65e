// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/frontdesk/lib/codec"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

var twoWindows = queueschema.Service{
	ID: "transcripts", Name: "Transcripts", BaseServiceMinutes: 5, Windows: 2, Active: true,
}

func servingTicket(id string, status queueschema.Status, window int) queueschema.Ticket {
	called := epoch.Add(-time.Minute)
	return queueschema.Ticket{
		ID: id, StudentID: "student-" + id, ServiceID: "transcripts",
		Status: status, CreatedAt: epoch.Add(-time.Hour), CalledAt: &called, Window: &window,
	}
}

func TestSnapshotPartitionsAndRanks(t *testing.T) {
	active := []queueschema.Ticket{
		waitingTicket("w2", 0, 2*time.Minute),
		servingTicket("s1", queueschema.StatusInProgress, 1),
		waitingTicket("w1", 0, time.Minute),
		servingTicket("s0", queueschema.StatusCalled, 0),
		{ID: "gone", Status: queueschema.StatusCompleted},
		waitingTicket("w0", 3, 5*time.Minute),
	}

	snapshot := BuildSnapshot(twoWindows, active, epoch.Add(10*time.Minute))

	if got := ids(snapshot.Serving); fmt.Sprint(got) != "[s0 s1]" {
		t.Errorf("Serving = %v, want [s0 s1]", got)
	}
	if len(snapshot.Waiting) != 3 {
		t.Fatalf("Waiting has %d entries, want 3", len(snapshot.Waiting))
	}
	for index, entry := range snapshot.Waiting {
		if entry.Rank != index+1 {
			t.Errorf("Waiting[%d].Rank = %d, ranks must be contiguous from 1", index, entry.Rank)
		}
	}
	if snapshot.Waiting[0].Ticket.ID != "w0" {
		t.Errorf("head = %s, want w0 (highest priority)", snapshot.Waiting[0].Ticket.ID)
	}
	if snapshot.Capacity != 2 || snapshot.FreeWindows() != 0 {
		t.Errorf("capacity %d free %d", snapshot.Capacity, snapshot.FreeWindows())
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	active := []queueschema.Ticket{
		waitingTicket("c", 0, 0),
		waitingTicket("a", 0, 0),
		waitingTicket("b", 0, 0),
	}
	reversed := []queueschema.Ticket{active[2], active[1], active[0]}

	first := BuildSnapshot(twoWindows, active, epoch)
	second := BuildSnapshot(twoWindows, reversed, epoch)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("snapshot depends on input order (-first +second):\n%s", diff)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	window := 0
	called := epoch.Add(-30 * time.Second)
	active := []queueschema.Ticket{
		waitingTicket("w1", 0, 1500*time.Nanosecond),
		waitingTicket("w0", 0, 1400*time.Nanosecond),
		{
			ID: "s0", StudentID: "x", ServiceID: "transcripts", Status: queueschema.StatusCalled,
			CreatedAt: epoch.Add(-time.Hour), CalledAt: &called, Window: &window, OperatorID: "op",
		},
	}
	snapshot := BuildSnapshot(twoWindows, active, epoch)
	snapshot.Waiting[0].EstimatedWaitMinutes = 2.5
	snapshot.Waiting[0].Confidence = queueschema.ConfidenceLow

	data, err := codec.Marshal(snapshot)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded queueschema.Snapshot
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(snapshot, decoded); diff != "" {
		t.Errorf("round trip changed the snapshot (-want +got):\n%s", diff)
	}

	rebuilt := BuildSnapshot(twoWindows, append(entryTickets(decoded), decoded.Serving...), epoch)
	if diff := cmp.Diff(ranks(snapshot), ranks(rebuilt)); diff != "" {
		t.Errorf("re-ranking decoded tickets changed ranks (-want +got):\n%s", diff)
	}
}

func entryTickets(snapshot queueschema.Snapshot) []queueschema.Ticket {
	var tickets []queueschema.Ticket
	for _, entry := range snapshot.Waiting {
		tickets = append(tickets, entry.Ticket)
	}
	return tickets
}

func ranks(snapshot queueschema.Snapshot) map[string]int {
	result := make(map[string]int)
	for _, entry := range snapshot.Waiting {
		result[entry.Ticket.ID] = entry.Rank
	}
	return result
}

func TestPositionOf(t *testing.T) {
	active := []queueschema.Ticket{
		servingTicket("s1", queueschema.StatusInProgress, 1),
		waitingTicket("w0", 0, 0),
		waitingTicket("w1", 0, time.Minute),
	}
	snapshot := BuildSnapshot(twoWindows, active, epoch)
	snapshot.Waiting[1].EstimatedWaitMinutes = 7

	served, ok := PositionOf(snapshot, "s1")
	if !ok {
		t.Fatal("PositionOf(s1) not found")
	}
	if !served.BeingServed || served.Rank != 0 || served.EstimatedWaitMinutes != 0 {
		t.Errorf("served position = %+v", served)
	}
	if served.Window == nil || *served.Window != 1 {
		t.Errorf("served window = %v", served.Window)
	}

	second, ok := PositionOf(snapshot, "w1")
	if !ok {
		t.Fatal("PositionOf(w1) not found")
	}
	if second.Rank != 2 || second.TotalWaiting != 2 || second.BeingServed || second.EstimatedWaitMinutes != 7 {
		t.Errorf("waiting position = %+v", second)
	}

	if _, ok := PositionOf(snapshot, "unknown"); ok {
		t.Error("PositionOf found a ticket that is not in the snapshot")
	}
}

func TestFreeWindow(t *testing.T) {
	three := twoWindows
	three.Windows = 3

	cases := []struct {
		name    string
		serving []queueschema.Ticket
		want    int
		ok      bool
	}{
		{"all free", nil, 0, true},
		{"gap at zero", []queueschema.Ticket{servingTicket("a", queueschema.StatusCalled, 1)}, 0, true},
		{"gap in middle", []queueschema.Ticket{
			servingTicket("a", queueschema.StatusCalled, 0),
			servingTicket("b", queueschema.StatusInProgress, 2),
		}, 1, true},
		{"full", []queueschema.Ticket{
			servingTicket("a", queueschema.StatusCalled, 0),
			servingTicket("b", queueschema.StatusCalled, 1),
			servingTicket("c", queueschema.StatusCalled, 2),
		}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot := BuildSnapshot(three, tc.serving, epoch)
			window, ok := FreeWindow(snapshot)
			if ok != tc.ok || (ok && window != tc.want) {
				t.Errorf("FreeWindow = %d, %v; want %d, %v", window, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestHead(t *testing.T) {
	empty := BuildSnapshot(twoWindows, nil, epoch)
	if _, ok := Head(empty); ok {
		t.Error("Head of empty snapshot reported a ticket")
	}
	snapshot := BuildSnapshot(twoWindows, []queueschema.Ticket{
		waitingTicket("b", 0, time.Second), waitingTicket("a", 0, 0),
	}, epoch)
	if head, ok := Head(snapshot); !ok || head.ID != "a" {
		t.Errorf("Head = %s, %v", head.ID, ok)
	}
}

func TestRankChanges(t *testing.T) {
	before := BuildSnapshot(twoWindows, []queueschema.Ticket{
		waitingTicket("a", 0, 0),
		waitingTicket("b", 0, time.Minute),
		waitingTicket("c", 0, 2*time.Minute),
	}, epoch)
	after := BuildSnapshot(twoWindows, []queueschema.Ticket{
		waitingTicket("b", 0, time.Minute),
		waitingTicket("c", 0, 2*time.Minute),
		waitingTicket("d", 0, 3*time.Minute),
	}, epoch)

	changes := RankChanges(before, after)
	got := map[string][2]int{}
	for _, change := range changes {
		got[change.Entry.Ticket.ID] = [2]int{change.Before, change.Entry.Rank}
	}
	want := map[string][2]int{"b": {2, 1}, "c": {3, 2}, "d": {0, 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RankChanges (-want +got):\n%s", diff)
	}

	if changes := RankChanges(after, after); len(changes) != 0 {
		t.Errorf("identical snapshots produced %d changes", len(changes))
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition("t", queueschema.StatusWaiting, queueschema.StatusCalled, false); err != nil {
		t.Errorf("waiting→called rejected: %v", err)
	}

	err := CheckTransition("t", queueschema.StatusInProgress, queueschema.StatusCancelled, false)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("student cancel of in_progress = %v, want *TransitionError", err)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("TransitionError does not match ErrInvalidTransition")
	}
	if transitionErr.From != queueschema.StatusInProgress {
		t.Errorf("From = %s", transitionErr.From)
	}

	if err := CheckTransition("t", queueschema.StatusInProgress, queueschema.StatusCancelled, true); err != nil {
		t.Errorf("staff cancel of in_progress rejected: %v", err)
	}
	if err := CheckTransition("t", queueschema.StatusCompleted, queueschema.StatusCancelled, true); err == nil {
		t.Error("staff cancel of completed ticket accepted")
	}
}

func TestErrorKinds(t *testing.T) {
	storeErr := &StoreError{Op: "join", Err: errors.New("disk full")}
	cases := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&AlreadyQueuedError{StudentID: "s", TicketID: "t", ServiceID: "x"}, "already_queued"},
		{fmt.Errorf("wrapped: %w", ErrServiceUnavailable), "service_unavailable"},
		{&TransitionError{TicketID: "t"}, "invalid_transition"},
		{ErrNoCapacity, "no_capacity"},
		{ErrQueueEmpty, "queue_empty"},
		{ErrNotFound, "not_found"},
		{storeErr, "store_failure"},
		{ErrInvalidArgument, "invalid_argument"},
		{errors.New("other"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}

	if errors.Unwrap(storeErr).Error() != "disk full" {
		t.Error("StoreError does not unwrap to its cause")
	}
}
