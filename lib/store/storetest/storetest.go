// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest is a conformance suite for [store.Store]
// implementations. Each implementation's tests call [Run] with a
// factory returning a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Epoch is the base time the suite creates tickets at.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRequiresService", testCreateRequiresService},
		{"DisplayNumbersPerServicePerDay", testDisplayNumbers},
		{"SingleActiveTicket", testSingleActiveTicket},
		{"ConcurrentCreateSameStudent", testConcurrentCreate},
		{"UpdateStatusCompareAndSet", testUpdateStatusCAS},
		{"UpdateStatusLifecycle", testUpdateStatusLifecycle},
		{"ClaimNext", testClaimNext},
		{"ClaimNextChooseError", testClaimNextChooseError},
		{"ClaimNextConflicts", testClaimNextConflicts},
		{"ConcurrentClaimsRespectCapacity", testConcurrentClaims},
		{"ListActive", testListActive},
		{"RecentCompleted", testRecentCompleted},
		{"Services", testServices},
		{"Statistics", testStatistics},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() {
				if err := s.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			})
			seedServices(t, s)
			test.fn(t, s)
		})
	}
}

func seedServices(t *testing.T, s store.Store) {
	t.Helper()
	for _, service := range []queue.Service{
		{ID: "transcripts", Name: "Transcripts", BaseServiceMinutes: 5, Windows: 1, Active: true, Prefix: "T", UpdatedAt: Epoch},
		{ID: "enrollment", Name: "Enrollment", BaseServiceMinutes: 10, Windows: 2, Active: true, Prefix: "E", UpdatedAt: Epoch},
		{ID: "archive", Name: "Archive", BaseServiceMinutes: 3, Active: false, UpdatedAt: Epoch},
	} {
		if err := s.PutService(context.Background(), service); err != nil {
			t.Fatalf("PutService(%s): %v", service.ID, err)
		}
	}
}

func create(t *testing.T, s store.Store, id, student, service string, created time.Time) queue.Ticket {
	t.Helper()
	ticket, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: id, StudentID: student, ServiceID: service, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreateTicket(%s): %v", id, err)
	}
	return ticket
}

func update(t *testing.T, s store.Store, u store.StatusUpdate) queue.Ticket {
	t.Helper()
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = Epoch.Add(time.Hour)
	}
	ticket, err := s.UpdateStatus(context.Background(), u)
	if err != nil {
		t.Fatalf("UpdateStatus(%s %s→%s): %v", u.TicketID, u.From, u.To, err)
	}
	return ticket
}

func testCreateAndGet(t *testing.T, s store.Store) {
	created := Epoch.Add(123456789 * time.Nanosecond)
	ticket, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: "t1", StudentID: "s1", ServiceID: "transcripts", Priority: 2, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.Status != queue.StatusWaiting {
		t.Errorf("status = %s, want waiting", ticket.Status)
	}
	if ticket.Number != 1 {
		t.Errorf("number = %d, want 1", ticket.Number)
	}

	got, err := s.GetTicket(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.StudentID != "s1" || got.ServiceID != "transcripts" || got.Priority != 2 {
		t.Errorf("GetTicket = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v (nanoseconds must survive)", got.CreatedAt, created)
	}
	if got.CalledAt != nil || got.Window != nil {
		t.Errorf("fresh ticket has call fields: %+v", got)
	}

	if _, err := s.GetTicket(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTicket(missing) = %v, want ErrNotFound", err)
	}
}

func testCreateRequiresService(t *testing.T, s store.Store) {
	_, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: "t1", StudentID: "s1", ServiceID: "nonexistent", CreatedAt: Epoch,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CreateTicket(unknown service) = %v, want ErrNotFound", err)
	}
}

func testDisplayNumbers(t *testing.T, s store.Store) {
	first := create(t, s, "t1", "s1", "transcripts", Epoch)
	second := create(t, s, "t2", "s2", "transcripts", Epoch.Add(time.Minute))
	other := create(t, s, "t3", "s3", "enrollment", Epoch.Add(2*time.Minute))
	nextDay := create(t, s, "t4", "s4", "transcripts", Epoch.Add(24*time.Hour))

	if first.Number != 1 || second.Number != 2 {
		t.Errorf("numbers = %d, %d, want 1, 2", first.Number, second.Number)
	}
	if other.Number != 1 {
		t.Errorf("other service number = %d, want 1", other.Number)
	}
	if nextDay.Number != 1 {
		t.Errorf("next day number = %d, want 1", nextDay.Number)
	}
}

func testSingleActiveTicket(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "t1", "s1", "transcripts", Epoch)

	_, err := s.CreateTicket(ctx, store.NewTicket{ID: "t2", StudentID: "s1", ServiceID: "enrollment", CreatedAt: Epoch})
	if !errors.Is(err, store.ErrActiveTicketExists) {
		t.Fatalf("second create = %v, want ErrActiveTicketExists", err)
	}

	active, err := s.GetActiveTicketFor(ctx, "s1")
	if err != nil {
		t.Fatalf("GetActiveTicketFor: %v", err)
	}
	if active.ID != "t1" {
		t.Errorf("active ticket = %s, want t1", active.ID)
	}

	update(t, s, store.StatusUpdate{TicketID: "t1", From: queue.StatusWaiting, To: queue.StatusCancelled})

	if _, err := s.GetActiveTicketFor(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetActiveTicketFor after cancel = %v, want ErrNotFound", err)
	}
	create(t, s, "t3", "s1", "enrollment", Epoch.Add(time.Minute))
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	const attempts = 8
	var waitGroup sync.WaitGroup
	results := make(chan error, attempts)
	for i := range attempts {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			service := "transcripts"
			if i%2 == 1 {
				service = "enrollment"
			}
			_, err := s.CreateTicket(context.Background(), store.NewTicket{
				ID: fmt.Sprintf("race-%d", i), StudentID: "racer", ServiceID: service,
				CreatedAt: Epoch.Add(time.Duration(i) * time.Millisecond),
			})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrActiveTicketExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d creates succeeded, want exactly 1", succeeded)
	}
}

func testUpdateStatusCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "t1", "s1", "transcripts", Epoch)

	_, err := s.UpdateStatus(ctx, store.StatusUpdate{
		TicketID: "t1", From: queue.StatusCalled, To: queue.StatusInProgress, UpdatedAt: Epoch,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale From = %v, want ErrConflict", err)
	}

	_, err = s.UpdateStatus(ctx, store.StatusUpdate{
		TicketID: "missing", From: queue.StatusWaiting, To: queue.StatusCalled, UpdatedAt: Epoch,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing ticket = %v, want ErrNotFound", err)
	}

	got, err := s.GetTicket(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != queue.StatusWaiting {
		t.Errorf("failed updates changed status to %s", got.Status)
	}
}

func testUpdateStatusLifecycle(t *testing.T, s store.Store) {
	create(t, s, "t1", "s1", "enrollment", Epoch)

	window := 1
	called := Epoch.Add(2 * time.Minute)
	ticket := update(t, s, store.StatusUpdate{
		TicketID: "t1", From: queue.StatusWaiting, To: queue.StatusCalled,
		CalledAt: &called, Window: &window, OperatorID: "op-1", UpdatedAt: called,
	})
	if got, ok := ticket.WindowIndex(); !ok || got != 1 {
		t.Errorf("window after call = %d, %v", got, ok)
	}

	started := called.Add(time.Minute)
	update(t, s, store.StatusUpdate{
		TicketID: "t1", From: queue.StatusCalled, To: queue.StatusInProgress,
		StartedAt: &started, UpdatedAt: started,
	})

	completed := started.Add(6 * time.Minute)
	update(t, s, store.StatusUpdate{
		TicketID: "t1", From: queue.StatusInProgress, To: queue.StatusCompleted,
		CompletedAt: &completed, Notes: "done", UpdatedAt: completed,
	})

	got, err := s.GetTicket(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.Window != nil {
		t.Errorf("window not cleared: %d", *got.Window)
	}
	if got.CalledAt == nil || !got.CalledAt.Equal(called) {
		t.Errorf("called_at = %v", got.CalledAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v", got.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at = %v", got.CompletedAt)
	}
	if got.OperatorID != "op-1" || got.Notes != "done" {
		t.Errorf("operator/notes = %q/%q", got.OperatorID, got.Notes)
	}
	if duration, ok := got.ServiceDuration(); !ok || duration != 7*time.Minute {
		t.Errorf("ServiceDuration = %v, %v", duration, ok)
	}
}

var (
	errNoneWaiting = errors.New("nobody waiting")
	errAllBusy     = errors.New("every window busy")
)

// chooseOldest calls the earliest-created waiting ticket to the lowest
// free window below capacity.
func chooseOldest(capacity int) func([]queue.Ticket) (string, int, error) {
	return func(active []queue.Ticket) (string, int, error) {
		busy := map[int]bool{}
		var oldest *queue.Ticket
		for index := range active {
			ticket := &active[index]
			if window, ok := ticket.WindowIndex(); ok {
				busy[window] = true
			}
			if ticket.Status == queue.StatusWaiting && (oldest == nil || ticket.CreatedAt.Before(oldest.CreatedAt)) {
				oldest = ticket
			}
		}
		window := 0
		for busy[window] {
			window++
		}
		if window >= capacity {
			return "", 0, errAllBusy
		}
		if oldest == nil {
			return "", 0, errNoneWaiting
		}
		return oldest.ID, window, nil
	}
}

func claim(serviceID string, capacity int, at time.Time) store.Claim {
	return store.Claim{ServiceID: serviceID, Choose: chooseOldest(capacity), CalledAt: at, OperatorID: "op-1"}
}

func testClaimNext(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "first", "s1", "enrollment", Epoch)
	create(t, s, "second", "s2", "enrollment", Epoch.Add(time.Second))
	create(t, s, "elsewhere", "s3", "transcripts", Epoch.Add(-time.Minute))

	called := Epoch.Add(time.Minute)
	ticket, err := s.ClaimNext(ctx, claim("enrollment", 2, called))
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if ticket.ID != "first" || ticket.Status != queue.StatusCalled || ticket.OperatorID != "op-1" {
		t.Errorf("claimed %+v, want first called by op-1", ticket)
	}
	if window, ok := ticket.WindowIndex(); !ok || window != 0 {
		t.Errorf("window = %d, %v; want 0", window, ok)
	}
	if ticket.CalledAt == nil || !ticket.CalledAt.Equal(called) {
		t.Errorf("called_at = %v, want %v", ticket.CalledAt, called)
	}

	ticket, err = s.ClaimNext(ctx, claim("enrollment", 2, called))
	if err != nil {
		t.Fatalf("second ClaimNext: %v", err)
	}
	if window, _ := ticket.WindowIndex(); ticket.ID != "second" || window != 1 {
		t.Errorf("second claim = %s on window %d, want second on 1", ticket.ID, window)
	}

	stored, err := s.GetTicket(ctx, "first")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if stored.Status != queue.StatusCalled {
		t.Errorf("stored status = %s, want called", stored.Status)
	}
}

func testClaimNextChooseError(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "only", "s1", "transcripts", Epoch)
	window := 0
	update(t, s, store.StatusUpdate{TicketID: "only", From: queue.StatusWaiting, To: queue.StatusCalled, CalledAt: &Epoch, Window: &window})
	create(t, s, "next", "s2", "transcripts", Epoch.Add(time.Second))

	if _, err := s.ClaimNext(ctx, claim("transcripts", 1, Epoch)); !errors.Is(err, errAllBusy) {
		t.Errorf("ClaimNext with every window busy = %v, want the Choose error", err)
	}
	if _, err := s.ClaimNext(ctx, claim("enrollment", 2, Epoch)); !errors.Is(err, errNoneWaiting) {
		t.Errorf("ClaimNext on empty queue = %v, want the Choose error", err)
	}

	next, err := s.GetTicket(ctx, "next")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if next.Status != queue.StatusWaiting {
		t.Errorf("rejected claim wrote status %s", next.Status)
	}
}

func testClaimNextConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "held", "s1", "enrollment", Epoch)
	create(t, s, "waiting", "s2", "enrollment", Epoch.Add(time.Second))
	window := 0
	update(t, s, store.StatusUpdate{TicketID: "held", From: queue.StatusWaiting, To: queue.StatusCalled, CalledAt: &Epoch, Window: &window})

	cases := []struct {
		name     string
		ticketID string
		window   int
	}{
		{"window already held", "waiting", 0},
		{"ticket already called", "held", 1},
		{"unknown ticket", "missing", 1},
	}
	for _, tc := range cases {
		_, err := s.ClaimNext(ctx, store.Claim{
			ServiceID: "enrollment",
			Choose: func([]queue.Ticket) (string, int, error) {
				return tc.ticketID, tc.window, nil
			},
			CalledAt: Epoch,
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Errorf("%s: ClaimNext = %v, want ErrConflict", tc.name, err)
		}
	}

	waiting, err := s.GetTicket(ctx, "waiting")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if waiting.Status != queue.StatusWaiting || waiting.Window != nil {
		t.Errorf("conflicting claims changed the waiting ticket: %+v", waiting)
	}
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	const waiting, callers = 6, 8
	for i := range waiting {
		create(t, s, fmt.Sprintf("w%d", i), fmt.Sprintf("s%d", i), "transcripts", Epoch.Add(time.Duration(i)*time.Second))
	}

	var waitGroup sync.WaitGroup
	results := make(chan error, callers)
	for range callers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := s.ClaimNext(context.Background(), claim("transcripts", 1, Epoch.Add(time.Minute)))
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errAllBusy):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d claims succeeded on a single window, want 1", succeeded)
	}

	active, err := s.ListActive(context.Background(), "transcripts")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	called := 0
	for _, ticket := range active {
		if ticket.Status == queue.StatusCalled {
			called++
			if ticket.ID != "w0" {
				t.Errorf("called %s, want the oldest ticket w0", ticket.ID)
			}
		}
	}
	if called != 1 {
		t.Errorf("%d tickets called, want 1", called)
	}
}

func testListActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, "a", "s1", "transcripts", Epoch)
	create(t, s, "b", "s2", "transcripts", Epoch.Add(time.Second))
	create(t, s, "c", "s3", "transcripts", Epoch.Add(2*time.Second))
	create(t, s, "d", "s4", "enrollment", Epoch.Add(3*time.Second))

	update(t, s, store.StatusUpdate{TicketID: "b", From: queue.StatusWaiting, To: queue.StatusCancelled})
	window := 0
	update(t, s, store.StatusUpdate{TicketID: "c", From: queue.StatusWaiting, To: queue.StatusCalled, Window: &window, CalledAt: &Epoch})

	active, err := s.ListActive(ctx, "transcripts")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	ids := map[string]queue.Status{}
	for _, ticket := range active {
		ids[ticket.ID] = ticket.Status
	}
	if len(ids) != 2 || ids["a"] != queue.StatusWaiting || ids["c"] != queue.StatusCalled {
		t.Errorf("ListActive = %v, want a:waiting c:called", ids)
	}
}

func testRecentCompleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 4 {
		id := fmt.Sprintf("t%d", i)
		create(t, s, id, fmt.Sprintf("s%d", i), "transcripts", Epoch.Add(time.Duration(i)*time.Minute))
		called := Epoch.Add(time.Duration(10*i) * time.Minute)
		completed := called.Add(time.Duration(i+1) * time.Minute)
		window := 0
		update(t, s, store.StatusUpdate{TicketID: id, From: queue.StatusWaiting, To: queue.StatusCalled, CalledAt: &called, Window: &window})
		update(t, s, store.StatusUpdate{TicketID: id, From: queue.StatusCalled, To: queue.StatusInProgress})
		update(t, s, store.StatusUpdate{TicketID: id, From: queue.StatusInProgress, To: queue.StatusCompleted, CompletedAt: &completed})
	}
	create(t, s, "open", "s9", "transcripts", Epoch)

	recent, err := s.RecentCompleted(ctx, "transcripts", 3)
	if err != nil {
		t.Fatalf("RecentCompleted: %v", err)
	}
	var ids []string
	for _, ticket := range recent {
		ids = append(ids, ticket.ID)
	}
	if fmt.Sprint(ids) != "[t3 t2 t1]" {
		t.Errorf("RecentCompleted = %v, want [t3 t2 t1]", ids)
	}

	count, err := s.CountCompletedSince(ctx, "transcripts", Epoch.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("CountCompletedSince: %v", err)
	}
	if count != 2 {
		t.Errorf("CountCompletedSince = %d, want 2", count)
	}

	none, err := s.RecentCompleted(ctx, "enrollment", 5)
	if err != nil {
		t.Fatalf("RecentCompleted(enrollment): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("RecentCompleted(enrollment) = %d tickets", len(none))
	}
}

func testServices(t *testing.T, s store.Store) {
	ctx := context.Background()

	service, err := s.GetService(ctx, "enrollment")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if service.Windows != 2 || service.Prefix != "E" || service.BaseServiceMinutes != 10 {
		t.Errorf("GetService = %+v", service)
	}

	active, err := s.ListActiveServices(ctx)
	if err != nil {
		t.Fatalf("ListActiveServices: %v", err)
	}
	if len(active) != 2 || active[0].ID != "enrollment" || active[1].ID != "transcripts" {
		t.Errorf("ListActiveServices = %+v, want enrollment, transcripts", active)
	}

	service.Windows = 3
	service.Active = false
	if err := s.PutService(ctx, service); err != nil {
		t.Fatalf("PutService: %v", err)
	}
	service, err = s.GetService(ctx, "enrollment")
	if err != nil {
		t.Fatalf("GetService after update: %v", err)
	}
	if service.Windows != 3 || service.Active {
		t.Errorf("PutService did not replace: %+v", service)
	}

	if _, err := s.GetService(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetService(missing) = %v, want ErrNotFound", err)
	}
	if err := s.PutService(ctx, queue.Service{ID: "bad id"}); err == nil {
		t.Error("PutService accepted an invalid service")
	}
}

func testStatistics(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetStatistics(ctx, "transcripts"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetStatistics before upsert = %v, want ErrNotFound", err)
	}

	stats := queue.Statistics{
		ServiceID:             "transcripts",
		WaitingCount:          4,
		InProgressCount:       1,
		EstimatedWaitMinutes:  12.5,
		AverageServiceMinutes: 3.1,
		CompletedToday:        9,
		Confidence:            queue.ConfidenceMedium,
		UpdatedAt:             Epoch,
	}
	if err := s.UpsertStatistics(ctx, stats); err != nil {
		t.Fatalf("UpsertStatistics: %v", err)
	}
	stats.WaitingCount = 2
	stats.UpdatedAt = Epoch.Add(30 * time.Second)
	if err := s.UpsertStatistics(ctx, stats); err != nil {
		t.Fatalf("UpsertStatistics (replace): %v", err)
	}

	got, err := s.GetStatistics(ctx, "transcripts")
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if got.WaitingCount != 2 || got.CompletedToday != 9 || got.Confidence != queue.ConfidenceMedium {
		t.Errorf("GetStatistics = %+v", got)
	}
	if !got.UpdatedAt.Equal(stats.UpdatedAt) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, stats.UpdatedAt)
	}
}
