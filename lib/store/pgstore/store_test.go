// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var ticketColumnNames = []string{
	"id", "student_id", "service_id", "status", "priority", "number",
	"created_at", "called_at", "started_at", "completed_at", "window_index",
	"operator_id", "notes", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db, nil), mock
}

func ticketRow(status string, calledAt any, window any) *sqlmock.Rows {
	return sqlmock.NewRows(ticketColumnNames).AddRow(
		"t1", "s1", "transcripts", status, int64(0), int64(4),
		epoch, calledAt, nil, nil, window,
		"op-1", "", epoch.Add(time.Minute),
	)
}

func TestCreateTicket(t *testing.T) {
	s, mock := newMockStore(t)
	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("transcripts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("transcripts").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(number\), 0\) \+ 1 FROM tickets`).
		WithArgs("transcripts", dayStart, dayStart.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(4)))
	mock.ExpectExec("INSERT INTO tickets").
		WithArgs("t1", "s1", "transcripts", "waiting", int64(2), int64(4), epoch, epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: "t1", StudentID: "s1", ServiceID: "transcripts", Priority: 2,
		CreatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.Number != 4 || ticket.Status != queue.StatusWaiting {
		t.Errorf("ticket = %+v", ticket)
	}
}

func TestCreateTicketActiveViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO tickets").WillReturnError(&pgconn.PgError{
		Code:           "23505",
		ConstraintName: "tickets_one_active_per_student",
	})
	mock.ExpectRollback()

	_, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: "t2", StudentID: "s1", ServiceID: "transcripts", CreatedAt: epoch,
	})
	if !errors.Is(err, store.ErrActiveTicketExists) {
		t.Errorf("CreateTicket = %v, want ErrActiveTicketExists", err)
	}
}

func TestCreateTicketUnknownService(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.CreateTicket(context.Background(), store.NewTicket{
		ID: "t1", StudentID: "s1", ServiceID: "nope", CreatedAt: epoch,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CreateTicket = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t)
	called := epoch.Add(time.Minute)
	window := 1

	mock.ExpectQuery("UPDATE tickets SET").
		WithArgs("called", called, nil, nil, true, int64(1), "op-1", "", called, "t1", "waiting").
		WillReturnRows(ticketRow("called", called, int64(1)))

	ticket, err := s.UpdateStatus(context.Background(), store.StatusUpdate{
		TicketID: "t1", From: queue.StatusWaiting, To: queue.StatusCalled,
		CalledAt: &called, Window: &window, OperatorID: "op-1", UpdatedAt: called,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ticket.Status != queue.StatusCalled {
		t.Errorf("status = %s", ticket.Status)
	}
	if got, ok := ticket.WindowIndex(); !ok || got != 1 {
		t.Errorf("window = %d, %v", got, ok)
	}
	if ticket.CalledAt == nil || !ticket.CalledAt.Equal(called) {
		t.Errorf("called_at = %v", ticket.CalledAt)
	}
	if ticket.StartedAt != nil {
		t.Errorf("started_at = %v, want nil", ticket.StartedAt)
	}
}

func TestUpdateStatusConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE tickets SET").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames))
	mock.ExpectQuery("SELECT .* FROM tickets WHERE id = ").
		WithArgs("t1").
		WillReturnRows(ticketRow("completed", epoch, nil))

	_, err := s.UpdateStatus(context.Background(), store.StatusUpdate{
		TicketID: "t1", From: queue.StatusInProgress, To: queue.StatusCompleted, UpdatedAt: epoch,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("UpdateStatus = %v, want ErrConflict", err)
	}
}

func TestUpdateStatusMissingTicket(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE tickets SET").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames))
	mock.ExpectQuery("SELECT .* FROM tickets WHERE id = ").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames))

	_, err := s.UpdateStatus(context.Background(), store.StatusUpdate{
		TicketID: "ghost", From: queue.StatusWaiting, To: queue.StatusCancelled, UpdatedAt: epoch,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateStatus = %v, want ErrNotFound", err)
	}
}

func TestRecentCompleted(t *testing.T) {
	s, mock := newMockStore(t)
	completed := epoch.Add(8 * time.Minute)

	rows := sqlmock.NewRows(ticketColumnNames).
		AddRow("t9", "s9", "transcripts", "completed", int64(0), int64(9),
			epoch, epoch, epoch.Add(time.Minute), completed, nil, "op-2", "ok", completed)
	mock.ExpectQuery("SELECT .* FROM tickets WHERE service_id = .* ORDER BY completed_at DESC LIMIT").
		WithArgs("transcripts", int64(20)).
		WillReturnRows(rows)

	tickets, err := s.RecentCompleted(context.Background(), "transcripts", 20)
	if err != nil {
		t.Fatalf("RecentCompleted: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("got %d tickets, want 1", len(tickets))
	}
	duration, ok := tickets[0].ServiceDuration()
	if !ok || duration != 8*time.Minute {
		t.Errorf("ServiceDuration = %v, %v", duration, ok)
	}
	if tickets[0].Window != nil {
		t.Errorf("window = %d, want nil", *tickets[0].Window)
	}
}

func TestListActiveServices(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM services WHERE active ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_service_minutes", "windows", "active", "prefix", "updated_at"}).
			AddRow("enrollment", "Enrollment", 10.0, int64(2), true, "E", epoch).
			AddRow("transcripts", "Transcripts", 5.0, int64(1), true, "T", epoch))

	services, err := s.ListActiveServices(context.Background())
	if err != nil {
		t.Fatalf("ListActiveServices: %v", err)
	}
	if len(services) != 2 || services[0].Capacity() != 2 || services[1].Prefix != "T" {
		t.Errorf("services = %+v", services)
	}
}

func TestUpsertAndGetStatistics(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO statistics").
		WithArgs("transcripts", int64(3), int64(1), 15.0, 5.0, int64(7), "medium", epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT service_id, waiting_count").
		WithArgs("archive").
		WillReturnRows(sqlmock.NewRows([]string{"service_id"}))

	err := s.UpsertStatistics(context.Background(), queue.Statistics{
		ServiceID: "transcripts", WaitingCount: 3, InProgressCount: 1,
		EstimatedWaitMinutes: 15, AverageServiceMinutes: 5, CompletedToday: 7,
		Confidence: queue.ConfidenceMedium, UpdatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("UpsertStatistics: %v", err)
	}

	if _, err := s.GetStatistics(context.Background(), "archive"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetStatistics = %v, want ErrNotFound", err)
	}
}

func TestNullableHelpers(t *testing.T) {
	if nullableTime(nil) != nil || nullableInt(nil) != nil {
		t.Error("nil pointers must map to SQL NULL")
	}
	window := 2
	if value, ok := nullableInt(&window).(int64); !ok || value != 2 {
		t.Errorf("nullableInt = %v", nullableInt(&window))
	}
}

// activeRows returns one waiting ticket w1 and, when busyWindow is
// non-nil, one called ticket c1 holding that window.
func activeRows(busyWindow any) *sqlmock.Rows {
	rows := sqlmock.NewRows(ticketColumnNames).AddRow(
		"w1", "s1", "transcripts", "waiting", int64(0), int64(2),
		epoch, nil, nil, nil, nil, "", "", epoch,
	)
	if busyWindow != nil {
		rows.AddRow(
			"c1", "s0", "transcripts", "called", int64(0), int64(1),
			epoch, epoch, nil, nil, busyWindow, "op-1", "", epoch,
		)
	}
	return rows
}

func chooseFirstWaiting(window int) func([]queue.Ticket) (string, int, error) {
	return func(active []queue.Ticket) (string, int, error) {
		for _, ticket := range active {
			if ticket.Status == queue.StatusWaiting {
				return ticket.ID, window, nil
			}
		}
		return "", 0, errors.New("nobody waiting")
	}
}

func TestClaimNext(t *testing.T) {
	s, mock := newMockStore(t)
	called := epoch.Add(5 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("transcripts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("transcripts").
		WillReturnRows(activeRows(int64(0)))
	mock.ExpectQuery("UPDATE tickets SET").
		WithArgs(called, int64(1), "op-2", called, "w1").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames).AddRow(
			"w1", "s1", "transcripts", "called", int64(0), int64(2),
			epoch, called, nil, nil, int64(1), "op-2", "", called,
		))
	mock.ExpectCommit()

	var seen []queue.Ticket
	choose := chooseFirstWaiting(1)
	ticket, err := s.ClaimNext(context.Background(), store.Claim{
		ServiceID: "transcripts",
		Choose: func(active []queue.Ticket) (string, int, error) {
			seen = active
			return choose(active)
		},
		CalledAt:   called,
		OperatorID: "op-2",
	})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("Choose saw %d tickets, want 2", len(seen))
	}
	if ticket.Status != queue.StatusCalled || ticket.OperatorID != "op-2" {
		t.Errorf("ticket = %+v", ticket)
	}
	if got, ok := ticket.WindowIndex(); !ok || got != 1 {
		t.Errorf("window = %d, %v; want 1", got, ok)
	}
}

func TestClaimNextChooseErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	empty := errors.New("queue empty")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(ticketColumnNames))
	mock.ExpectRollback()

	_, err := s.ClaimNext(context.Background(), store.Claim{
		ServiceID: "transcripts",
		Choose: func([]queue.Ticket) (string, int, error) {
			return "", 0, empty
		},
		CalledAt: epoch,
	})
	if err != empty {
		t.Errorf("ClaimNext = %v, want the Choose error unchanged", err)
	}
}

func TestClaimNextRejectsHeldWindow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(activeRows(int64(0)))
	mock.ExpectRollback()

	_, err := s.ClaimNext(context.Background(), store.Claim{
		ServiceID: "transcripts",
		Choose:    chooseFirstWaiting(0),
		CalledAt:  epoch,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("ClaimNext = %v, want ErrConflict", err)
	}
}

func TestClaimNextWindowViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(activeRows(nil))
	mock.ExpectQuery("UPDATE tickets SET").WillReturnError(&pgconn.PgError{
		Code:           "23505",
		ConstraintName: "tickets_one_ticket_per_window",
	})
	mock.ExpectRollback()

	_, err := s.ClaimNext(context.Background(), store.Claim{
		ServiceID: "transcripts",
		Choose:    chooseFirstWaiting(0),
		CalledAt:  epoch,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("ClaimNext = %v, want ErrConflict", err)
	}
}
