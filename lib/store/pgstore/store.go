// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pgstore is a [store.Store] backed by PostgreSQL through
// database/sql and the pgx stdlib driver.
//
// Status updates are a single UPDATE ... WHERE status = $from
// RETURNING statement, so the compare-and-set needs no explicit
// transaction. Ticket creation and ClaimNext take a transaction-scoped
// advisory lock on the service, so display numbers are assigned
// without gaps or duplicates and two instances never call into the
// same window. ClaimNext also locks the service's active rows with
// SELECT ... FOR UPDATE, which holds off concurrent status updates to
// them until the claim commits.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config holds the parameters for connecting.
type Config struct {
	DSN string

	// MaxOpenConns defaults to 10.
	MaxOpenConns int

	Logger *slog.Logger
}

// Store is the Postgres implementation.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, verifies the connection, and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgstore: DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: opening: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: connecting: %w", err)
	}

	s := New(db, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("postgres store opened", "max_open_conns", maxOpen)
	return s, nil
}

// New wraps an existing handle. The caller is responsible for the
// schema (see Migrate).
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: applying schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateTicket(ctx context.Context, ticket store.NewTicket) (created queue.Ticket, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Ticket{}, wrap("create ticket: begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.ServiceID); err != nil {
		return queue.Ticket{}, wrap("create ticket: lock service", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1)`, ticket.ServiceID).Scan(&exists)
	if err != nil {
		return queue.Ticket{}, wrap("create ticket: check service", err)
	}
	if !exists {
		err = fmt.Errorf("pgstore: service %s: %w", ticket.ServiceID, store.ErrNotFound)
		return queue.Ticket{}, err
	}

	dayStart := store.DayStart(ticket.CreatedAt)
	var number int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number), 0) + 1 FROM tickets
		WHERE service_id = $1 AND created_at >= $2 AND created_at < $3`,
		ticket.ServiceID, dayStart, dayStart.AddDate(0, 0, 1)).Scan(&number)
	if err != nil {
		return queue.Ticket{}, wrap("create ticket: next number", err)
	}

	created = queue.Ticket{
		ID:        ticket.ID,
		StudentID: ticket.StudentID,
		ServiceID: ticket.ServiceID,
		Status:    queue.StatusWaiting,
		Priority:  ticket.Priority,
		Number:    number,
		CreatedAt: ticket.CreatedAt,
		UpdatedAt: ticket.CreatedAt,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, student_id, service_id, status, priority, number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		created.ID, created.StudentID, created.ServiceID, string(created.Status),
		created.Priority, created.Number, created.CreatedAt, created.UpdatedAt)
	if err != nil {
		if isActiveTicketViolation(err) {
			err = fmt.Errorf("pgstore: create ticket: %w", store.ErrActiveTicketExists)
			return queue.Ticket{}, err
		}
		return queue.Ticket{}, wrap("create ticket: insert", err)
	}

	if err = tx.Commit(); err != nil {
		if isActiveTicketViolation(err) {
			err = fmt.Errorf("pgstore: create ticket: %w", store.ErrActiveTicketExists)
			return queue.Ticket{}, err
		}
		return queue.Ticket{}, wrap("create ticket: commit", err)
	}
	return created, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (queue.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return queue.Ticket{}, wrap("get ticket "+ticketID, err)
	}
	return ticket, nil
}

func (s *Store) GetActiveTicketFor(ctx context.Context, studentID string) (queue.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE student_id = $1 AND status IN ('waiting', 'called', 'in_progress')`, studentID)
	ticket, err := scanTicket(row)
	if err != nil {
		return queue.Ticket{}, wrap("active ticket for "+studentID, err)
	}
	return ticket, nil
}

func (s *Store) ListActive(ctx context.Context, serviceID string) ([]queue.Ticket, error) {
	tickets, err := queryTickets(ctx, s.db, `SELECT `+ticketColumns+` FROM tickets
		WHERE service_id = $1 AND status IN ('waiting', 'called', 'in_progress')`, serviceID)
	if err != nil {
		return nil, wrap("list active "+serviceID, err)
	}
	return tickets, nil
}

func (s *Store) UpdateStatus(ctx context.Context, update store.StatusUpdate) (queue.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tickets SET
			status       = $1,
			called_at    = COALESCE($2, called_at),
			started_at   = COALESCE($3, started_at),
			completed_at = COALESCE($4, completed_at),
			window_index = CASE WHEN $5 THEN COALESCE($6, window_index) ELSE NULL END,
			operator_id  = COALESCE(NULLIF($7, ''), operator_id),
			notes        = COALESCE(NULLIF($8, ''), notes),
			updated_at   = $9
		WHERE id = $10 AND status = $11
		RETURNING `+ticketColumns,
		string(update.To),
		nullableTime(update.CalledAt),
		nullableTime(update.StartedAt),
		nullableTime(update.CompletedAt),
		update.To.OccupiesWindow(),
		nullableInt(update.Window),
		update.OperatorID,
		update.Notes,
		update.UpdatedAt,
		update.TicketID,
		string(update.From),
	)
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return queue.Ticket{}, wrap("update status", err)
	}

	// No row matched: either the ticket is missing or its status moved.
	current, getErr := s.GetTicket(ctx, update.TicketID)
	if getErr != nil {
		return queue.Ticket{}, getErr
	}
	return queue.Ticket{}, fmt.Errorf("pgstore: ticket %s is %s, expected %s: %w",
		current.ID, current.Status, update.From, store.ErrConflict)
}

func (s *Store) ClaimNext(ctx context.Context, claim store.Claim) (claimed queue.Ticket, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Ticket{}, wrap("claim next: begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, claim.ServiceID); err != nil {
		return queue.Ticket{}, wrap("claim next: lock service", err)
	}
	active, err := queryTickets(ctx, tx, `SELECT `+ticketColumns+` FROM tickets
		WHERE service_id = $1 AND status IN ('waiting', 'called', 'in_progress')
		FOR UPDATE`, claim.ServiceID)
	if err != nil {
		return queue.Ticket{}, wrap("claim next: list active", err)
	}

	ticketID, window, err := claim.Choose(active)
	if err != nil {
		return queue.Ticket{}, err
	}
	if err = claim.Verify(active, ticketID, window); err != nil {
		err = fmt.Errorf("pgstore: claim next: %w", err)
		return queue.Ticket{}, err
	}

	calledAt := claim.CalledAt
	row := tx.QueryRowContext(ctx, `
		UPDATE tickets SET
			status       = 'called',
			called_at    = $1,
			window_index = $2,
			operator_id  = COALESCE(NULLIF($3, ''), operator_id),
			updated_at   = $4
		WHERE id = $5 AND status = 'waiting'
		RETURNING `+ticketColumns,
		calledAt, int64(window), claim.OperatorID, calledAt, ticketID)
	claimed, err = scanTicket(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || isWindowViolation(err) {
			err = fmt.Errorf("pgstore: claim next: ticket %s window %d: %w", ticketID, window, store.ErrConflict)
			return queue.Ticket{}, err
		}
		return queue.Ticket{}, wrap("claim next: update", err)
	}

	if err = tx.Commit(); err != nil {
		return queue.Ticket{}, wrap("claim next: commit", err)
	}
	return claimed, nil
}

func (s *Store) RecentCompleted(ctx context.Context, serviceID string, limit int) ([]queue.Ticket, error) {
	tickets, err := queryTickets(ctx, s.db, `SELECT `+ticketColumns+` FROM tickets
		WHERE service_id = $1 AND status = 'completed' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT $2`, serviceID, limit)
	if err != nil {
		return nil, wrap("recent completed "+serviceID, err)
	}
	return tickets, nil
}

func (s *Store) CountCompletedSince(ctx context.Context, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets
		WHERE service_id = $1 AND status = 'completed' AND completed_at >= $2`,
		serviceID, since).Scan(&count)
	if err != nil {
		return 0, wrap("count completed "+serviceID, err)
	}
	return count, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (queue.Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, serviceID)
	service, err := scanService(row)
	if err != nil {
		return queue.Service{}, wrap("get service "+serviceID, err)
	}
	return service, nil
}

func (s *Store) ListActiveServices(ctx context.Context) ([]queue.Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE active ORDER BY id`)
	if err != nil {
		return nil, wrap("list services", err)
	}
	defer rows.Close()

	var services []queue.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, wrap("list services", err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list services", err)
	}
	return services, nil
}

func (s *Store) PutService(ctx context.Context, service queue.Service) error {
	if err := service.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_service_minutes = EXCLUDED.base_service_minutes,
			windows = EXCLUDED.windows,
			active = EXCLUDED.active,
			prefix = EXCLUDED.prefix,
			updated_at = EXCLUDED.updated_at`,
		service.ID, service.Name, service.BaseServiceMinutes, service.Windows,
		service.Active, service.Prefix, service.UpdatedAt)
	return wrap("put service "+service.ID, err)
}

func (s *Store) UpsertStatistics(ctx context.Context, stats queue.Statistics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statistics (service_id, waiting_count, in_progress_count,
			estimated_wait_minutes, average_service_minutes, completed_today,
			confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service_id) DO UPDATE SET
			waiting_count = EXCLUDED.waiting_count,
			in_progress_count = EXCLUDED.in_progress_count,
			estimated_wait_minutes = EXCLUDED.estimated_wait_minutes,
			average_service_minutes = EXCLUDED.average_service_minutes,
			completed_today = EXCLUDED.completed_today,
			confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`,
		stats.ServiceID, stats.WaitingCount, stats.InProgressCount,
		stats.EstimatedWaitMinutes, stats.AverageServiceMinutes,
		stats.CompletedToday, string(stats.Confidence), stats.UpdatedAt)
	return wrap("upsert statistics "+stats.ServiceID, err)
}

func (s *Store) GetStatistics(ctx context.Context, serviceID string) (queue.Statistics, error) {
	var (
		stats      queue.Statistics
		confidence string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT service_id, waiting_count, in_progress_count, estimated_wait_minutes,
			average_service_minutes, completed_today, confidence, updated_at
		FROM statistics WHERE service_id = $1`, serviceID).Scan(
		&stats.ServiceID, &stats.WaitingCount, &stats.InProgressCount,
		&stats.EstimatedWaitMinutes, &stats.AverageServiceMinutes,
		&stats.CompletedToday, &confidence, &stats.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrNotFound
	}
	if err != nil {
		return queue.Statistics{}, wrap("get statistics "+serviceID, err)
	}
	stats.Confidence = queue.Confidence(confidence)
	stats.UpdatedAt = stats.UpdatedAt.UTC()
	return stats, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryTickets(ctx context.Context, db querier, query string, args ...any) ([]queue.Ticket, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []queue.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTicket reads a row selected with ticketColumns. sql.ErrNoRows
// becomes store.ErrNotFound.
func scanTicket(row scanner) (queue.Ticket, error) {
	var (
		ticket                           queue.Ticket
		status                           string
		calledAt, startedAt, completedAt sql.NullTime
		window                           sql.NullInt64
	)
	err := row.Scan(
		&ticket.ID, &ticket.StudentID, &ticket.ServiceID, &status,
		&ticket.Priority, &ticket.Number, &ticket.CreatedAt,
		&calledAt, &startedAt, &completedAt, &window,
		&ticket.OperatorID, &ticket.Notes, &ticket.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Ticket{}, store.ErrNotFound
	}
	if err != nil {
		return queue.Ticket{}, err
	}
	ticket.Status = queue.Status(status)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.UpdatedAt = ticket.UpdatedAt.UTC()
	ticket.CalledAt = timeFromNull(calledAt)
	ticket.StartedAt = timeFromNull(startedAt)
	ticket.CompletedAt = timeFromNull(completedAt)
	if window.Valid {
		index := int(window.Int64)
		ticket.Window = &index
	}
	return ticket, nil
}

func scanService(row scanner) (queue.Service, error) {
	var service queue.Service
	err := row.Scan(&service.ID, &service.Name, &service.BaseServiceMinutes,
		&service.Windows, &service.Active, &service.Prefix, &service.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Service{}, store.ErrNotFound
	}
	if err != nil {
		return queue.Service{}, err
	}
	service.UpdatedAt = service.UpdatedAt.UTC()
	return service, nil
}

func isActiveTicketViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeTicketIndex
}

func isWindowViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == windowIndex
}

func timeFromNull(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}

func wrap(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("pgstore: %s: %w", operation, err)
}
