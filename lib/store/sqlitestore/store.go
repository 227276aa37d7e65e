// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore is a [store.Store] backed by a local SQLite
// database through [sqlitepool]. Every mutation runs in an IMMEDIATE
// transaction, so a status compare-and-set and the row write it guards
// are one atomic step.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/sqlitepool"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	PoolSize int
	Logger   *slog.Logger
}

// Store is the SQLite implementation.
type Store struct {
	pool *sqlitepool.Pool
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   schema,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) CreateTicket(ctx context.Context, ticket store.NewTicket) (queue.Ticket, error) {
	var created queue.Ticket
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if _, err := getService(conn, ticket.ServiceID); err != nil {
			return fmt.Errorf("service %s: %w", ticket.ServiceID, err)
		}
		if _, err := getActiveTicketFor(conn, ticket.StudentID); err == nil {
			return store.ErrActiveTicketExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		dayStart := store.DayStart(ticket.CreatedAt)
		var number int
		err := sqlitex.Execute(conn, `
			SELECT COALESCE(MAX(number), 0) + 1 FROM tickets
			WHERE service_id = ? AND created_at >= ? AND created_at < ?`,
			&sqlitex.ExecOptions{
				Args: []any{ticket.ServiceID, dayStart.UnixNano(), dayStart.AddDate(0, 0, 1).UnixNano()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					number = stmt.ColumnInt(0)
					return nil
				},
			})
		if err != nil {
			return err
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
		err = sqlitex.Execute(conn, `INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: ticketArgs(created)})
		if err != nil && sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return store.ErrActiveTicketExists
		}
		return err
	})
	if err != nil {
		return queue.Ticket{}, wrap("create ticket", err)
	}
	return created, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (queue.Ticket, error) {
	var ticket queue.Ticket
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		ticket, err = getTicket(conn, ticketID)
		return err
	})
	if err != nil {
		return queue.Ticket{}, wrap("get ticket "+ticketID, err)
	}
	return ticket, nil
}

func (s *Store) GetActiveTicketFor(ctx context.Context, studentID string) (queue.Ticket, error) {
	var ticket queue.Ticket
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		ticket, err = getActiveTicketFor(conn, studentID)
		return err
	})
	if err != nil {
		return queue.Ticket{}, wrap("active ticket for "+studentID, err)
	}
	return ticket, nil
}

func (s *Store) ListActive(ctx context.Context, serviceID string) ([]queue.Ticket, error) {
	var tickets []queue.Ticket
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		tickets, err = listActive(conn, serviceID)
		return err
	})
	if err != nil {
		return nil, wrap("list active "+serviceID, err)
	}
	return tickets, nil
}

func (s *Store) UpdateStatus(ctx context.Context, update store.StatusUpdate) (queue.Ticket, error) {
	var written queue.Ticket
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		current, err := getTicket(conn, update.TicketID)
		if err != nil {
			return err
		}
		if current.Status != update.From {
			return fmt.Errorf("ticket %s is %s, expected %s: %w",
				current.ID, current.Status, update.From, store.ErrConflict)
		}
		written, err = writeStatus(conn, current, update)
		return err
	})
	if err != nil {
		return queue.Ticket{}, wrap("update status", err)
	}
	return written, nil
}

func (s *Store) ClaimNext(ctx context.Context, claim store.Claim) (queue.Ticket, error) {
	var (
		written   queue.Ticket
		chooseErr error
	)
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		active, err := listActive(conn, claim.ServiceID)
		if err != nil {
			return err
		}
		ticketID, window, err := claim.Choose(active)
		if err != nil {
			chooseErr = err
			return err
		}
		if err := claim.Verify(active, ticketID, window); err != nil {
			return err
		}
		var current queue.Ticket
		for _, ticket := range active {
			if ticket.ID == ticketID {
				current = ticket
			}
		}
		written, err = writeStatus(conn, current, claim.Update(ticketID, window))
		return err
	})
	if chooseErr != nil {
		return queue.Ticket{}, chooseErr
	}
	if err != nil {
		return queue.Ticket{}, wrap("claim next "+claim.ServiceID, err)
	}
	return written, nil
}

// writeStatus applies update to current, which the caller read inside
// the same write transaction. A window already held by another ticket
// of the service is a conflict.
func writeStatus(conn *sqlite.Conn, current queue.Ticket, update store.StatusUpdate) (queue.Ticket, error) {
	written := update.Apply(current)
	err := sqlitex.Execute(conn, `
		UPDATE tickets SET status = ?, called_at = ?, started_at = ?, completed_at = ?,
			window_index = ?, operator_id = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(written.Status),
			nullableNanos(written.CalledAt),
			nullableNanos(written.StartedAt),
			nullableNanos(written.CompletedAt),
			nullableInt(written.Window),
			written.OperatorID,
			written.Notes,
			written.UpdatedAt.UnixNano(),
			written.ID,
			string(update.From),
		}})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return queue.Ticket{}, fmt.Errorf("ticket %s window: %w", update.TicketID, store.ErrConflict)
		}
		return queue.Ticket{}, err
	}
	if conn.Changes() != 1 {
		return queue.Ticket{}, fmt.Errorf("ticket %s: %w", update.TicketID, store.ErrConflict)
	}
	return written, nil
}

func (s *Store) RecentCompleted(ctx context.Context, serviceID string, limit int) ([]queue.Ticket, error) {
	var tickets []queue.Ticket
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+ticketColumns+` FROM tickets
			WHERE service_id = ? AND status = 'completed' AND completed_at IS NOT NULL
			ORDER BY completed_at DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{serviceID, limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					tickets = append(tickets, scanTicket(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, wrap("recent completed "+serviceID, err)
	}
	return tickets, nil
}

func (s *Store) CountCompletedSince(ctx context.Context, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM tickets
			WHERE service_id = ? AND status = 'completed' AND completed_at >= ?`,
			&sqlitex.ExecOptions{
				Args: []any{serviceID, since.UnixNano()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, wrap("count completed "+serviceID, err)
	}
	return count, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (queue.Service, error) {
	var service queue.Service
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		service, err = getService(conn, serviceID)
		return err
	})
	if err != nil {
		return queue.Service{}, wrap("get service "+serviceID, err)
	}
	return service, nil
}

func (s *Store) ListActiveServices(ctx context.Context) ([]queue.Service, error) {
	var services []queue.Service
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+serviceColumns+` FROM services
			WHERE active = 1 ORDER BY id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					services = append(services, scanService(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, wrap("list services", err)
	}
	return services, nil
}

func (s *Store) PutService(ctx context.Context, service queue.Service) error {
	if err := service.Validate(); err != nil {
		return err
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO services (`+serviceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				base_service_minutes = excluded.base_service_minutes,
				windows = excluded.windows,
				active = excluded.active,
				prefix = excluded.prefix,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{Args: []any{
				service.ID, service.Name, service.BaseServiceMinutes, service.Windows,
				boolInt(service.Active), service.Prefix, service.UpdatedAt.UnixNano(),
			}})
	})
	return wrap("put service "+service.ID, err)
}

func (s *Store) UpsertStatistics(ctx context.Context, stats queue.Statistics) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO statistics (
				service_id, waiting_count, in_progress_count, estimated_wait_minutes,
				average_service_minutes, completed_today, confidence, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (service_id) DO UPDATE SET
				waiting_count = excluded.waiting_count,
				in_progress_count = excluded.in_progress_count,
				estimated_wait_minutes = excluded.estimated_wait_minutes,
				average_service_minutes = excluded.average_service_minutes,
				completed_today = excluded.completed_today,
				confidence = excluded.confidence,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{Args: []any{
				stats.ServiceID, stats.WaitingCount, stats.InProgressCount,
				stats.EstimatedWaitMinutes, stats.AverageServiceMinutes,
				stats.CompletedToday, string(stats.Confidence), stats.UpdatedAt.UnixNano(),
			}})
	})
	return wrap("upsert statistics "+stats.ServiceID, err)
}

func (s *Store) GetStatistics(ctx context.Context, serviceID string) (queue.Statistics, error) {
	var (
		stats queue.Statistics
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT service_id, waiting_count, in_progress_count,
				estimated_wait_minutes, average_service_minutes, completed_today,
				confidence, updated_at
			FROM statistics WHERE service_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{serviceID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					stats = queue.Statistics{
						ServiceID:             stmt.ColumnText(0),
						WaitingCount:          stmt.ColumnInt(1),
						InProgressCount:       stmt.ColumnInt(2),
						EstimatedWaitMinutes:  stmt.ColumnFloat(3),
						AverageServiceMinutes: stmt.ColumnFloat(4),
						CompletedToday:        stmt.ColumnInt(5),
						Confidence:            queue.Confidence(stmt.ColumnText(6)),
						UpdatedAt:             fromNanos(stmt.ColumnInt64(7)),
					}
					return nil
				},
			})
	})
	if err == nil && !found {
		err = store.ErrNotFound
	}
	if err != nil {
		return queue.Statistics{}, wrap("get statistics "+serviceID, err)
	}
	return stats, nil
}

func listActive(conn *sqlite.Conn, serviceID string) ([]queue.Ticket, error) {
	var tickets []queue.Ticket
	err := sqlitex.Execute(conn, `SELECT `+ticketColumns+` FROM tickets
		WHERE service_id = ? AND status IN ('waiting', 'called', 'in_progress')`,
		&sqlitex.ExecOptions{
			Args: []any{serviceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tickets = append(tickets, scanTicket(stmt))
				return nil
			},
		})
	return tickets, err
}

func getTicket(conn *sqlite.Conn, ticketID string) (queue.Ticket, error) {
	return queryOneTicket(conn, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, ticketID)
}

func getActiveTicketFor(conn *sqlite.Conn, studentID string) (queue.Ticket, error) {
	return queryOneTicket(conn, `SELECT `+ticketColumns+` FROM tickets
		WHERE student_id = ? AND status IN ('waiting', 'called', 'in_progress')`, studentID)
}

func queryOneTicket(conn *sqlite.Conn, query string, arg string) (queue.Ticket, error) {
	var (
		ticket queue.Ticket
		found  bool
	)
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ticket = scanTicket(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return queue.Ticket{}, err
	}
	if !found {
		return queue.Ticket{}, store.ErrNotFound
	}
	return ticket, nil
}

func getService(conn *sqlite.Conn, serviceID string) (queue.Service, error) {
	var (
		service queue.Service
		found   bool
	)
	err := sqlitex.Execute(conn, `SELECT `+serviceColumns+` FROM services WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{serviceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				service = scanService(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return queue.Service{}, err
	}
	if !found {
		return queue.Service{}, store.ErrNotFound
	}
	return service, nil
}

// scanTicket reads a row selected with ticketColumns.
func scanTicket(stmt *sqlite.Stmt) queue.Ticket {
	return queue.Ticket{
		ID:          stmt.ColumnText(0),
		StudentID:   stmt.ColumnText(1),
		ServiceID:   stmt.ColumnText(2),
		Status:      queue.Status(stmt.ColumnText(3)),
		Priority:    stmt.ColumnInt(4),
		Number:      stmt.ColumnInt(5),
		CreatedAt:   fromNanos(stmt.ColumnInt64(6)),
		CalledAt:    columnTime(stmt, 7),
		StartedAt:   columnTime(stmt, 8),
		CompletedAt: columnTime(stmt, 9),
		Window:      columnInt(stmt, 10),
		OperatorID:  stmt.ColumnText(11),
		Notes:       stmt.ColumnText(12),
		UpdatedAt:   fromNanos(stmt.ColumnInt64(13)),
	}
}

func scanService(stmt *sqlite.Stmt) queue.Service {
	return queue.Service{
		ID:                 stmt.ColumnText(0),
		Name:               stmt.ColumnText(1),
		BaseServiceMinutes: stmt.ColumnFloat(2),
		Windows:            stmt.ColumnInt(3),
		Active:             stmt.ColumnInt(4) != 0,
		Prefix:             stmt.ColumnText(5),
		UpdatedAt:          fromNanos(stmt.ColumnInt64(6)),
	}
}

func ticketArgs(ticket queue.Ticket) []any {
	return []any{
		ticket.ID, ticket.StudentID, ticket.ServiceID, string(ticket.Status),
		ticket.Priority, ticket.Number, ticket.CreatedAt.UnixNano(),
		nullableNanos(ticket.CalledAt), nullableNanos(ticket.StartedAt),
		nullableNanos(ticket.CompletedAt), nullableInt(ticket.Window),
		ticket.OperatorID, ticket.Notes, ticket.UpdatedAt.UnixNano(),
	}
}

func columnTime(stmt *sqlite.Stmt, column int) *time.Time {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return nil
	}
	t := fromNanos(stmt.ColumnInt64(column))
	return &t
}

func columnInt(stmt *sqlite.Stmt, column int) *int {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return nil
	}
	value := stmt.ColumnInt(column)
	return &value
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func fromNanos(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// wrap prefixes err, leaving store sentinels reachable through
// errors.Is.
func wrap(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlitestore: %s: %w", operation, err)
}
