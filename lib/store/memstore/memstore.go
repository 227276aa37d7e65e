// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore is an in-memory [store.Store]. Every operation runs
// under one mutex, which makes each call atomic. State is lost when
// the process exits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// Store is the in-memory implementation. The zero value is not usable;
// call New.
type Store struct {
	mu sync.Mutex

	tickets  map[string]queue.Ticket
	active   map[string]string // student ID → ticket ID
	numbers  map[numberKey]int
	services map[string]queue.Service
	stats    map[string]queue.Statistics
}

type numberKey struct {
	serviceID string
	day       time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tickets:  make(map[string]queue.Ticket),
		active:   make(map[string]string),
		numbers:  make(map[numberKey]int),
		services: make(map[string]queue.Service),
		stats:    make(map[string]queue.Statistics),
	}
}

func (s *Store) CreateTicket(ctx context.Context, ticket store.NewTicket) (queue.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return queue.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.ID]; exists {
		return queue.Ticket{}, fmt.Errorf("memstore: ticket %s already exists", ticket.ID)
	}
	if _, exists := s.services[ticket.ServiceID]; !exists {
		return queue.Ticket{}, fmt.Errorf("memstore: service %s: %w", ticket.ServiceID, store.ErrNotFound)
	}
	if _, busy := s.active[ticket.StudentID]; busy {
		return queue.Ticket{}, store.ErrActiveTicketExists
	}

	key := numberKey{serviceID: ticket.ServiceID, day: store.DayStart(ticket.CreatedAt)}
	s.numbers[key]++

	created := queue.Ticket{
		ID:        ticket.ID,
		StudentID: ticket.StudentID,
		ServiceID: ticket.ServiceID,
		Status:    queue.StatusWaiting,
		Priority:  ticket.Priority,
		Number:    s.numbers[key],
		CreatedAt: ticket.CreatedAt,
		UpdatedAt: ticket.CreatedAt,
	}
	s.tickets[created.ID] = created
	s.active[created.StudentID] = created.ID
	return cloneTicket(created), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (queue.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return queue.Ticket{}, store.ErrNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) GetActiveTicketFor(ctx context.Context, studentID string) (queue.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticketID, ok := s.active[studentID]
	if !ok {
		return queue.Ticket{}, store.ErrNotFound
	}
	return cloneTicket(s.tickets[ticketID]), nil
}

func (s *Store) ListActive(ctx context.Context, serviceID string) ([]queue.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFor(serviceID), nil
}

// activeFor returns copies of the service's active tickets. The caller
// holds mu.
func (s *Store) activeFor(serviceID string) []queue.Ticket {
	var result []queue.Ticket
	for _, ticketID := range s.active {
		ticket := s.tickets[ticketID]
		if ticket.ServiceID == serviceID {
			result = append(result, cloneTicket(ticket))
		}
	}
	return result
}

func (s *Store) UpdateStatus(ctx context.Context, update store.StatusUpdate) (queue.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return queue.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[update.TicketID]
	if !ok {
		return queue.Ticket{}, store.ErrNotFound
	}
	if ticket.Status != update.From {
		return queue.Ticket{}, fmt.Errorf("memstore: ticket %s is %s, expected %s: %w",
			ticket.ID, ticket.Status, update.From, store.ErrConflict)
	}

	ticket = update.Apply(ticket)
	s.tickets[ticket.ID] = ticket
	if !ticket.Status.IsActive() {
		delete(s.active, ticket.StudentID)
	}
	return cloneTicket(ticket), nil
}

func (s *Store) ClaimNext(ctx context.Context, claim store.Claim) (queue.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return queue.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeFor(claim.ServiceID)
	ticketID, window, err := claim.Choose(active)
	if err != nil {
		return queue.Ticket{}, err
	}
	if err := claim.Verify(active, ticketID, window); err != nil {
		return queue.Ticket{}, fmt.Errorf("memstore: %w", err)
	}
	ticket := claim.Update(ticketID, window).Apply(s.tickets[ticketID])
	s.tickets[ticket.ID] = ticket
	return cloneTicket(ticket), nil
}

func (s *Store) RecentCompleted(ctx context.Context, serviceID string, limit int) ([]queue.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var completed []queue.Ticket
	for _, ticket := range s.tickets {
		if ticket.ServiceID == serviceID && ticket.Status == queue.StatusCompleted && ticket.CompletedAt != nil {
			completed = append(completed, cloneTicket(ticket))
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CompletedAt.After(*completed[j].CompletedAt)
	})
	if limit >= 0 && len(completed) > limit {
		completed = completed[:limit]
	}
	return completed, nil
}

func (s *Store) CountCompletedSince(ctx context.Context, serviceID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ticket := range s.tickets {
		if ticket.ServiceID == serviceID && ticket.Status == queue.StatusCompleted &&
			ticket.CompletedAt != nil && !ticket.CompletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (queue.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[serviceID]
	if !ok {
		return queue.Service{}, store.ErrNotFound
	}
	return service, nil
}

func (s *Store) ListActiveServices(ctx context.Context) ([]queue.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []queue.Service
	for _, service := range s.services {
		if service.Active {
			result = append(result, service)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) PutService(ctx context.Context, service queue.Service) error {
	if err := service.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service.ID] = service
	return nil
}

func (s *Store) UpsertStatistics(ctx context.Context, stats queue.Statistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.ServiceID] = stats
	return nil
}

func (s *Store) GetStatistics(ctx context.Context, serviceID string) (queue.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[serviceID]
	if !ok {
		return queue.Statistics{}, store.ErrNotFound
	}
	return stats, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// cloneTicket copies pointer fields so callers cannot mutate stored
// state.
func cloneTicket(ticket queue.Ticket) queue.Ticket {
	ticket.CalledAt = cloneTime(ticket.CalledAt)
	ticket.StartedAt = cloneTime(ticket.StartedAt)
	ticket.CompletedAt = cloneTime(ticket.CompletedAt)
	if ticket.Window != nil {
		window := *ticket.Window
		ticket.Window = &window
	}
	return ticket
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
