// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/frontdesk/lib/admission"
	"github.com/bureau-foundation/frontdesk/lib/broadcast/redisrelay"
	"github.com/bureau-foundation/frontdesk/lib/codec"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/service"
	"github.com/bureau-foundation/frontdesk/lib/store"
	"github.com/bureau-foundation/frontdesk/lib/version"
)

// registerActions registers every socket action on server.
//
// Student actions: join, position, leave. Staff actions: call-next,
// begin, complete, no-show, cancel. Read-only: status, snapshot,
// statistics, services, and the subscribe stream.
func (fd *FrontDesk) registerActions(server *service.SocketServer) {
	server.ClassifyErrors(classifyError)

	server.Handle("status", fd.handleStatus)
	server.Handle("services", fd.withTimeout(fd.handleServices))
	server.Handle("snapshot", fd.withTimeout(fd.handleSnapshot))
	server.Handle("statistics", fd.withTimeout(fd.handleStatistics))

	server.Handle("join", fd.withTimeout(fd.handleJoin))
	server.Handle("position", fd.withTimeout(fd.handlePosition))
	server.Handle("leave", fd.withTimeout(fd.ticketAction(fd.controller.Leave)))

	server.Handle("call-next", fd.withTimeout(fd.handleCallNext))
	server.Handle("begin", fd.withTimeout(fd.ticketAction(fd.controller.BeginService)))
	server.Handle("complete", fd.withTimeout(fd.handleComplete))
	server.Handle("no-show", fd.withTimeout(fd.ticketAction(fd.controller.MarkNoShow)))
	server.Handle("cancel", fd.withTimeout(fd.ticketAction(fd.controller.AdminCancel)))

	server.HandleStream("subscribe", fd.handleSubscribe)
}

// classifyError maps handler errors to the response kind.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return queue.Kind(err)
}

func (fd *FrontDesk) withTimeout(handler service.ActionFunc) service.ActionFunc {
	if fd.requestTimeout <= 0 {
		return handler
	}
	return func(ctx context.Context, raw []byte) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, fd.requestTimeout)
		defer cancel()
		return handler(ctx, raw)
	}
}

// decodeRequest decodes raw into request. Malformed fields are the
// caller's mistake and classify as invalid_argument.
func decodeRequest(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return fmt.Errorf("%w: decoding request: %v", queue.ErrInvalidArgument, err)
	}
	return nil
}

// --- Read-only actions ---

type statusResponse struct {
	UptimeSeconds float64           `cbor:"uptime_seconds"`
	Version       string            `cbor:"version"`
	Subscribers   int               `cbor:"subscribers"`
	Relay         *redisrelay.Stats `cbor:"relay,omitempty"`
}

// handleStatus is a liveness check.
func (fd *FrontDesk) handleStatus(ctx context.Context, raw []byte) (any, error) {
	response := statusResponse{
		UptimeSeconds: fd.clock.Now().Sub(fd.startedAt).Seconds(),
		Version:       version.Info(),
		Subscribers:   fd.hub.Subscribers(),
	}
	if fd.relay != nil {
		stats := fd.relay.Stats()
		response.Relay = &stats
	}
	return response, nil
}

func (fd *FrontDesk) handleServices(ctx context.Context, raw []byte) (any, error) {
	services, err := fd.store.ListActiveServices(ctx)
	if err != nil {
		return nil, &queue.StoreError{Op: "services", Err: err}
	}
	if services == nil {
		services = []queueschema.Service{}
	}
	return services, nil
}

type serviceRequest struct {
	ServiceID string `cbor:"service_id"`
}

func (fd *FrontDesk) handleSnapshot(ctx context.Context, raw []byte) (any, error) {
	var request serviceRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	return fd.controller.Snapshot(ctx, request.ServiceID)
}

type statisticsRequest struct {
	ServiceID string `cbor:"service_id"`

	// Fresh computes statistics now instead of returning the last
	// refreshed figures.
	Fresh bool `cbor:"fresh"`
}

func (fd *FrontDesk) handleStatistics(ctx context.Context, raw []byte) (any, error) {
	var request statisticsRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.ServiceID == "" {
		return nil, fmt.Errorf("service ID: %w", queue.ErrInvalidArgument)
	}
	if !request.Fresh {
		stats, err := fd.store.GetStatistics(ctx, request.ServiceID)
		if err == nil {
			return stats, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, &queue.StoreError{Op: "statistics", Err: err}
		}
	}
	return fd.controller.ComputeStatistics(ctx, request.ServiceID)
}

// --- Student actions ---

type joinRequest struct {
	StudentID string `cbor:"student_id"`
	ServiceID string `cbor:"service_id"`
	Priority  int    `cbor:"priority"`
}

type joinResponse struct {
	Ticket   queueschema.Ticket    `cbor:"ticket"`
	Position *queueschema.Position `cbor:"position,omitempty"`
}

func (fd *FrontDesk) handleJoin(ctx context.Context, raw []byte) (any, error) {
	var request joinRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	ticket, position, err := fd.controller.Join(ctx, admission.JoinRequest{
		StudentID: request.StudentID,
		ServiceID: request.ServiceID,
		Priority:  request.Priority,
	})
	if err != nil {
		return nil, err
	}
	return joinResponse{Ticket: ticket, Position: position}, nil
}

type positionRequest struct {
	TicketID string `cbor:"ticket_id"`

	// StudentID looks up the student's active ticket when TicketID is
	// empty.
	StudentID string `cbor:"student_id"`
}

type positionResponse struct {
	// Active is false when the ticket has reached a terminal status
	// or the student has no active ticket.
	Active   bool                  `cbor:"active"`
	Position *queueschema.Position `cbor:"position,omitempty"`
}

func (fd *FrontDesk) handlePosition(ctx context.Context, raw []byte) (any, error) {
	var request positionRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	ticketID := request.TicketID
	if ticketID == "" && request.StudentID != "" {
		ticket, err := fd.store.GetActiveTicketFor(ctx, request.StudentID)
		if errors.Is(err, store.ErrNotFound) {
			return positionResponse{}, nil
		}
		if err != nil {
			return nil, &queue.StoreError{Op: "position", Err: err}
		}
		ticketID = ticket.ID
	}
	position, err := fd.controller.Position(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return positionResponse{Active: position != nil, Position: position}, nil
}

type ticketRequest struct {
	TicketID string `cbor:"ticket_id"`
}

// ticketAction adapts a controller operation that takes only a ticket
// ID and returns the updated ticket.
func (fd *FrontDesk) ticketAction(operation func(context.Context, string) (queueschema.Ticket, error)) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request ticketRequest
		if err := decodeRequest(raw, &request); err != nil {
			return nil, err
		}
		ticket, err := operation(ctx, request.TicketID)
		if err != nil {
			return nil, err
		}
		return ticket, nil
	}
}

// --- Staff actions ---

type callNextRequest struct {
	ServiceID  string `cbor:"service_id"`
	OperatorID string `cbor:"operator_id"`
}

func (fd *FrontDesk) handleCallNext(ctx context.Context, raw []byte) (any, error) {
	var request callNextRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	ticket, err := fd.controller.CallNext(ctx, request.ServiceID, request.OperatorID)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

type completeRequest struct {
	TicketID string `cbor:"ticket_id"`
	Notes    string `cbor:"notes"`
}

func (fd *FrontDesk) handleComplete(ctx context.Context, raw []byte) (any, error) {
	var request completeRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	ticket, err := fd.controller.Complete(ctx, request.TicketID, request.Notes)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}
