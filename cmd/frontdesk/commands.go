// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// Response shapes of the service's socket actions.

type statusResponse struct {
	UptimeSeconds float64        `cbor:"uptime_seconds" json:"uptime_seconds"`
	Version       string         `cbor:"version" json:"version"`
	Subscribers   int            `cbor:"subscribers" json:"subscribers"`
	Relay         map[string]any `cbor:"relay,omitempty" json:"relay,omitempty"`
}

type joinResponse struct {
	Ticket   queueschema.Ticket    `cbor:"ticket" json:"ticket"`
	Position *queueschema.Position `cbor:"position,omitempty" json:"position,omitempty"`
}

type positionResponse struct {
	Active   bool                  `cbor:"active" json:"active"`
	Position *queueschema.Position `cbor:"position,omitempty" json:"position,omitempty"`
}

type subscribeFrame struct {
	Type      string                 `cbor:"type" json:"type"`
	Topic     string                 `cbor:"topic,omitempty" json:"topic,omitempty"`
	Snapshots []queueschema.Snapshot `cbor:"snapshots,omitempty" json:"snapshots,omitempty"`
	Position  *queueschema.Position  `cbor:"position,omitempty" json:"position,omitempty"`
	Event     *broadcast.Event       `cbor:"event,omitempty" json:"event,omitempty"`
}

func usageError(usage string) error {
	return fmt.Errorf("usage: frontdesk %s", usage)
}

func statusCommand(a *app) *Command {
	return &Command{
		Name:    "status",
		Summary: "Check that the service is up",
		Flags:   a.flagSet("status", nil),
		Run: func(args []string) error {
			var status statusResponse
			if err := a.client().Call(a.ctx, "status", nil, &status); err != nil {
				return err
			}
			return a.emit(status, func(w io.Writer) {
				uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
				fmt.Fprintf(w, "frontdesk-service %s, up %s, %d subscribers\n", status.Version, uptime, status.Subscribers)
			})
		},
	}
}

func servicesCommand(a *app) *Command {
	return &Command{
		Name:    "services",
		Summary: "List active services",
		Flags:   a.flagSet("services", nil),
		Run: func(args []string) error {
			var services []queueschema.Service
			if err := a.client().Call(a.ctx, "services", nil, &services); err != nil {
				return err
			}
			if services == nil {
				services = []queueschema.Service{}
			}
			return a.emit(services, func(w io.Writer) {
				for _, definition := range services {
					fmt.Fprintf(w, "%s\t%s\t%d windows\tbase %s\n", definition.ID, definition.Name,
						definition.Capacity(), formatMinutes(definition.BaseServiceMinutes))
				}
			})
		},
	}
}

func joinCommand(a *app) *Command {
	var priority int
	return &Command{
		Name:    "join",
		Summary: "Queue a student for a service",
		Usage:   "frontdesk join <student-id> <service-id> [--priority N]",
		Examples: []Example{
			{Description: "Queue a student at the registrar", Command: "frontdesk join s-1042 registrar"},
		},
		Flags: a.flagSet("join", func(flagSet *pflag.FlagSet) {
			flagSet.IntVar(&priority, "priority", 0, "priority; higher is served sooner")
		}),
		Run: func(args []string) error {
			if len(args) != 2 {
				return usageError("join <student-id> <service-id>")
			}
			var response joinResponse
			if err := a.client().Call(a.ctx, "join", map[string]any{
				"student_id": args[0],
				"service_id": args[1],
				"priority":   priority,
			}, &response); err != nil {
				return err
			}
			return a.emit(response, func(w io.Writer) {
				printTicket(w, response.Ticket)
				printPosition(w, response.Position)
			})
		},
	}
}

func positionCommand(a *app) *Command {
	var studentID string
	return &Command{
		Name:    "position",
		Summary: "Show where a ticket stands",
		Usage:   "frontdesk position <ticket-id> | --student <student-id>",
		Flags: a.flagSet("position", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&studentID, "student", "", "look up the student's active ticket")
		}),
		Run: func(args []string) error {
			fields := map[string]any{}
			switch {
			case len(args) == 1 && studentID == "":
				fields["ticket_id"] = args[0]
			case len(args) == 0 && studentID != "":
				fields["student_id"] = studentID
			default:
				return usageError("position <ticket-id> | --student <student-id>")
			}
			var response positionResponse
			if err := a.client().Call(a.ctx, "position", fields, &response); err != nil {
				return err
			}
			return a.emit(response, func(w io.Writer) {
				printPosition(w, response.Position)
			})
		},
	}
}

// ticketCommand builds a command that applies a ticket-ID action and
// prints the updated ticket.
func ticketCommand(a *app, action, summary string) *Command {
	return &Command{
		Name:    action,
		Summary: summary,
		Usage:   fmt.Sprintf("frontdesk %s <ticket-id>", action),
		Flags:   a.flagSet(action, nil),
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError(action + " <ticket-id>")
			}
			return a.ticketAction(action, map[string]any{"ticket_id": args[0]})
		},
	}
}

func (a *app) ticketAction(action string, fields map[string]any) error {
	var ticket queueschema.Ticket
	if err := a.client().Call(a.ctx, action, fields, &ticket); err != nil {
		return err
	}
	return a.emit(ticket, func(w io.Writer) {
		printTicket(w, ticket)
	})
}

func snapshotCommand(a *app) *Command {
	return &Command{
		Name:    "snapshot",
		Summary: "Show a service's queue",
		Usage:   "frontdesk snapshot <service-id>",
		Flags:   a.flagSet("snapshot", nil),
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("snapshot <service-id>")
			}
			var snapshot queueschema.Snapshot
			if err := a.client().Call(a.ctx, "snapshot", map[string]any{"service_id": args[0]}, &snapshot); err != nil {
				return err
			}
			return a.emit(snapshot, func(w io.Writer) {
				printSnapshot(w, snapshot)
			})
		},
	}
}

func statisticsCommand(a *app) *Command {
	var fresh bool
	return &Command{
		Name:    "stats",
		Summary: "Show a service's statistics",
		Usage:   "frontdesk stats <service-id> [--fresh]",
		Flags: a.flagSet("stats", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&fresh, "fresh", false, "compute now instead of showing the last refresh")
		}),
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("stats <service-id>")
			}
			var stats queueschema.Statistics
			if err := a.client().Call(a.ctx, "statistics", map[string]any{
				"service_id": args[0],
				"fresh":      fresh,
			}, &stats); err != nil {
				return err
			}
			return a.emit(stats, func(w io.Writer) {
				printStatistics(w, stats)
			})
		},
	}
}

func callNextCommand(a *app) *Command {
	var operatorID string
	return &Command{
		Name:    "call-next",
		Summary: "Call the next waiting ticket to a free window",
		Usage:   "frontdesk call-next <service-id> [--operator ID]",
		Flags: a.flagSet("call-next", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&operatorID, "operator", "", "staff member calling the ticket")
		}),
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("call-next <service-id>")
			}
			return a.ticketAction("call-next", map[string]any{
				"service_id":  args[0],
				"operator_id": operatorID,
			})
		},
	}
}

func completeCommand(a *app) *Command {
	var notes string
	return &Command{
		Name:    "complete",
		Summary: "Finish serving a ticket",
		Usage:   "frontdesk complete <ticket-id> [--notes TEXT]",
		Flags: a.flagSet("complete", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&notes, "notes", "", "completion notes")
		}),
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("complete <ticket-id>")
			}
			return a.ticketAction("complete", map[string]any{
				"ticket_id": args[0],
				"notes":     notes,
			})
		},
	}
}

func watchCommand(a *app) *Command {
	var (
		serviceID string
		studentID string
		topic     string
	)
	return &Command{
		Name:    "watch",
		Summary: "Stream live queue events",
		Usage:   "frontdesk watch (--service ID | --student ID | --topic admin|queue)",
		Examples: []Example{
			{Description: "Follow the registrar queue", Command: "frontdesk watch --service registrar"},
			{Description: "Follow every service", Command: "frontdesk watch --topic admin --json"},
		},
		Flags: a.flagSet("watch", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&serviceID, "service", "", "follow one service's queue")
			flagSet.StringVar(&studentID, "student", "", "follow one student's position")
			flagSet.StringVar(&topic, "topic", "", "follow a shared topic (admin or queue)")
		}),
		Run: func(args []string) error {
			if len(args) != 0 {
				return usageError("watch (--service ID | --student ID | --topic NAME)")
			}
			stream, err := a.client().Stream(a.ctx, "subscribe", map[string]any{
				"service_id": serviceID,
				"student_id": studentID,
				"topic":      topic,
			})
			if err != nil {
				return err
			}
			defer stream.Close()

			for {
				var frame subscribeFrame
				if err := stream.Next(&frame); err != nil {
					if a.ctx.Err() != nil || errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("reading stream: %w", err)
				}
				if err := a.emit(frame, func(w io.Writer) { printFrame(w, frame) }); err != nil {
					return err
				}
			}
		},
	}
}

func printFrame(w io.Writer, frame subscribeFrame) {
	switch frame.Type {
	case "snapshot":
		for _, snapshot := range frame.Snapshots {
			printSnapshot(w, snapshot)
		}
		if frame.Position != nil || len(frame.Snapshots) == 0 {
			printPosition(w, frame.Position)
		}
	case "event":
		event := frame.Event
		if event == nil {
			return
		}
		fmt.Fprintf(w, "%s %s", event.At.Format(time.TimeOnly), event.Type)
		if event.TicketID != "" {
			fmt.Fprintf(w, " %s", event.TicketID)
		}
		if event.ServiceID != "" {
			fmt.Fprintf(w, " [%s]", event.ServiceID)
		}
		if event.Position != nil {
			fmt.Fprintf(w, " rank %d, about %s", event.Position.Rank, formatMinutes(event.Position.EstimatedWaitMinutes))
		}
		fmt.Fprintln(w)
	case "resync":
		fmt.Fprintln(w, "-- fell behind, resynchronizing --")
	}
}
