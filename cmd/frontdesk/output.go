// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// emit writes value as indented JSON when --json is set, and
// otherwise calls text.
func (a *app) emit(value any, text func(io.Writer)) error {
	if a.outputJSON {
		encoder := json.NewEncoder(a.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	text(a.out)
	return nil
}

func printTicket(w io.Writer, ticket queueschema.Ticket) {
	fmt.Fprintf(w, "%s  %s  #%d  %s", ticket.ID, ticket.ServiceID, ticket.Number, ticket.Status)
	if window, ok := ticket.WindowIndex(); ok {
		fmt.Fprintf(w, "  window %d", window+1)
	}
	if ticket.OperatorID != "" {
		fmt.Fprintf(w, "  operator %s", ticket.OperatorID)
	}
	fmt.Fprintln(w)
}

func printPosition(w io.Writer, position *queueschema.Position) {
	if position == nil {
		fmt.Fprintln(w, "no active ticket")
		return
	}
	if position.BeingServed {
		window := "?"
		if position.Window != nil {
			window = fmt.Sprint(*position.Window + 1)
		}
		fmt.Fprintf(w, "%s is being served at window %s (%s)\n", position.TicketID, window, position.Status)
		return
	}
	fmt.Fprintf(w, "%s is %d of %d waiting, about %s (%s confidence)\n",
		position.TicketID, position.Rank, position.TotalWaiting,
		formatMinutes(position.EstimatedWaitMinutes), position.Confidence)
}

func printSnapshot(w io.Writer, snapshot queueschema.Snapshot) {
	fmt.Fprintf(w, "%s: %d of %d windows busy, %d waiting\n",
		snapshot.ServiceID, len(snapshot.Serving), snapshot.Capacity, len(snapshot.Waiting))
	if len(snapshot.Serving)+len(snapshot.Waiting) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RANK\tTICKET\tSTUDENT\tSTATUS\tWAIT")
	for _, ticket := range snapshot.Serving {
		window := "-"
		if index, ok := ticket.WindowIndex(); ok {
			window = fmt.Sprintf("w%d", index+1)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t-\n", window, ticket.ID, ticket.StudentID, ticket.Status)
	}
	for _, entry := range snapshot.Waiting {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", entry.Rank, entry.Ticket.ID, entry.Ticket.StudentID,
			entry.Ticket.Status, formatMinutes(entry.EstimatedWaitMinutes))
	}
	tw.Flush()
}

func printStatistics(w io.Writer, stats queueschema.Statistics) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "service\t%s\n", stats.ServiceID)
	fmt.Fprintf(tw, "waiting\t%d\n", stats.WaitingCount)
	fmt.Fprintf(tw, "being served\t%d\n", stats.InProgressCount)
	fmt.Fprintf(tw, "estimated wait\t%s (%s confidence)\n", formatMinutes(stats.EstimatedWaitMinutes), stats.Confidence)
	fmt.Fprintf(tw, "average service\t%s\n", formatMinutes(stats.AverageServiceMinutes))
	fmt.Fprintf(tw, "completed today\t%d\n", stats.CompletedToday)
	if !stats.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "updated\t%s\n", stats.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func formatMinutes(minutes float64) string {
	return fmt.Sprintf("%.1f min", minutes)
}
