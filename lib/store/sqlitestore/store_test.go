// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/frontdesk/lib/schema/queue"
	"github.com/bureau-foundation/frontdesk/lib/store"
	"github.com/bureau-foundation/frontdesk/lib/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "frontdesk.db"))
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frontdesk.db")
	ctx := context.Background()

	first := openTestStore(t, path)
	service := queue.Service{ID: "transcripts", Name: "Transcripts", BaseServiceMinutes: 5, Active: true}
	if err := first.PutService(ctx, service); err != nil {
		t.Fatalf("PutService: %v", err)
	}
	if _, err := first.CreateTicket(ctx, store.NewTicket{
		ID: "t1", StudentID: "s1", ServiceID: "transcripts", CreatedAt: storetest.Epoch,
	}); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openTestStore(t, path)
	defer second.Close()
	ticket, err := second.GetActiveTicketFor(ctx, "s1")
	if err != nil {
		t.Fatalf("GetActiveTicketFor after reopen: %v", err)
	}
	if ticket.ID != "t1" || !ticket.CreatedAt.Equal(storetest.Epoch) {
		t.Errorf("ticket after reopen = %+v", ticket)
	}

	_, err = second.CreateTicket(ctx, store.NewTicket{
		ID: "t2", StudentID: "s1", ServiceID: "transcripts", CreatedAt: storetest.Epoch,
	})
	if !errors.Is(err, store.ErrActiveTicketExists) {
		t.Errorf("duplicate after reopen = %v, want ErrActiveTicketExists", err)
	}
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path, PoolSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}
