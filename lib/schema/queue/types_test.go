// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"strings"
	"testing"
	"time"
)

func TestServiceCapacity(t *testing.T) {
	if got := (Service{}).Capacity(); got != 1 {
		t.Errorf("zero windows capacity = %d, want 1", got)
	}
	if got := (Service{Windows: 3}).Capacity(); got != 3 {
		t.Errorf("capacity = %d, want 3", got)
	}
}

func TestServiceDisplayNumber(t *testing.T) {
	if got := (Service{Prefix: "T"}).DisplayNumber(7); got != "T-007" {
		t.Errorf("DisplayNumber = %q", got)
	}
	if got := (Service{}).DisplayNumber(42); got != "042" {
		t.Errorf("DisplayNumber without prefix = %q", got)
	}
}

func TestServiceValidate(t *testing.T) {
	valid := Service{ID: "transcripts", Name: "Transcripts", BaseServiceMinutes: 5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Service)
		want   string
	}{
		{"bad id", func(s *Service) { s.ID = "Has Spaces" }, "id"},
		{"empty name", func(s *Service) { s.Name = "" }, "name"},
		{"zero minutes", func(s *Service) { s.BaseServiceMinutes = 0 }, "base_service_minutes"},
		{"negative windows", func(s *Service) { s.Windows = -1 }, "windows"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := valid
			tc.mutate(&service)
			err := service.Validate()
			if err == nil {
				t.Fatal("Validate succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestTicketServiceDuration(t *testing.T) {
	called := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	completed := called.Add(7 * time.Minute)

	ticket := Ticket{CalledAt: &called, CompletedAt: &completed}
	duration, ok := ticket.ServiceDuration()
	if !ok || duration != 7*time.Minute {
		t.Errorf("ServiceDuration = %v, %v", duration, ok)
	}

	if _, ok := (Ticket{CalledAt: &called}).ServiceDuration(); ok {
		t.Error("ServiceDuration reported a value without CompletedAt")
	}

	backwards := Ticket{CalledAt: &completed, CompletedAt: &called}
	if _, ok := backwards.ServiceDuration(); ok {
		t.Error("ServiceDuration accepted a negative duration")
	}
}

func TestSnapshotFreeWindows(t *testing.T) {
	snapshot := Snapshot{Capacity: 2, Serving: []Ticket{{ID: "a"}}}
	if got := snapshot.FreeWindows(); got != 1 {
		t.Errorf("FreeWindows = %d, want 1", got)
	}
	snapshot.Serving = append(snapshot.Serving, Ticket{ID: "b"}, Ticket{ID: "c"})
	if got := snapshot.FreeWindows(); got != 0 {
		t.Errorf("FreeWindows over capacity = %d, want 0", got)
	}
}
