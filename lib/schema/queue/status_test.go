// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusWaiting, StatusCalled}:       true,
		{StatusWaiting, StatusCancelled}:    true,
		{StatusCalled, StatusInProgress}:    true,
		{StatusCalled, StatusNoShow}:        true,
		{StatusCalled, StatusCancelled}:     true,
		{StatusInProgress, StatusCompleted}: true,
	}
	all := []Status{StatusWaiting, StatusCalled, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow}

	for _, from := range all {
		for _, to := range all {
			got := CanTransition(from, to)
			if got != allowed[[2]Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		if from.IsActive() {
			t.Errorf("%s should not be active", from)
		}
		if len(transitions[from]) != 0 {
			t.Errorf("%s has outgoing transitions %v", from, transitions[from])
		}
		if StaffMayCancel(from) {
			t.Errorf("staff may cancel terminal status %s", from)
		}
	}
}

func TestStaffMayCancel(t *testing.T) {
	for _, from := range ActiveStatuses() {
		if !StaffMayCancel(from) {
			t.Errorf("staff should be able to cancel %s", from)
		}
	}
	if CanTransition(StatusInProgress, StatusCancelled) {
		t.Error("in_progress → cancelled must be staff-only")
	}
}

func TestOccupiesWindow(t *testing.T) {
	cases := map[Status]bool{
		StatusWaiting:    false,
		StatusCalled:     true,
		StatusInProgress: true,
		StatusCompleted:  false,
		StatusCancelled:  false,
		StatusNoShow:     false,
	}
	for status, want := range cases {
		if got := status.OccupiesWindow(); got != want {
			t.Errorf("%s.OccupiesWindow() = %v, want %v", status, got, want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("in_progress")
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if status != StatusInProgress {
		t.Errorf("status = %s", status)
	}
	if _, err := ParseStatus("IN_PROGRESS"); err == nil {
		t.Error("ParseStatus accepted upper-case status")
	}
}
