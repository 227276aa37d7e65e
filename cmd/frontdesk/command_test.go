// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandDispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string
	var verbose bool

	root := &Command{
		Name: "frontdesk",
		Subcommands: []*Command{
			{Name: "status", Run: func(args []string) error { called = "status"; return nil }},
			{
				Name: "join",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
					flagSet.BoolVar(&verbose, "verbose", false, "")
					return flagSet
				},
				Run: func(args []string) error {
					called = "join"
					receivedArgs = args
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"join", "--verbose", "s-1", "registrar"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "join" || !verbose {
		t.Errorf("called = %q verbose = %v, want join with --verbose", called, verbose)
	}
	if strings.Join(receivedArgs, " ") != "s-1 registrar" {
		t.Errorf("args = %v, want [s-1 registrar]", receivedArgs)
	}
}

func TestCommandUnknownSuggestsClosest(t *testing.T) {
	root := &Command{
		Name: "frontdesk",
		Subcommands: []*Command{
			{Name: "call-next", Run: func([]string) error { return nil }},
			{Name: "complete", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"cal-next"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "call-next"`) {
		t.Errorf("error = %v, want a call-next suggestion", err)
	}

	err = root.Execute([]string{"teleport"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestCommandBadFlag(t *testing.T) {
	root := &Command{
		Name: "frontdesk",
		Subcommands: []*Command{{
			Name:  "stats",
			Flags: func() *pflag.FlagSet { return pflag.NewFlagSet("stats", pflag.ContinueOnError) },
			Run:   func([]string) error { return nil },
		}},
	}
	err := root.Execute([]string{"stats", "--fresh"})
	if err == nil || !strings.Contains(err.Error(), "frontdesk stats --help") {
		t.Errorf("error = %v, want a pointer to help", err)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"join", "join", 0},
		{"jion", "join", 2},
		{"leave", "leav", 1},
		{"", "stats", 5},
		{"status", "stats", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
