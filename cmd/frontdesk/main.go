// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// frontdesk is the operator CLI for frontdesk-service. Students' kiosks
// and staff consoles use the same socket actions; this tool exposes
// them for operations and debugging.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/frontdesk/lib/service"
	"github.com/bureau-foundation/frontdesk/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&app{ctx: ctx, out: os.Stdout})
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by every command: the connection flags and
// where output goes.
type app struct {
	ctx context.Context
	out io.Writer

	socketPath string
	outputJSON bool
}

// defaultSocketPath is $FRONTDESK_SOCKET, or the service's default
// socket under the user's state directory.
func defaultSocketPath() string {
	if path := os.Getenv("FRONTDESK_SOCKET"); path != "" {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "frontdesk", "frontdesk.sock")
}

// flagSet returns a FlagSet carrying the connection and output flags.
// extra adds command-specific flags.
func (a *app) flagSet(name string, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.StringVar(&a.socketPath, "socket", defaultSocketPath(), "frontdesk service socket (env: FRONTDESK_SOCKET)")
		flagSet.BoolVar(&a.outputJSON, "json", false, "output as JSON")
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

func (a *app) client() *service.Client {
	return service.NewClient(a.socketPath)
}

func newRootCommand(a *app) *Command {
	return &Command{
		Name:    "frontdesk",
		Summary: "Operate student-services queues through frontdesk-service.",
		Subcommands: []*Command{
			statusCommand(a),
			servicesCommand(a),
			joinCommand(a),
			positionCommand(a),
			ticketCommand(a, "leave", "Withdraw a waiting or called ticket"),
			snapshotCommand(a),
			statisticsCommand(a),
			callNextCommand(a),
			ticketCommand(a, "begin", "Start serving a called ticket"),
			completeCommand(a),
			ticketCommand(a, "no-show", "Mark a called ticket as a no-show"),
			ticketCommand(a, "cancel", "Cancel a ticket on a student's behalf"),
			watchCommand(a),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					version.Print(a.out, "frontdesk")
					return nil
				},
			},
		},
	}
}
