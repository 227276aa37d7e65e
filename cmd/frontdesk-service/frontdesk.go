// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/admission"
	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/broadcast/redisrelay"
	"github.com/bureau-foundation/frontdesk/lib/clock"
	"github.com/bureau-foundation/frontdesk/lib/store"
)

// FrontDesk holds the running service's components and serves the
// socket actions.
type FrontDesk struct {
	controller *admission.Controller
	store      store.Store
	hub        *broadcast.Hub

	// relay is nil when cross-instance fan-out is not configured.
	relay *redisrelay.Relay

	clock     clock.Clock
	startedAt time.Time

	// requestTimeout bounds each unary action. Zero means no bound.
	requestTimeout time.Duration

	// heartbeat is the idle interval between heartbeat frames on a
	// subscribe stream.
	heartbeat time.Duration

	// buffer is the per-subscriber event buffer.
	buffer int

	logger *slog.Logger
}
