// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue defines the frontdesk data model: services, tickets,
// the ticket status machine, derived queue snapshots, positions, and
// per-service statistics.
//
// These are plain values. Stores persist Service and Ticket; the queue
// engine derives Snapshot and Position from them; the broadcast hub
// carries all of them in events. Types use `json` struct tags, which
// the CBOR codec also honours, so the same definitions serve the
// socket protocol, the Redis relay, and any JSON tooling.
//
// # Status machine
//
//	waiting ──► called ──► in_progress ──► completed
//	   │          │  └──► no_show
//	   └──────────┴──► cancelled
//
// in_progress may also be cancelled, but only by staff (see
// [StaffMayCancel]). completed, cancelled and no_show are terminal.
// Status only moves forward: [CanTransition] is the single source of
// truth for which moves exist.
//
// This package depends on no other frontdesk packages.
package queue
