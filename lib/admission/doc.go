// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package admission runs every queue mutation: joining, leaving,
// calling the next student, beginning and completing service, no-shows
// and staff cancellations.
//
// Mutations on one service are serialized by a per-service lock held
// across the read of the current queue, the store write and the
// publication of the resulting events. Different services never wait
// on each other. Join additionally holds a per-student lock, taken
// before the service lock, so one student joining two services at once
// is decided in a single order. The store's compare-and-set update is
// the atomicity boundary: a transition is either committed or not
// applied at all, whatever happens to the caller's context.
//
// Reads ([Controller.Position], [Controller.Snapshot]) take no lock.
// They rebuild the queue from committed store state on every call and
// never cache ranks.
//
// Events are published after the store commit while the service lock
// is still held, so each topic sees events in commit order. Publishing
// never blocks or fails the mutation.
package admission
