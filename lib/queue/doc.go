// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue is the pure part of the frontdesk queue engine: how
// active tickets are ordered, how a snapshot partitions them into
// served and waiting, what a ticket's position is, which window a
// call takes, and which status moves are legal.
//
// Nothing here touches a store, a lock, or a clock. Callers pass the
// active tickets they read and the instant they read them at; the same
// inputs always give the same snapshot. Ranks are never stored
// anywhere: every read derives them again through [Ordering.Snapshot].
//
// Ordering is priority descending, then creation time ascending, then
// ticket ID ascending. With [Ordering.AgingInterval] set, a waiting
// ticket's effective priority grows by one for every full interval it
// has waited, so long waits eventually overtake fresh high-priority
// arrivals.
//
// The package also owns the error taxonomy callers of the admission
// controller see: the Err* sentinels plus [TransitionError],
// [AlreadyQueuedError] and [StoreError], which match the sentinels
// through errors.Is.
package queue
