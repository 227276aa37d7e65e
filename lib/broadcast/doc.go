// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broadcast fans queue events out to live subscribers.
//
// Events are published to topics: one per service ("service:<id>"),
// one per student ("user:<id>"), the staff-wide "admin" topic and the
// public "queue" topic that carries statistics for every service. A
// [Subscription] is a buffered channel registered on exactly one
// topic. Delivery never blocks the publisher: when a subscriber's
// buffer is full the event is dropped and the subscription is flagged
// for resync, telling the consumer to pull a fresh snapshot instead of
// trusting its incremental view. Each subscriber sees a topic's events
// in publish order. There is no replay.
//
// Subscribers are tracked by a [Registry]. [MemoryRegistry] is the
// default; other implementations can share subscriber bookkeeping
// across processes. A [Relay] forwards locally published events to
// other instances, which deliver them to their own subscribers through
// [Hub.Deliver] without forwarding them again.
package broadcast
