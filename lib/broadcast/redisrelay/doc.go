// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redisrelay shares broadcast events between frontdesk
// instances over Redis pub/sub.
//
// Every instance publishes its locally originated events to one Redis
// channel as CBOR envelopes tagged with the instance's origin ID, and
// delivers envelopes from other origins to its own hub. Forward only
// appends to a bounded outbox; a single goroutine ships the outbox to
// Redis, so a slow or unreachable Redis never blocks a queue
// transition. When the outbox is full the oldest envelopes are
// dropped, consistent with the hub's at-most-once delivery.
package redisrelay
