// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds frontdesk's single CBOR configuration.
//
// CBOR is the format of everything frontdesk sends between its own
// processes: socket requests and responses, the subscribe stream, and
// events relayed between service instances over Redis. Packages call
// [Marshal]/[Unmarshal] for whole buffers and [NewEncoder]/[NewDecoder]
// for streams instead of configuring fxamacker/cbor themselves, so the
// bytes are identical wherever they are produced.
//
// Encoding is Core Deterministic (RFC 8949 §4.2) with one change:
// timestamps are written as RFC 3339 strings with nanoseconds (tag 0),
// so ticket FIFO ordering survives a round trip. Schema types carry
// `json` tags, which the CBOR library uses when no `cbor` tag is set.
// Wire-only envelopes use `cbor` tags.
package codec
