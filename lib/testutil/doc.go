// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for frontdesk tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used when a test waits on a subscription channel or a
// server readiness signal, so individual tests never call time.After
// themselves. [SocketDir] returns a short directory under /tmp for
// Unix sockets, whose paths are limited to 108 bytes. [UniqueID]
// yields distinct student and ticket identifiers within one test
// binary.
//
// Every helper fails the test with t.Fatalf instead of returning an
// error.
package testutil
