// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets frontdesk code read and wait on time through an
// interface instead of the time package.
//
// Ticket timestamps, wait estimates, the "completed today" boundary,
// and the statistics refresh loop all depend on the current time. Each
// of those takes a [Clock]: production wiring passes [Real], tests pass
// a [FakeClock] from [Fake] and move time forward explicitly with
// [FakeClock.Advance].
//
// Goroutines that wait on a fake clock (After, NewTicker) register a
// pending timer. Tests call [FakeClock.WaitForTimers] before Advance so
// the advance cannot race the registration:
//
//	fake := clock.Fake(time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC))
//	go refresher.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(2 * time.Second)
package clock
