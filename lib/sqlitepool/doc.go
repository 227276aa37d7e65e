// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// frontdesk SQLite ticket store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=NORMAL: commits survive a process crash.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - foreign_keys=ON: tickets reference services.
//   - temp_store=MEMORY.
//
// Schema is applied once, on a single connection, when the pool opens.
// Callers then either Take/Put connections directly or use [Pool.Write]
// and [Pool.Read], which scope a connection to a callback and, for
// writes, wrap it in an IMMEDIATE transaction:
//
//	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "UPDATE tickets SET ...", &sqlitex.ExecOptions{...})
//	})
//
// There is no query builder. Stores write SQL and use sqlitex.Execute
// for cached statements.
package sqlitepool
