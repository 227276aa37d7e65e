// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pgstore

// Postgres timestamps carry microseconds. Tickets created within the
// same microsecond are still ordered deterministically by ID.
const schema = `
CREATE TABLE IF NOT EXISTS services (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	base_service_minutes DOUBLE PRECISION NOT NULL,
	windows              INTEGER NOT NULL,
	active               BOOLEAN NOT NULL,
	prefix               TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id           TEXT PRIMARY KEY,
	student_id   TEXT NOT NULL,
	service_id   TEXT NOT NULL REFERENCES services (id),
	status       TEXT NOT NULL,
	priority     INTEGER NOT NULL,
	number       INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	called_at    TIMESTAMPTZ,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	window_index INTEGER,
	operator_id  TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS tickets_one_active_per_student
	ON tickets (student_id)
	WHERE status IN ('waiting', 'called', 'in_progress');

CREATE UNIQUE INDEX IF NOT EXISTS tickets_one_ticket_per_window
	ON tickets (service_id, window_index)
	WHERE status IN ('called', 'in_progress');

CREATE INDEX IF NOT EXISTS tickets_service_status
	ON tickets (service_id, status);

CREATE INDEX IF NOT EXISTS tickets_completed
	ON tickets (service_id, completed_at DESC)
	WHERE status = 'completed';

CREATE TABLE IF NOT EXISTS statistics (
	service_id              TEXT PRIMARY KEY,
	waiting_count           INTEGER NOT NULL,
	in_progress_count       INTEGER NOT NULL,
	estimated_wait_minutes  DOUBLE PRECISION NOT NULL,
	average_service_minutes DOUBLE PRECISION NOT NULL,
	completed_today         INTEGER NOT NULL,
	confidence              TEXT NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
`

const (
	activeTicketIndex = "tickets_one_active_per_student"
	windowIndex       = "tickets_one_ticket_per_window"
)

const ticketColumns = `id, student_id, service_id, status, priority, number,
	created_at, called_at, started_at, completed_at, window_index,
	operator_id, notes, updated_at`

const serviceColumns = `id, name, base_service_minutes, windows, active, prefix, updated_at`
