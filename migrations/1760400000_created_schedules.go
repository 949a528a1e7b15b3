package migrations

import (
	"github.com/pocketbase/dbx"
)

func init() {
	Register(func(db dbx.Builder) error {
		return execAll(db,
			`CREATE TABLE schedules (
				date       TEXT PRIMARY KEY NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE slots (
				id              TEXT PRIMARY KEY NOT NULL,
				date            TEXT NOT NULL REFERENCES schedules (date),
				time_label      TEXT NOT NULL,
				status          TEXT NOT NULL DEFAULT 'free',
				holder          TEXT NULL,
				hold_expires_at INTEGER NULL,
				occupied_by     TEXT NULL,
				updated_at      INTEGER NOT NULL,
				UNIQUE (date, time_label),
				CHECK (status IN ('free', 'reserved', 'occupied')),
				CHECK (status <> 'reserved' OR (holder IS NOT NULL AND hold_expires_at IS NOT NULL)),
				CHECK (status <> 'free' OR (holder IS NULL AND hold_expires_at IS NULL))
			)`,
			`CREATE INDEX idx_slots_hold ON slots (status, hold_expires_at)`,
		)
	})
}
