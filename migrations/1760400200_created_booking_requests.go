package migrations

import (
	"github.com/pocketbase/dbx"
)

func init() {
	Register(func(db dbx.Builder) error {
		return execAll(db,
			`CREATE TABLE booking_requests (
				id               TEXT PRIMARY KEY NOT NULL,
				kind             TEXT NOT NULL,
				requester_id     TEXT NOT NULL,
				slot_id          TEXT NULL REFERENCES slots (id),
				mass_date        TEXT NOT NULL DEFAULT '',
				mass_time        TEXT NOT NULL DEFAULT '',
				intention        TEXT NOT NULL DEFAULT '',
				certificate_type TEXT NOT NULL DEFAULT '',
				status           TEXT NOT NULL,
				cycle            INTEGER NOT NULL DEFAULT 1,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL,
				CHECK (kind IN ('mass', 'certificate')),
				CHECK (kind <> 'mass' OR slot_id IS NOT NULL)
			)`,
			`CREATE INDEX idx_booking_requests_requester ON booking_requests (requester_id)`,
		)
	})
}
