package migrations

import (
	"github.com/pocketbase/dbx"
)

func init() {
	Register(func(db dbx.Builder) error {
		return execAll(db,
			`CREATE TABLE payment_events (
				id                 TEXT PRIMARY KEY NOT NULL,
				intent_id          TEXT NOT NULL DEFAULT '',
				provider           TEXT NOT NULL,
				reference_code     TEXT NOT NULL DEFAULT '',
				gateway_payment_id TEXT NOT NULL DEFAULT '',
				gateway_status     TEXT NOT NULL DEFAULT '',
				outcome            TEXT NOT NULL,
				payload            TEXT NOT NULL DEFAULT '',
				received_at        INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_payment_events_intent ON payment_events (intent_id, received_at)`,
		)
	})
}
