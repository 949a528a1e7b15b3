package migrations

import (
	"github.com/pocketbase/dbx"
)

func init() {
	Register(func(db dbx.Builder) error {
		return execAll(db,
			`CREATE TABLE users (
				id              TEXT PRIMARY KEY NOT NULL,
				name            TEXT NOT NULL DEFAULT '',
				last_name       TEXT NOT NULL DEFAULT '',
				email           TEXT NOT NULL DEFAULT '',
				phone           TEXT NOT NULL DEFAULT '',
				document_type   TEXT NOT NULL DEFAULT '',
				document_number TEXT NOT NULL DEFAULT ''
			)`,
		)
	})
}
