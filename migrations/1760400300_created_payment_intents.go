package migrations

import (
	"github.com/pocketbase/dbx"
)

func init() {
	Register(func(db dbx.Builder) error {
		return execAll(db,
			`CREATE TABLE payment_intents (
				id                     TEXT PRIMARY KEY NOT NULL,
				user_id                TEXT NOT NULL,
				service_type           TEXT NOT NULL,
				service_id             TEXT NOT NULL,
				amount                 INTEGER NOT NULL,
				currency               TEXT NOT NULL,
				reference_code         TEXT NOT NULL UNIQUE,
				description            TEXT NOT NULL DEFAULT '',
				method                 TEXT NOT NULL,
				provider               TEXT NOT NULL DEFAULT '',
				status                 TEXT NOT NULL,
				payer_name             TEXT NOT NULL DEFAULT '',
				payer_last_name        TEXT NOT NULL DEFAULT '',
				payer_email            TEXT NOT NULL DEFAULT '',
				payer_phone            TEXT NOT NULL DEFAULT '',
				payer_address          TEXT NOT NULL DEFAULT '',
				payer_document_type    TEXT NOT NULL DEFAULT '',
				payer_document_number  TEXT NOT NULL DEFAULT '',
				created_at             INTEGER NOT NULL,
				expires_at             INTEGER NULL,
				confirmed_at           INTEGER NULL,
				expired_at             INTEGER NULL,
				gateway_correlation_id TEXT NOT NULL DEFAULT '',
				gateway_payment_id     TEXT NOT NULL DEFAULT '',
				gateway_status         TEXT NOT NULL DEFAULT '',
				gateway_payload        TEXT NOT NULL DEFAULT '',
				updated_at             INTEGER NOT NULL,
				CHECK (status IN ('pending', 'approved', 'rejected', 'failed', 'expired')),
				CHECK (amount > 0)
			)`,
			// at most one pending or approved intent per service item
			`CREATE UNIQUE INDEX idx_payment_intents_live
				ON payment_intents (service_type, service_id)
				WHERE status IN ('pending', 'approved')`,
			`CREATE INDEX idx_payment_intents_expiry ON payment_intents (status, expires_at)`,
			`CREATE INDEX idx_payment_intents_user ON payment_intents (user_id, created_at)`,
			`CREATE TRIGGER trg_payment_intents_reference_immutable
				BEFORE UPDATE OF reference_code ON payment_intents
				WHEN NEW.reference_code <> OLD.reference_code
				BEGIN
					SELECT RAISE(ABORT, 'reference_code is immutable');
				END`,
			`CREATE TRIGGER trg_payment_intents_one_way
				BEFORE UPDATE OF status ON payment_intents
				WHEN OLD.status <> 'pending' AND NEW.status <> OLD.status
				BEGIN
					SELECT RAISE(ABORT, 'terminal payment status');
				END`,
		)
	})
}
