package store

import (
	"encoding/json"
	"fmt"

	"parish-system/models"

	"github.com/pocketbase/dbx"
)

type eventRow struct {
	ID               string `db:"id"`
	IntentID         string `db:"intent_id"`
	Provider         string `db:"provider"`
	ReferenceCode    string `db:"reference_code"`
	GatewayPaymentID string `db:"gateway_payment_id"`
	GatewayStatus    string `db:"gateway_status"`
	Outcome          string `db:"outcome"`
	Payload          string `db:"payload"`
	ReceivedAt       int64  `db:"received_at"`
}

func (c *Conn) InsertEvent(e *models.PaymentEvent) error {
	err := c.insert("payment_events", dbx.Params{
		"id":                 e.ID,
		"intent_id":          e.IntentID,
		"provider":           e.Provider,
		"reference_code":     e.ReferenceCode,
		"gateway_payment_id": e.GatewayPaymentID,
		"gateway_status":     e.GatewayStatus,
		"outcome":            e.Outcome,
		"payload":            string(e.Payload),
		"received_at":        ms(e.ReceivedAt),
	})
	if err != nil {
		return fmt.Errorf("insertEvent: %w", err)
	}
	return nil
}

func (c *Conn) EventsByReference(ref string) ([]*models.PaymentEvent, error) {
	var rows []eventRow
	err := c.query(
		"SELECT * FROM payment_events WHERE reference_code = {:ref} ORDER BY received_at, id",
		dbx.Params{"ref": ref},
	).All(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PaymentEvent, 0, len(rows))
	for _, r := range rows {
		e := &models.PaymentEvent{
			ID:               r.ID,
			IntentID:         r.IntentID,
			Provider:         r.Provider,
			ReferenceCode:    r.ReferenceCode,
			GatewayPaymentID: r.GatewayPaymentID,
			GatewayStatus:    r.GatewayStatus,
			Outcome:          r.Outcome,
			ReceivedAt:       fromMs(r.ReceivedAt),
		}
		if r.Payload != "" {
			e.Payload = json.RawMessage(r.Payload)
		}
		out = append(out, e)
	}
	return out, nil
}
