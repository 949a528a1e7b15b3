package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"parish-system/models"

	"github.com/pocketbase/dbx"
)

type intentRow struct {
	ID                   string        `db:"id"`
	UserID               string        `db:"user_id"`
	ServiceType          string        `db:"service_type"`
	ServiceID            string        `db:"service_id"`
	Amount               int64         `db:"amount"`
	Currency             string        `db:"currency"`
	ReferenceCode        string        `db:"reference_code"`
	Description          string        `db:"description"`
	Method               string        `db:"method"`
	Provider             string        `db:"provider"`
	Status               string        `db:"status"`
	PayerName            string        `db:"payer_name"`
	PayerLastName        string        `db:"payer_last_name"`
	PayerEmail           string        `db:"payer_email"`
	PayerPhone           string        `db:"payer_phone"`
	PayerAddress         string        `db:"payer_address"`
	PayerDocumentType    string        `db:"payer_document_type"`
	PayerDocumentNumber  string        `db:"payer_document_number"`
	CreatedAt            int64         `db:"created_at"`
	ExpiresAt            sql.NullInt64 `db:"expires_at"`
	ConfirmedAt          sql.NullInt64 `db:"confirmed_at"`
	ExpiredAt            sql.NullInt64 `db:"expired_at"`
	GatewayCorrelationID string        `db:"gateway_correlation_id"`
	GatewayPaymentID     string        `db:"gateway_payment_id"`
	GatewayStatus        string        `db:"gateway_status"`
	GatewayPayload       string        `db:"gateway_payload"`
	UpdatedAt            int64         `db:"updated_at"`
}

func (r *intentRow) model() *models.PaymentIntent {
	p := &models.PaymentIntent{
		ID:            r.ID,
		UserID:        r.UserID,
		ServiceType:   models.ServiceType(r.ServiceType),
		ServiceID:     r.ServiceID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		ReferenceCode: r.ReferenceCode,
		Description:   r.Description,
		Method:        models.PaymentMethod(r.Method),
		Provider:      r.Provider,
		Status:        models.PaymentStatus(r.Status),
		Payer: models.PayerInfo{
			Name:           r.PayerName,
			LastName:       r.PayerLastName,
			Email:          r.PayerEmail,
			Phone:          r.PayerPhone,
			Address:        r.PayerAddress,
			DocumentType:   r.PayerDocumentType,
			DocumentNumber: r.PayerDocumentNumber,
		},
		CreatedAt:            fromMs(r.CreatedAt),
		ExpiresAt:            timePtr(r.ExpiresAt),
		ConfirmedAt:          timePtr(r.ConfirmedAt),
		ExpiredAt:            timePtr(r.ExpiredAt),
		GatewayCorrelationID: r.GatewayCorrelationID,
		GatewayPaymentID:     r.GatewayPaymentID,
		GatewayStatus:        r.GatewayStatus,
		UpdatedAt:            fromMs(r.UpdatedAt),
	}
	if r.GatewayPayload != "" {
		p.GatewayPayload = json.RawMessage(r.GatewayPayload)
	}
	return p
}

const intentColumns = `id, user_id, service_type, service_id, amount, currency, reference_code, description,
	method, provider, status, payer_name, payer_last_name, payer_email, payer_phone, payer_address,
	payer_document_type, payer_document_number, created_at, expires_at, confirmed_at, expired_at,
	gateway_correlation_id, gateway_payment_id, gateway_status, gateway_payload, updated_at`

// GatewayUpdate carries what a gateway reported about an intent.
type GatewayUpdate struct {
	PaymentID string
	Status    string
	Payload   []byte
}

// InsertIntent fails with ErrLiveIntent when the service item already has a
// pending or approved intent and with ErrReferenceTaken on a reference clash.
func (c *Conn) InsertIntent(p *models.PaymentIntent) error {
	err := c.insert("payment_intents", dbx.Params{
		"id":                     p.ID,
		"user_id":                p.UserID,
		"service_type":           string(p.ServiceType),
		"service_id":             p.ServiceID,
		"amount":                 p.Amount,
		"currency":               p.Currency,
		"reference_code":         p.ReferenceCode,
		"description":            p.Description,
		"method":                 string(p.Method),
		"provider":               p.Provider,
		"status":                 string(p.Status),
		"payer_name":             p.Payer.Name,
		"payer_last_name":        p.Payer.LastName,
		"payer_email":            p.Payer.Email,
		"payer_phone":            p.Payer.Phone,
		"payer_address":          p.Payer.Address,
		"payer_document_type":    p.Payer.DocumentType,
		"payer_document_number":  p.Payer.DocumentNumber,
		"created_at":             ms(p.CreatedAt),
		"expires_at":             nullMs(p.ExpiresAt),
		"confirmed_at":           nullMs(p.ConfirmedAt),
		"expired_at":             nullMs(p.ExpiredAt),
		"gateway_correlation_id": p.GatewayCorrelationID,
		"gateway_payment_id":     p.GatewayPaymentID,
		"gateway_status":         p.GatewayStatus,
		"gateway_payload":        string(p.GatewayPayload),
		"updated_at":             ms(p.UpdatedAt),
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err) && strings.Contains(err.Error(), "reference_code"):
		return ErrReferenceTaken
	case isUniqueViolation(err):
		return ErrLiveIntent
	}
	return fmt.Errorf("insertIntent: %w", err)
}

func (c *Conn) getIntent(where string, params dbx.Params) (*models.PaymentIntent, error) {
	var row intentRow
	if err := c.query("SELECT "+intentColumns+" FROM payment_intents WHERE "+where, params).One(&row); err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (c *Conn) listIntents(where string, params dbx.Params) ([]*models.PaymentIntent, error) {
	var rows []intentRow
	if err := c.query("SELECT "+intentColumns+" FROM payment_intents WHERE "+where, params).All(&rows); err != nil {
		return nil, err
	}
	out := make([]*models.PaymentIntent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (c *Conn) GetIntent(id string) (*models.PaymentIntent, error) {
	return c.getIntent("id = {:id}", dbx.Params{"id": id})
}

func (c *Conn) IntentByReference(ref string) (*models.PaymentIntent, error) {
	return c.getIntent("reference_code = {:ref}", dbx.Params{"ref": ref})
}

// LiveIntent returns the approved or unexpired pending intent of a service item.
func (c *Conn) LiveIntent(serviceType models.ServiceType, serviceID string, now time.Time) (*models.PaymentIntent, error) {
	return c.getIntent(`service_type = {:type} AND service_id = {:sid}
		AND (status = 'approved' OR (status = 'pending' AND (expires_at IS NULL OR expires_at >= {:now})))
		LIMIT 1`,
		dbx.Params{"type": string(serviceType), "sid": serviceID, "now": ms(now)},
	)
}

func (c *Conn) IntentsByUser(userID string) ([]*models.PaymentIntent, error) {
	return c.listIntents("user_id = {:uid} ORDER BY created_at DESC", dbx.Params{"uid": userID})
}

func (c *Conn) ExpiredPending(now time.Time, limit int) ([]*models.PaymentIntent, error) {
	return c.listIntents(
		"status = 'pending' AND expires_at IS NOT NULL AND expires_at < {:now} ORDER BY expires_at LIMIT {:limit}",
		dbx.Params{"now": ms(now), "limit": limit},
	)
}

func (c *Conn) ExpiredPendingFor(serviceType models.ServiceType, serviceID string, now time.Time) ([]*models.PaymentIntent, error) {
	return c.listIntents(
		`service_type = {:type} AND service_id = {:sid}
			AND status = 'pending' AND expires_at IS NOT NULL AND expires_at < {:now}`,
		dbx.Params{"type": string(serviceType), "sid": serviceID, "now": ms(now)},
	)
}

// ExpireIntent marks a pending intent expired once its expiry has passed.
func (c *Conn) ExpireIntent(id string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE payment_intents
		SET status = 'expired', expired_at = {:now}, updated_at = {:now}
		WHERE id = {:id} AND status = 'pending' AND expires_at IS NOT NULL AND expires_at < {:now}`,
		dbx.Params{"id": id, "now": ms(now)},
	)
	return n == 1, err
}

// ExpireServiceIntents expires every lapsed pending intent of a service item.
func (c *Conn) ExpireServiceIntents(serviceType models.ServiceType, serviceID string, now time.Time) (int64, error) {
	return c.exec(`UPDATE payment_intents
		SET status = 'expired', expired_at = {:now}, updated_at = {:now}
		WHERE service_type = {:type} AND service_id = {:sid}
			AND status = 'pending' AND expires_at IS NOT NULL AND expires_at < {:now}`,
		dbx.Params{"type": string(serviceType), "sid": serviceID, "now": ms(now)},
	)
}

// ResolveIntent moves a pending intent to a terminal status. Only the first
// caller for a given intent gets true.
func (c *Conn) ResolveIntent(id string, to models.PaymentStatus, g GatewayUpdate, now time.Time) (bool, error) {
	confirmed := sql.NullInt64{}
	if to == models.PaymentApproved {
		confirmed = sql.NullInt64{Int64: ms(now), Valid: true}
	}
	n, err := c.exec(`UPDATE payment_intents
		SET status = {:to}, confirmed_at = {:confirmed},
			gateway_payment_id = {:gpid}, gateway_status = {:gstatus}, gateway_payload = {:payload},
			updated_at = {:now}
		WHERE id = {:id} AND status = 'pending'`,
		dbx.Params{
			"id":        id,
			"to":        string(to),
			"confirmed": confirmed,
			"gpid":      g.PaymentID,
			"gstatus":   g.Status,
			"payload":   string(g.Payload),
			"now":       ms(now),
		},
	)
	return n == 1, err
}

// FailIntent marks a pending intent failed without any gateway data.
func (c *Conn) FailIntent(id string, reason string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE payment_intents
		SET status = 'failed', gateway_status = {:reason}, updated_at = {:now}
		WHERE id = {:id} AND status = 'pending'`,
		dbx.Params{"id": id, "reason": reason, "now": ms(now)},
	)
	return n == 1, err
}

// TouchGateway records an in-progress gateway status on a pending intent.
func (c *Conn) TouchGateway(id string, g GatewayUpdate, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE payment_intents
		SET gateway_payment_id = {:gpid}, gateway_status = {:gstatus}, gateway_payload = {:payload}, updated_at = {:now}
		WHERE id = {:id} AND status = 'pending'`,
		dbx.Params{"id": id, "gpid": g.PaymentID, "gstatus": g.Status, "payload": string(g.Payload), "now": ms(now)},
	)
	return n == 1, err
}

// RecordPayload stores the latest raw gateway payload on an intent in any
// status. Only the audit column changes.
func (c *Conn) RecordPayload(id string, payload []byte, now time.Time) error {
	_, err := c.exec(`UPDATE payment_intents
		SET gateway_payload = {:payload}, updated_at = {:now}
		WHERE id = {:id}`,
		dbx.Params{"id": id, "payload": string(payload), "now": ms(now)},
	)
	return err
}

func (c *Conn) SetCorrelation(id, provider, correlationID string, now time.Time) error {
	_, err := c.exec(`UPDATE payment_intents
		SET provider = {:provider}, gateway_correlation_id = {:cid}, updated_at = {:now}
		WHERE id = {:id}`,
		dbx.Params{"id": id, "provider": provider, "cid": correlationID, "now": ms(now)},
	)
	return err
}

func (c *Conn) CountIntentsByStatus() (map[string]int, error) {
	return c.countBy("SELECT status, COUNT(*) AS total FROM payment_intents GROUP BY status")
}
