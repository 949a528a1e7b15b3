package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"parish-system/models"

	"github.com/pocketbase/dbx"
)

type bookingRow struct {
	ID              string         `db:"id"`
	Kind            string         `db:"kind"`
	RequesterID     string         `db:"requester_id"`
	SlotID          sql.NullString `db:"slot_id"`
	MassDate        string         `db:"mass_date"`
	MassTime        string         `db:"mass_time"`
	Intention       string         `db:"intention"`
	CertificateType string         `db:"certificate_type"`
	Status          string         `db:"status"`
	Cycle           int            `db:"cycle"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

func (r *bookingRow) model() *models.BookingRequest {
	return &models.BookingRequest{
		ID:              r.ID,
		Kind:            models.ServiceType(r.Kind),
		RequesterID:     r.RequesterID,
		SlotID:          r.SlotID.String,
		MassDate:        r.MassDate,
		MassTime:        r.MassTime,
		Intention:       r.Intention,
		CertificateType: models.CertificateType(r.CertificateType),
		Status:          models.BookingStatus(r.Status),
		Cycle:           r.Cycle,
		CreatedAt:       fromMs(r.CreatedAt),
		UpdatedAt:       fromMs(r.UpdatedAt),
	}
}

const bookingColumns = "id, kind, requester_id, slot_id, mass_date, mass_time, intention, certificate_type, status, cycle, created_at, updated_at"

func (c *Conn) InsertBooking(b *models.BookingRequest) error {
	slotID := sql.NullString{String: b.SlotID, Valid: b.SlotID != ""}
	err := c.insert("booking_requests", dbx.Params{
		"id":               b.ID,
		"kind":             string(b.Kind),
		"requester_id":     b.RequesterID,
		"slot_id":          slotID,
		"mass_date":        b.MassDate,
		"mass_time":        b.MassTime,
		"intention":        b.Intention,
		"certificate_type": string(b.CertificateType),
		"status":           string(b.Status),
		"cycle":            b.Cycle,
		"created_at":       ms(b.CreatedAt),
		"updated_at":       ms(b.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("insertBooking: %w", err)
	}
	return nil
}

func (c *Conn) GetBooking(id string) (*models.BookingRequest, error) {
	var row bookingRow
	err := c.query("SELECT "+bookingColumns+" FROM booking_requests WHERE id = {:id}", dbx.Params{"id": id}).One(&row)
	if err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (c *Conn) ListBookingsByRequester(requesterID string) ([]*models.BookingRequest, error) {
	var rows []bookingRow
	err := c.query(
		"SELECT "+bookingColumns+" FROM booking_requests WHERE requester_id = {:rid} ORDER BY created_at DESC",
		dbx.Params{"rid": requesterID},
	).All(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.BookingRequest, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

// TransitionBooking sets status to `to` only if the current status is one of from.
func (c *Conn) TransitionBooking(id string, from []models.BookingStatus, to models.BookingStatus, now time.Time) (bool, error) {
	params := dbx.Params{"id": id, "to": string(to), "now": ms(now)}
	holders := make([]string, 0, len(from))
	for i, s := range from {
		key := fmt.Sprintf("from%d", i)
		params[key] = string(s)
		holders = append(holders, "{:"+key+"}")
	}
	n, err := c.exec(
		"UPDATE booking_requests SET status = {:to}, updated_at = {:now} WHERE id = {:id} AND status IN ("+strings.Join(holders, ", ")+")",
		params,
	)
	return n == 1, err
}

// RenewBooking starts a new payment cycle for an expired request.
func (c *Conn) RenewBooking(id string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE booking_requests
		SET status = 'pending', cycle = cycle + 1, updated_at = {:now}
		WHERE id = {:id} AND status = 'expired'`,
		dbx.Params{"id": id, "now": ms(now)},
	)
	return n == 1, err
}
