package store

import (
	"database/sql"
	"fmt"
	"time"

	"parish-system/internal/status"
	"parish-system/models"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
)

type slotRow struct {
	ID            string         `db:"id"`
	Date          string         `db:"date"`
	TimeLabel     string         `db:"time_label"`
	Status        string         `db:"status"`
	Holder        sql.NullString `db:"holder"`
	HoldExpiresAt sql.NullInt64  `db:"hold_expires_at"`
	OccupiedBy    sql.NullString `db:"occupied_by"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r *slotRow) model() models.Slot {
	return models.Slot{
		ID:            r.ID,
		Date:          r.Date,
		Time:          r.TimeLabel,
		Status:        models.SlotStatus(r.Status),
		Holder:        strPtr(r.Holder),
		HoldExpiresAt: timePtr(r.HoldExpiresAt),
		OccupiedBy:    strPtr(r.OccupiedBy),
		UpdatedAt:     fromMs(r.UpdatedAt),
	}
}

const slotColumns = "id, date, time_label, status, holder, hold_expires_at, occupied_by, updated_at"

// InsertSchedule publishes date with one free slot per time label.
func (c *Conn) InsertSchedule(date string, times []string, now time.Time) (*models.Schedule, error) {
	err := c.insert("schedules", dbx.Params{"date": date, "created_at": ms(now)})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", status.ErrScheduleExists, date)
	}
	if err != nil {
		return nil, fmt.Errorf("insertSchedule: %w", err)
	}

	sched := &models.Schedule{Date: date, CreatedAt: now.UTC()}
	for _, t := range times {
		slot := models.Slot{
			ID:        uuid.NewString(),
			Date:      date,
			Time:      t,
			Status:    models.SlotFree,
			UpdatedAt: now.UTC(),
		}
		err := c.insert("slots", dbx.Params{
			"id":         slot.ID,
			"date":       date,
			"time_label": t,
			"status":     string(models.SlotFree),
			"updated_at": ms(now),
		})
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate time %s on %s", status.ErrScheduleExists, t, date)
		}
		if err != nil {
			return nil, fmt.Errorf("insertSchedule: slot %s: %w", t, err)
		}
		sched.Slots = append(sched.Slots, slot)
	}
	return sched, nil
}

func (c *Conn) ScheduleExists(date string) (bool, error) {
	var n int
	err := c.query("SELECT COUNT(*) FROM schedules WHERE date = {:date}", dbx.Params{"date": date}).Row(&n)
	return n > 0, err
}

func (c *Conn) ListSlots(date string) ([]models.Slot, error) {
	var rows []slotRow
	err := c.query(
		"SELECT "+slotColumns+" FROM slots WHERE date = {:date} ORDER BY time_label",
		dbx.Params{"date": date},
	).All(&rows)
	if err != nil {
		return nil, err
	}
	slots := make([]models.Slot, 0, len(rows))
	for i := range rows {
		slots = append(slots, rows[i].model())
	}
	return slots, nil
}

func (c *Conn) GetSlot(id string) (*models.Slot, error) {
	var row slotRow
	err := c.query("SELECT "+slotColumns+" FROM slots WHERE id = {:id}", dbx.Params{"id": id}).One(&row)
	if err != nil {
		return nil, notFound(err)
	}
	slot := row.model()
	return &slot, nil
}

func (c *Conn) FindSlot(date, timeLabel string) (*models.Slot, error) {
	var row slotRow
	err := c.query(
		"SELECT "+slotColumns+" FROM slots WHERE date = {:date} AND time_label = {:time}",
		dbx.Params{"date": date, "time": timeLabel},
	).One(&row)
	if err != nil {
		return nil, notFound(err)
	}
	slot := row.model()
	return &slot, nil
}

// reclaimable matches a reserved slot that holder may take: its own hold,
// or a lapsed hold whose booking was never paid.
const reclaimable = `(status = 'reserved' AND (holder = {:holder}
	OR (hold_expires_at < {:now} AND NOT EXISTS (
		SELECT 1 FROM payment_intents p
		WHERE p.service_type = 'mass' AND p.service_id = slots.holder AND p.status = 'approved'
	))))`

// ClaimSlot moves a slot to reserved for holder until the given time. It
// succeeds when the slot is free, already held by holder, or held under an
// expired hold with no approved payment.
func (c *Conn) ClaimSlot(slotID, holder string, until, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE slots
		SET status = 'reserved', holder = {:holder}, hold_expires_at = {:until}, updated_at = {:now}
		WHERE id = {:id} AND (status = 'free' OR `+reclaimable+`)`,
		dbx.Params{"id": slotID, "holder": holder, "until": ms(until), "now": ms(now)},
	)
	return n == 1, err
}

// ClaimAndOccupySlot is ClaimSlot followed by OccupySlot in one statement.
func (c *Conn) ClaimAndOccupySlot(slotID, holder string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE slots
		SET status = 'occupied', occupied_by = {:holder}, holder = NULL, hold_expires_at = NULL, updated_at = {:now}
		WHERE id = {:id} AND (status = 'free' OR `+reclaimable+`)`,
		dbx.Params{"id": slotID, "holder": holder, "now": ms(now)},
	)
	return n == 1, err
}

// ReleaseSlot frees the slot only while holder is still the current holder.
func (c *Conn) ReleaseSlot(slotID, holder string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE slots
		SET status = 'free', holder = NULL, hold_expires_at = NULL, updated_at = {:now}
		WHERE id = {:id} AND status = 'reserved' AND holder = {:holder}`,
		dbx.Params{"id": slotID, "holder": holder, "now": ms(now)},
	)
	return n == 1, err
}

// ReleaseStaleHold frees a lapsed hold whose holder has no pending or
// approved intent, rechecking both conditions at write time.
func (c *Conn) ReleaseStaleHold(slotID, holder string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE slots
		SET status = 'free', holder = NULL, hold_expires_at = NULL, updated_at = {:now}
		WHERE id = {:id} AND status = 'reserved' AND holder = {:holder} AND hold_expires_at < {:now}
			AND NOT EXISTS (
				SELECT 1 FROM payment_intents p
				WHERE p.service_type = 'mass' AND p.service_id = {:holder} AND p.status IN ('pending', 'approved')
			)`,
		dbx.Params{"id": slotID, "holder": holder, "now": ms(now)},
	)
	return n == 1, err
}

// OccupySlot turns holder's reservation into an occupied slot.
func (c *Conn) OccupySlot(slotID, holder string, now time.Time) (bool, error) {
	n, err := c.exec(`UPDATE slots
		SET status = 'occupied', occupied_by = {:holder}, holder = NULL, hold_expires_at = NULL, updated_at = {:now}
		WHERE id = {:id} AND status = 'reserved' AND holder = {:holder}`,
		dbx.Params{"id": slotID, "holder": holder, "now": ms(now)},
	)
	return n == 1, err
}

// StaleHolds lists reserved slots whose hold expired and whose holder has
// no pending or approved intent.
func (c *Conn) StaleHolds(now time.Time, limit int) ([]models.Slot, error) {
	var rows []slotRow
	err := c.query(`SELECT `+slotColumns+` FROM slots
		WHERE status = 'reserved' AND hold_expires_at < {:now}
			AND NOT EXISTS (
				SELECT 1 FROM payment_intents p
				WHERE p.service_type = 'mass' AND p.service_id = slots.holder AND p.status IN ('pending', 'approved')
			)
		ORDER BY hold_expires_at
		LIMIT {:limit}`,
		dbx.Params{"now": ms(now), "limit": limit},
	).All(&rows)
	if err != nil {
		return nil, err
	}
	slots := make([]models.Slot, 0, len(rows))
	for i := range rows {
		slots = append(slots, rows[i].model())
	}
	return slots, nil
}

func (c *Conn) CountSlotsByStatus() (map[string]int, error) {
	return c.countBy("SELECT status, COUNT(*) AS total FROM slots GROUP BY status")
}
