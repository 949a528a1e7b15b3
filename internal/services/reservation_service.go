package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parish-system/internal/status"
	"parish-system/internal/store"
	"parish-system/models"
	"parish-system/monitoring"

	"github.com/google/uuid"
)

type ReservationService struct {
	store      *store.Store
	monitor    *monitoring.Monitor
	holdWindow time.Duration
	now        func() time.Time
}

// NewReservationService holds slots for holdWindow, which should equal the
// payment TTL.
func NewReservationService(st *store.Store, monitor *monitoring.Monitor, holdWindow time.Duration) *ReservationService {
	return &ReservationService{
		store:      st,
		monitor:    monitor,
		holdWindow: holdWindow,
		now:        time.Now,
	}
}

type ReserveParams struct {
	Date        string
	Time        string
	RequesterID string
	Intention   string
}

type Reservation struct {
	BookingRequestID string    `json:"booking_request_id"`
	SlotID           string    `json:"slot_id"`
	HoldExpiresAt    time.Time `json:"hold_expires_at"`
	Resumed          bool      `json:"resumed"`
}

// Reserve creates a mass booking request and holds its slot. A requester
// who already holds the slot through a pending request gets that request
// back.
func (s *ReservationService) Reserve(ctx context.Context, p ReserveParams) (*Reservation, error) {
	if p.RequesterID == "" {
		return nil, fmt.Errorf("%w: requester required", status.ErrInvalidBooking)
	}

	now := s.now()
	until := now.Add(s.holdWindow)

	var res *Reservation
	err := s.store.Tx(ctx, func(c *store.Conn) error {
		exists, err := c.ScheduleExists(p.Date)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", status.ErrScheduleNotFound, p.Date)
		}

		slot, err := c.FindSlot(p.Date, p.Time)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no %s slot on %s", status.ErrSlotUnavailable, p.Time, p.Date)
		}
		if err != nil {
			return err
		}

		if !slot.Available(now) {
			if resumed := s.resume(c, slot, p.RequesterID, now); resumed != nil {
				res = resumed
				return nil
			}
			return fmt.Errorf("%w: %s %s is %s", status.ErrSlotUnavailable, p.Date, p.Time, slot.Status)
		}

		booking := &models.BookingRequest{
			ID:          uuid.NewString(),
			Kind:        models.ServiceMass,
			RequesterID: p.RequesterID,
			SlotID:      slot.ID,
			MassDate:    p.Date,
			MassTime:    p.Time,
			Intention:   strings.TrimSpace(p.Intention),
			Status:      models.BookingPending,
			Cycle:       1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		ok, err := c.ClaimSlot(slot.ID, booking.ID, until, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s", status.ErrSlotUnavailable, p.Date, p.Time)
		}

		if slot.Status == models.SlotReserved && slot.Holder != nil {
			// the previous holder's hold lapsed; close its cycle
			prev := *slot.Holder
			if _, err := c.ExpireServiceIntents(models.ServiceMass, prev, now); err != nil {
				return err
			}
			if _, err := c.TransitionBooking(prev, []models.BookingStatus{models.BookingPending}, models.BookingExpired, now); err != nil {
				return err
			}
		}

		if err := c.InsertBooking(booking); err != nil {
			return err
		}
		res = &Reservation{BookingRequestID: booking.ID, SlotID: slot.ID, HoldExpiresAt: until}
		return nil
	})
	if store.IsContention(err) {
		err = fmt.Errorf("%w: %s %s contended", status.ErrSlotUnavailable, p.Date, p.Time)
	}
	if err != nil {
		s.monitor.TrackReservation(resultLabel(err))
		return nil, err
	}

	s.monitor.TrackReservation("success")
	slog.Info("Slot reserved",
		"booking_id", res.BookingRequestID,
		"slot_id", res.SlotID,
		"requester_id", p.RequesterID,
		"resumed", res.Resumed,
	)
	return res, nil
}

func (s *ReservationService) resume(c *store.Conn, slot *models.Slot, requesterID string, now time.Time) *Reservation {
	if slot.Status != models.SlotReserved || slot.Holder == nil || slot.HoldExpiresAt == nil {
		return nil
	}
	held, err := c.GetBooking(*slot.Holder)
	if err != nil || held.RequesterID != requesterID || held.Status != models.BookingPending {
		return nil
	}
	return &Reservation{
		BookingRequestID: held.ID,
		SlotID:           slot.ID,
		HoldExpiresAt:    *slot.HoldExpiresAt,
		Resumed:          true,
	}
}

// Release frees slotID only while holder still holds it. A stale or
// mismatched holder is a no-op.
func (s *ReservationService) Release(ctx context.Context, slotID, holder string) (bool, error) {
	ok, err := s.store.Conn(ctx).ReleaseSlot(slotID, holder, s.now())
	if err != nil {
		return false, fmt.Errorf("release %s: %w", slotID, err)
	}
	return ok, nil
}

// PublishSchedule makes date bookable with one free slot per time label.
func (s *ReservationService) PublishSchedule(ctx context.Context, date string, times []string) (*models.Schedule, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("%w: date %q", status.ErrInvalidBooking, date)
	}
	labels := make([]string, 0, len(times))
	for _, t := range times {
		if t = strings.TrimSpace(t); t != "" {
			labels = append(labels, t)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: at least one time slot required", status.ErrInvalidBooking)
	}

	var sched *models.Schedule
	err := s.store.Tx(ctx, func(c *store.Conn) error {
		var err error
		sched, err = c.InsertSchedule(date, labels, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Schedule published", "date", date, "slots", len(labels))
	return sched, nil
}

func (s *ReservationService) Slots(ctx context.Context, date string) ([]models.Slot, error) {
	c := s.store.Conn(ctx)
	exists, err := c.ScheduleExists(date)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", status.ErrScheduleNotFound, date)
	}
	return c.ListSlots(date)
}

// RequestCertificate records a certificate request awaiting payment.
func (s *ReservationService) RequestCertificate(ctx context.Context, requesterID string, certType models.CertificateType) (*models.BookingRequest, error) {
	if !certType.Valid() {
		return nil, fmt.Errorf("%w: certificate type %q", status.ErrInvalidBooking, certType)
	}
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester required", status.ErrInvalidBooking)
	}

	now := s.now()
	booking := &models.BookingRequest{
		ID:              uuid.NewString(),
		Kind:            models.ServiceCertificate,
		RequesterID:     requesterID,
		CertificateType: certType,
		Status:          models.BookingPending,
		Cycle:           1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Conn(ctx).InsertBooking(booking); err != nil {
		return nil, err
	}

	slog.Info("Certificate requested", "booking_id", booking.ID, "type", certType, "requester_id", requesterID)
	return booking, nil
}

// MarkCertificateSent records that the document was delivered.
func (s *ReservationService) MarkCertificateSent(ctx context.Context, bookingID string) (*models.BookingRequest, error) {
	c := s.store.Conn(ctx)
	ok, err := c.TransitionBooking(bookingID,
		[]models.BookingStatus{models.BookingAwaitingFulfillment}, models.BookingSent, s.now())
	if err != nil {
		return nil, err
	}

	booking, err := c.GetBooking(bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", status.ErrBookingNotFound, bookingID)
	}
	if err != nil {
		return nil, err
	}
	if !ok && booking.Status != models.BookingSent {
		return nil, fmt.Errorf("%w: %s certificate %s cannot be sent", status.ErrInvalidBooking, booking.Status, bookingID)
	}
	return booking, nil
}

// Booking returns a booking request owned by requesterID.
func (s *ReservationService) Booking(ctx context.Context, bookingID, requesterID string) (*models.BookingRequest, error) {
	booking, err := s.store.Conn(ctx).GetBooking(bookingID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && booking.RequesterID != requesterID) {
		return nil, fmt.Errorf("%w: %s", status.ErrBookingNotFound, bookingID)
	}
	return booking, err
}

// Bookings lists the requester's bookings, newest first.
func (s *ReservationService) Bookings(ctx context.Context, requesterID string) ([]*models.BookingRequest, error) {
	return s.store.Conn(ctx).ListBookingsByRequester(requesterID)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, status.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, status.ErrScheduleNotFound):
		return "schedule_not_found"
	case errors.Is(err, status.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, status.ErrInvalidContact):
		return "invalid_contact"
	case errors.Is(err, status.ErrServiceNotFound):
		return "service_not_found"
	case errors.Is(err, status.ErrServiceAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, status.ErrDuplicateIntent):
		return "duplicate"
	case errors.Is(err, status.ErrGatewayUnreachable):
		return "gateway_unreachable"
	}
	return "error"
}
