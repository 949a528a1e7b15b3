package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"parish-system/internal/status"
	"parish-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationService_Reserve_Success(t *testing.T) {
	f := setupServices(t)

	res := f.reserve(t, "u1")

	assert.False(t, res.Resumed)
	assert.Equal(t, f.clock.Now().Add(paymentTTL), res.HoldExpiresAt)

	slot := f.slot(t, res.SlotID)
	assert.Equal(t, models.SlotReserved, slot.Status)
	require.NotNil(t, slot.Holder)
	assert.Equal(t, res.BookingRequestID, *slot.Holder)

	b := f.booking(t, res.BookingRequestID)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, "u1", b.RequesterID)
	assert.Equal(t, "For the soul of Jose", b.Intention)
	assert.Equal(t, 1, b.Cycle)
}

func TestReservationService_Reserve_Errors(t *testing.T) {
	f := setupServices(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params ReserveParams
		want   error
	}{
		{"unpublished date", ReserveParams{Date: "2025-02-01", Time: massTime, RequesterID: "u1"}, status.ErrScheduleNotFound},
		{"unknown time", ReserveParams{Date: massDate, Time: "23:00", RequesterID: "u1"}, status.ErrSlotUnavailable},
		{"no requester", ReserveParams{Date: massDate, Time: massTime}, status.ErrInvalidBooking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reservations.Reserve(ctx, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReservationService_Reserve_HeldByOther(t *testing.T) {
	f := setupServices(t)
	f.reserve(t, "u1")

	_, err := f.reservations.Reserve(context.Background(), ReserveParams{Date: massDate, Time: massTime, RequesterID: "u2"})
	assert.ErrorIs(t, err, status.ErrSlotUnavailable)
}

func TestReservationService_Reserve_SameRequesterResumes(t *testing.T) {
	f := setupServices(t)
	first := f.reserve(t, "u1")

	f.clock.Advance(time.Minute)
	again := f.reserve(t, "u1")

	assert.True(t, again.Resumed)
	assert.Equal(t, first.BookingRequestID, again.BookingRequestID)
	assert.Equal(t, first.HoldExpiresAt, again.HoldExpiresAt)
}

func TestReservationService_Reserve_ConcurrentSingleWinner(t *testing.T) {
	f := setupServices(t)
	ctx := context.Background()

	const bookers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []*Reservation
		losses int
	)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.reservations.Reserve(ctx, ReserveParams{
				Date:        massDate,
				Time:        massTime,
				RequesterID: fmt.Sprintf("user-%d", i),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, status.ErrSlotUnavailable)
				losses++
				return
			}
			wins = append(wins, res)
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	assert.Equal(t, bookers-1, losses)

	slot := f.slot(t, wins[0].SlotID)
	require.NotNil(t, slot.Holder)
	assert.Equal(t, wins[0].BookingRequestID, *slot.Holder)
}

func TestReservationService_Reserve_TakesOverLapsedHold(t *testing.T) {
	f := setupServices(t)
	first := f.reserve(t, "u1")

	f.clock.Advance(paymentTTL + time.Second)
	second := f.reserve(t, "u2")

	assert.NotEqual(t, first.BookingRequestID, second.BookingRequestID)
	assert.Equal(t, first.SlotID, second.SlotID)
	assert.Equal(t, models.BookingExpired, f.booking(t, first.BookingRequestID).Status)
	assert.Equal(t, models.BookingPending, f.booking(t, second.BookingRequestID).Status)
}

func TestReservationService_Release(t *testing.T) {
	f := setupServices(t)
	ctx := context.Background()
	res := f.reserve(t, "u1")

	ok, err := f.reservations.Release(ctx, res.SlotID, "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.SlotReserved, f.slot(t, res.SlotID).Status)

	ok, err = f.reservations.Release(ctx, res.SlotID, res.BookingRequestID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.SlotFree, f.slot(t, res.SlotID).Status)

	// idempotent
	ok, err = f.reservations.Release(ctx, res.SlotID, res.BookingRequestID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservationService_PublishSchedule(t *testing.T) {
	f := setupServices(t)
	ctx := context.Background()

	_, err := f.reservations.PublishSchedule(ctx, massDate, []string{"12:00"})
	assert.ErrorIs(t, err, status.ErrScheduleExists)

	_, err = f.reservations.PublishSchedule(ctx, "10/01/2025", []string{"12:00"})
	assert.ErrorIs(t, err, status.ErrInvalidBooking)

	_, err = f.reservations.PublishSchedule(ctx, "2025-01-11", []string{" ", ""})
	assert.ErrorIs(t, err, status.ErrInvalidBooking)

	sched, err := f.reservations.PublishSchedule(ctx, "2025-01-11", []string{" 07:00 ", "19:00"})
	require.NoError(t, err)
	assert.Len(t, sched.Slots, 2)

	slots, err := f.reservations.Slots(ctx, "2025-01-11")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	for _, s := range slots {
		assert.Equal(t, models.SlotFree, s.Status)
	}

	_, err = f.reservations.Slots(ctx, "2025-03-01")
	assert.ErrorIs(t, err, status.ErrScheduleNotFound)
}

func TestReservationService_Certificate(t *testing.T) {
	f := setupServices(t)
	ctx := context.Background()

	_, err := f.reservations.RequestCertificate(ctx, "u1", "diploma")
	assert.ErrorIs(t, err, status.ErrInvalidBooking)

	b, err := f.reservations.RequestCertificate(ctx, "u1", models.CertificateBaptism)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Empty(t, b.SlotID)

	_, err = f.reservations.MarkCertificateSent(ctx, b.ID)
	assert.ErrorIs(t, err, status.ErrInvalidBooking, "unpaid certificates cannot be sent")

	_, err = f.reservations.MarkCertificateSent(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrBookingNotFound)

	_, err = f.reservations.Booking(ctx, b.ID, "u2")
	assert.ErrorIs(t, err, status.ErrBookingNotFound)

	got, err := f.reservations.Booking(ctx, b.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.CertificateBaptism, got.CertificateType)
}
