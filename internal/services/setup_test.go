package services

import (
	"context"
	"testing"
	"time"

	"parish-system/internal/services/gateway"
	"parish-system/internal/store"
	"parish-system/internal/testutil"
	"parish-system/models"

	"github.com/stretchr/testify/require"
)

const (
	massDate   = "2025-01-10"
	massTime   = "10:00"
	paymentTTL = 10 * time.Minute
)

type fixture struct {
	st           *store.Store
	clock        *testutil.Clock
	notifier     *testutil.RecordingNotifier
	gw           *testutil.FakeGateway
	sweeper      *Sweeper
	reservations *ReservationService
	payments     *PaymentService
	reconciler   *Reconciler
}

func setupServices(t *testing.T) *fixture {
	t.Helper()

	st := testutil.NewStore(t)
	clock := testutil.NewClock(time.Date(2025, 1, 9, 15, 0, 0, 0, time.UTC))
	notifier := &testutil.RecordingNotifier{}
	gw := testutil.NewFakeGateway(gateway.ProviderEPayco)

	registry := gateway.NewRegistry()
	registry.Register(gw)

	sweeper := NewSweeper(st, nil, notifier, nil, SweeperConfig{BatchSize: 2})
	sweeper.now = clock.Now

	reservations := NewReservationService(st, nil, paymentTTL)
	reservations.now = clock.Now

	payments := NewPaymentService(st, st, sweeper, registry, notifier, nil, PaymentConfig{
		TTL:       paymentTTL,
		MinAmount: 5000,
		Currency:  "COP",
	})
	payments.now = clock.Now

	reconciler := NewReconciler(st, registry, notifier, nil)
	reconciler.now = clock.Now

	_, err := reservations.PublishSchedule(context.Background(), massDate, []string{"08:00", massTime})
	require.NoError(t, err)
	testutil.SeedUser(t, st, "u1")
	testutil.SeedUser(t, st, "u2")

	return &fixture{
		st:           st,
		clock:        clock,
		notifier:     notifier,
		gw:           gw,
		sweeper:      sweeper,
		reservations: reservations,
		payments:     payments,
		reconciler:   reconciler,
	}
}

func (f *fixture) reserve(t *testing.T, userID string) *Reservation {
	t.Helper()
	res, err := f.reservations.Reserve(context.Background(), ReserveParams{
		Date:        massDate,
		Time:        massTime,
		RequesterID: userID,
		Intention:   "For the soul of Jose",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) pay(userID string, serviceType models.ServiceType, serviceID string) (*IntentResult, error) {
	return f.payments.CreateIntent(context.Background(), CreateIntentParams{
		UserID:      userID,
		ServiceType: serviceType,
		ServiceID:   serviceID,
		Amount:      50000,
		Phone:       "(300) 123-4567",
		Address:     "Calle 10 # 20-30, Bogota",
	})
}

func (f *fixture) mustPay(t *testing.T, userID string, serviceType models.ServiceType, serviceID string) *models.PaymentIntent {
	t.Helper()
	res, err := f.pay(userID, serviceType, serviceID)
	require.NoError(t, err)
	return res.Intent
}

func (f *fixture) slot(t *testing.T, id string) *models.Slot {
	t.Helper()
	slot, err := f.st.Conn(context.Background()).GetSlot(id)
	require.NoError(t, err)
	return slot
}

func (f *fixture) booking(t *testing.T, id string) *models.BookingRequest {
	t.Helper()
	b, err := f.st.Conn(context.Background()).GetBooking(id)
	require.NoError(t, err)
	return b
}

func (f *fixture) intent(t *testing.T, reference string) *models.PaymentIntent {
	t.Helper()
	p, err := f.st.Conn(context.Background()).IntentByReference(reference)
	require.NoError(t, err)
	return p
}
