package store_test

import (
	"context"
	"testing"
	"time"

	"parish-system/internal/status"
	"parish-system/internal/store"
	"parish-system/internal/testutil"
	"parish-system/models"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 9, 15, 0, 0, 0, time.UTC)

func setupSlot(t *testing.T) (*store.Store, *store.Conn, string) {
	t.Helper()
	st := testutil.NewStore(t)
	c := st.Conn(context.Background())

	sched, err := c.InsertSchedule("2025-01-10", []string{"08:00", "10:00"}, t0)
	require.NoError(t, err)
	require.Len(t, sched.Slots, 2)
	return st, c, sched.Slots[1].ID
}

func newIntent(serviceID string, expires *time.Time) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:            uuid.NewString(),
		UserID:        "u1",
		ServiceType:   models.ServiceMass,
		ServiceID:     serviceID,
		Amount:        50000,
		Currency:      "COP",
		ReferenceCode: "PAR" + uuid.NewString()[:8],
		Method:        models.MethodGateway,
		Status:        models.PaymentPending,
		CreatedAt:     t0,
		ExpiresAt:     expires,
		UpdatedAt:     t0,
	}
}

func TestInsertSchedule_Duplicate(t *testing.T) {
	_, c, _ := setupSlot(t)

	_, err := c.InsertSchedule("2025-01-10", []string{"12:00"}, t0)
	assert.ErrorIs(t, err, status.ErrScheduleExists)

	_, err = c.InsertSchedule("2025-01-11", []string{"09:00", "09:00"}, t0)
	assert.ErrorIs(t, err, status.ErrScheduleExists)
}

func TestClaimSlot_CompareAndSwap(t *testing.T) {
	_, c, slotID := setupSlot(t)
	until := t0.Add(10 * time.Minute)

	ok, err := c.ClaimSlot(slotID, "booking-a", until, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	// live hold of someone else
	ok, err = c.ClaimSlot(slotID, "booking-b", until, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	// the holder may refresh its own hold
	ok, err = c.ClaimSlot(slotID, "booking-a", until.Add(time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// lapsed hold is up for grabs
	later := until.Add(2 * time.Minute)
	ok, err = c.ClaimSlot(slotID, "booking-b", later.Add(10*time.Minute), later)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale holder's release is a no-op
	ok, err = c.ReleaseSlot(slotID, "booking-a", later)
	require.NoError(t, err)
	assert.False(t, ok)

	slot, err := c.GetSlot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotReserved, slot.Status)
	require.NotNil(t, slot.Holder)
	assert.Equal(t, "booking-b", *slot.Holder)

	ok, err = c.ReleaseSlot(slotID, "booking-b", later)
	require.NoError(t, err)
	assert.True(t, ok)

	slot, err = c.GetSlot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotFree, slot.Status)
	assert.Nil(t, slot.Holder)
	assert.Nil(t, slot.HoldExpiresAt)
}

func TestOccupySlot_RequiresHolder(t *testing.T) {
	_, c, slotID := setupSlot(t)

	_, err := c.ClaimSlot(slotID, "booking-a", t0.Add(time.Minute), t0)
	require.NoError(t, err)

	ok, err := c.OccupySlot(slotID, "booking-b", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.OccupySlot(slotID, "booking-a", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	slot, err := c.GetSlot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotOccupied, slot.Status)
	require.NotNil(t, slot.OccupiedBy)
	assert.Equal(t, "booking-a", *slot.OccupiedBy)

	// occupied slots are never claimable again
	ok, err = c.ClaimAndOccupySlot(slotID, "booking-b", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertIntent_OneLivePerService(t *testing.T) {
	_, c, _ := setupSlot(t)
	expires := t0.Add(10 * time.Minute)

	first := newIntent("booking-a", &expires)
	require.NoError(t, c.InsertIntent(first))

	err := c.InsertIntent(newIntent("booking-a", &expires))
	assert.ErrorIs(t, err, store.ErrLiveIntent)

	clash := newIntent("booking-b", &expires)
	clash.ReferenceCode = first.ReferenceCode
	assert.ErrorIs(t, c.InsertIntent(clash), store.ErrReferenceTaken)

	ok, err := c.ExpireIntent(first.ID, expires.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, c.InsertIntent(newIntent("booking-a", &expires)))
}

func TestLiveIntent_IgnoresLapsedPending(t *testing.T) {
	_, c, _ := setupSlot(t)
	expires := t0.Add(10 * time.Minute)
	intent := newIntent("booking-a", &expires)
	require.NoError(t, c.InsertIntent(intent))

	live, err := c.LiveIntent(models.ServiceMass, "booking-a", t0)
	require.NoError(t, err)
	assert.Equal(t, intent.ReferenceCode, live.ReferenceCode)

	_, err = c.LiveIntent(models.ServiceMass, "booking-a", expires.Add(time.Millisecond))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveIntent_FirstWriterWins(t *testing.T) {
	_, c, _ := setupSlot(t)
	expires := t0.Add(10 * time.Minute)
	intent := newIntent("booking-a", &expires)
	require.NoError(t, c.InsertIntent(intent))

	update := store.GatewayUpdate{PaymentID: "gw-1", Status: "approved", Payload: []byte(`{"id":"gw-1"}`)}
	ok, err := c.ResolveIntent(intent.ID, models.PaymentApproved, update, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ResolveIntent(intent.ID, models.PaymentRejected, update, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ExpireIntent(intent.ID, expires.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentApproved, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, "gw-1", got.GatewayPaymentID)
	assert.JSONEq(t, `{"id":"gw-1"}`, string(got.GatewayPayload))
}

func TestTriggers_GuardTerminalAndReference(t *testing.T) {
	st, c, _ := setupSlot(t)
	intent := newIntent("booking-a", nil)
	intent.Status = models.PaymentRejected
	require.NoError(t, c.InsertIntent(intent))

	_, err := st.DB().NewQuery("UPDATE payment_intents SET status = 'approved' WHERE id = {:id}").
		Bind(dbx.Params{"id": intent.ID}).Execute()
	assert.ErrorContains(t, err, "terminal payment status")

	_, err = st.DB().NewQuery("UPDATE payment_intents SET reference_code = 'OTHER' WHERE id = {:id}").
		Bind(dbx.Params{"id": intent.ID}).Execute()
	assert.ErrorContains(t, err, "reference_code is immutable")
}

func TestReleaseStaleHold(t *testing.T) {
	_, c, slotID := setupSlot(t)
	until := t0.Add(10 * time.Minute)
	after := until.Add(time.Minute)

	_, err := c.ClaimSlot(slotID, "booking-a", until, t0)
	require.NoError(t, err)

	// hold still live
	ok, err := c.ReleaseStaleHold(slotID, "booking-a", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	intent := newIntent("booking-a", &until)
	require.NoError(t, c.InsertIntent(intent))

	stale, err := c.StaleHolds(after, 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "a pending intent keeps the hold for the sweeper")

	ok, err = c.ReleaseStaleHold(slotID, "booking-a", after)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.ExpireIntent(intent.ID, after)
	require.NoError(t, err)

	stale, err = c.StaleHolds(after, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, slotID, stale[0].ID)

	ok, err = c.ReleaseStaleHold(slotID, "booking-a", after)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApprovedIntentKeepsLapsedHold(t *testing.T) {
	_, c, slotID := setupSlot(t)
	until := t0.Add(10 * time.Minute)
	after := until.Add(time.Minute)

	_, err := c.ClaimSlot(slotID, "booking-a", until, t0)
	require.NoError(t, err)
	intent := newIntent("booking-a", &until)
	require.NoError(t, c.InsertIntent(intent))
	ok, err := c.ResolveIntent(intent.ID, models.PaymentApproved, store.GatewayUpdate{Status: "approved"}, t0)
	require.NoError(t, err)
	require.True(t, ok)

	stale, err := c.StaleHolds(after, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	ok, err = c.ReleaseStaleHold(slotID, "booking-a", after)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ClaimSlot(slotID, "booking-b", after.Add(10*time.Minute), after)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ClaimAndOccupySlot(slotID, "booking-b", after)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ClaimAndOccupySlot(slotID, "booking-a", after)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordPayload(t *testing.T) {
	_, c, _ := setupSlot(t)
	intent := newIntent("booking-a", &t0)
	require.NoError(t, c.InsertIntent(intent))
	ok, err := c.ExpireIntent(intent.ID, t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.RecordPayload(intent.ID, []byte(`{"late":true}`), t0.Add(time.Minute)))

	got, err := c.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, got.Status)
	assert.JSONEq(t, `{"late":true}`, string(got.GatewayPayload))
}

func TestTransitionAndRenewBooking(t *testing.T) {
	_, c, slotID := setupSlot(t)
	b := &models.BookingRequest{
		ID:          uuid.NewString(),
		Kind:        models.ServiceMass,
		RequesterID: "u1",
		SlotID:      slotID,
		MassDate:    "2025-01-10",
		MassTime:    "10:00",
		Status:      models.BookingPending,
		Cycle:       1,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
	require.NoError(t, c.InsertBooking(b))

	ok, err := c.RenewBooking(b.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "only expired bookings renew")

	ok, err = c.TransitionBooking(b.ID, []models.BookingStatus{models.BookingPending}, models.BookingExpired, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TransitionBooking(b.ID, []models.BookingStatus{models.BookingPending}, models.BookingExpired, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.RenewBooking(b.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.GetBooking(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, got.Status)
	assert.Equal(t, 2, got.Cycle)
}

func TestTx_RollsBackOnError(t *testing.T) {
	st, _, slotID := setupSlot(t)
	ctx := context.Background()

	err := st.Tx(ctx, func(c *store.Conn) error {
		if _, err := c.ClaimSlot(slotID, "booking-a", t0.Add(time.Minute), t0); err != nil {
			return err
		}
		return status.ErrSlotUnavailable
	})
	assert.ErrorIs(t, err, status.ErrSlotUnavailable)

	slot, err := st.Conn(ctx).GetSlot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotFree, slot.Status)
}

func TestEventsAndStats(t *testing.T) {
	st, c, _ := setupSlot(t)
	ctx := context.Background()

	require.NoError(t, c.InsertEvent(&models.PaymentEvent{
		ID:            uuid.NewString(),
		Provider:      "epayco",
		ReferenceCode: "PAR1",
		GatewayStatus: "1",
		Outcome:       "applied",
		Payload:       []byte(`{"x_ref_payco":"1"}`),
		ReceivedAt:    t0,
	}))
	events, err := c.EventsByReference("PAR1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "applied", events[0].Outcome)

	slots, err := st.CountSlotsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"free": 2}, slots)

	require.NoError(t, c.InsertIntent(newIntent("booking-a", nil)))
	intents, err := st.CountIntentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 1}, intents)
}

func TestGetUser(t *testing.T) {
	st := testutil.NewStore(t)
	u := testutil.SeedUser(t, st, "u1")

	got, err := st.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = st.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
