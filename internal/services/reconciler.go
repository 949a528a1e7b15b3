package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parish-system/internal/services/gateway"
	"parish-system/internal/status"
	"parish-system/internal/store"
	"parish-system/models"
	"parish-system/monitoring"

	"github.com/google/uuid"
)

// Outcome describes what a webhook delivery did. It is recorded on the
// audit event and as a metric label.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeStillPending     Outcome = "still_pending"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeLateApproval     Outcome = "late_approval"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeUnverified       Outcome = "unverified"
	OutcomeIgnored          Outcome = "ignored"
)

// Reconciler applies gateway notifications to payment intents. Deliveries
// may repeat or arrive in any order; only the first terminal status sticks.
type Reconciler struct {
	store    *store.Store
	gateways *gateway.Registry
	notifier Notifier
	monitor  *monitoring.Monitor
	now      func() time.Time
}

func NewReconciler(st *store.Store, gateways *gateway.Registry, notifier Notifier, monitor *monitoring.Monitor) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Reconciler{
		store:    st,
		gateways: gateways,
		notifier: notifier,
		monitor:  monitor,
		now:      time.Now,
	}
}

// HandleWebhook verifies and applies one delivery. It never fails: the
// caller always acknowledges the gateway, and problems end up in the log,
// the audit table and the metrics.
func (r *Reconciler) HandleWebhook(ctx context.Context, provider gateway.Provider, req *gateway.WebhookRequest) Outcome {
	outcome := r.handle(ctx, provider, req)
	r.monitor.TrackWebhook(string(provider), string(outcome))
	return outcome
}

func (r *Reconciler) handle(ctx context.Context, provider gateway.Provider, req *gateway.WebhookRequest) Outcome {
	gw, err := r.gateways.Get(provider)
	if err != nil {
		slog.Warn("Webhook for unknown provider", "provider", provider)
		return OutcomeIgnored
	}

	n, err := gw.Resolve(ctx, req)
	switch {
	case errors.Is(err, status.ErrIgnoredEvent):
		slog.Debug("Webhook ignored", "provider", provider, "reason", err)
		return OutcomeIgnored
	case err != nil:
		slog.Warn("Webhook could not be verified", "provider", provider, "error", err)
		return OutcomeUnverified
	}

	outcome, err := r.Apply(ctx, n)
	if err != nil {
		slog.Error("Failed to apply webhook",
			"provider", provider,
			"reference", n.ReferenceCode,
			"gateway_payment_id", n.GatewayPaymentID,
			"error", err,
		)
	}
	return outcome
}

// Apply records a verified notification and, when the intent is still
// pending, moves it to the reported status. The error is only for logging;
// the outcome is meaningful either way.
func (r *Reconciler) Apply(ctx context.Context, n *gateway.Notification) (Outcome, error) {
	now := r.now()
	event := &models.PaymentEvent{
		ID:               uuid.NewString(),
		Provider:         string(n.Provider),
		ReferenceCode:    n.ReferenceCode,
		GatewayPaymentID: n.GatewayPaymentID,
		GatewayStatus:    n.GatewayStatus,
		Payload:          n.Raw,
		ReceivedAt:       now,
	}

	var (
		intent  *models.PaymentIntent
		outcome Outcome
	)
	err := r.store.Tx(ctx, func(c *store.Conn) error {
		var err error
		intent, err = c.IntentByReference(n.ReferenceCode)
		if errors.Is(err, store.ErrNotFound) {
			outcome = OutcomeUnknownReference
			event.Outcome = string(outcome)
			return c.InsertEvent(event)
		}
		if err != nil {
			return err
		}

		event.IntentID = intent.ID
		outcome, err = r.transition(c, intent, n, now)
		if err != nil {
			return err
		}
		if outcome != OutcomeApplied && outcome != OutcomeStillPending {
			if err := c.RecordPayload(intent.ID, n.Raw, now); err != nil {
				return err
			}
		}
		event.Outcome = string(outcome)
		return c.InsertEvent(event)
	})
	if err != nil {
		return OutcomeUnverified, fmt.Errorf("apply %s: %w", n.ReferenceCode, err)
	}

	switch outcome {
	case OutcomeApplied:
		slog.Info("Payment reconciled",
			"reference", intent.ReferenceCode,
			"status", n.Status,
			"provider", n.Provider,
			"gateway_payment_id", n.GatewayPaymentID,
		)
		if n.Status == models.PaymentApproved {
			r.fulfil(ctx, intent, now)
		}
		r.notify(ctx, intent, n.Status)
	case OutcomeLateApproval:
		slog.Warn("Approval arrived after expiry",
			"reference", intent.ReferenceCode,
			"gateway_payment_id", n.GatewayPaymentID,
			"expired_at", intent.ExpiredAt,
		)
		r.monitor.TrackReconcileConflict(string(intent.ServiceType), "late_approval")
	case OutcomeAmountMismatch:
		slog.Warn("Gateway amount does not match intent",
			"reference", intent.ReferenceCode,
			"expected", intent.Amount,
			"reported", n.Amount,
			"currency", n.Currency,
		)
	case OutcomeUnknownReference:
		slog.Warn("Webhook for unknown reference", "reference", n.ReferenceCode, "provider", n.Provider)
	}
	return outcome, nil
}

func (r *Reconciler) transition(c *store.Conn, intent *models.PaymentIntent, n *gateway.Notification, now time.Time) (Outcome, error) {
	if intent.Status.Terminal() {
		if intent.Status == models.PaymentExpired && n.Status == models.PaymentApproved {
			return OutcomeLateApproval, nil
		}
		return OutcomeDuplicate, nil
	}

	if n.Amount != 0 && n.Amount != intent.Amount {
		return OutcomeAmountMismatch, nil
	}
	if n.Currency != "" && !strings.EqualFold(n.Currency, intent.Currency) {
		return OutcomeAmountMismatch, nil
	}

	update := store.GatewayUpdate{
		PaymentID: n.GatewayPaymentID,
		Status:    n.GatewayStatus,
		Payload:   n.Raw,
	}
	if n.Status == models.PaymentPending {
		if _, err := c.TouchGateway(intent.ID, update, now); err != nil {
			return "", err
		}
		return OutcomeStillPending, nil
	}

	ok, err := c.ResolveIntent(intent.ID, n.Status, update, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeDuplicate, nil
	}
	intent.Status = n.Status
	return OutcomeApplied, nil
}

// fulfil moves the service item of an approved intent forward. The intent
// is already committed; a failure here is reported and left for an
// operator.
func (r *Reconciler) fulfil(ctx context.Context, intent *models.PaymentIntent, now time.Time) {
	var reason string
	err := r.store.Tx(ctx, func(c *store.Conn) error {
		booking, err := c.GetBooking(intent.ServiceID)
		if errors.Is(err, store.ErrNotFound) {
			reason = "booking_missing"
			return nil
		}
		if err != nil {
			return err
		}

		payable := []models.BookingStatus{models.BookingPending, models.BookingExpired}
		target := models.BookingAwaitingFulfillment
		if booking.Kind == models.ServiceMass {
			target = models.BookingConfirmed

			ok, err := c.OccupySlot(booking.SlotID, booking.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				// the hold was released before this ran; take the slot back if nobody else has it
				ok, err = c.ClaimAndOccupySlot(booking.SlotID, booking.ID, now)
				if err != nil {
					return err
				}
			}
			if !ok {
				slot, err := c.GetSlot(booking.SlotID)
				if err != nil {
					return err
				}
				if slot.OccupiedBy == nil || *slot.OccupiedBy != booking.ID {
					reason = "slot_lost"
					return nil
				}
			}
		}

		ok, err := c.TransitionBooking(booking.ID, payable, target, now)
		if err != nil {
			return err
		}
		if !ok && booking.Status != target {
			reason = "booking_state"
		}
		return nil
	})
	if err != nil {
		reason = "error"
	}
	if reason == "" {
		return
	}

	r.monitor.TrackReconcileConflict(string(intent.ServiceType), reason)
	slog.Error("Approved payment could not be fulfilled",
		"reference", intent.ReferenceCode,
		"service_type", intent.ServiceType,
		"service_id", intent.ServiceID,
		"reason", reason,
		"error", err,
	)
}

func (r *Reconciler) notify(ctx context.Context, intent *models.PaymentIntent, st models.PaymentStatus) {
	event := EventPaymentFailed
	switch st {
	case models.PaymentApproved:
		event = EventPaymentApproved
	case models.PaymentRejected:
		event = EventPaymentRejected
	}
	r.notifier.Notify(ctx, intent.UserID, event, map[string]any{
		"reference_code": intent.ReferenceCode,
		"service_type":   intent.ServiceType,
		"service_id":     intent.ServiceID,
		"status":         st,
	})
}
