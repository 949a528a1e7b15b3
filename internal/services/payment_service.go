package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"parish-system/internal/services/gateway"
	"parish-system/internal/status"
	"parish-system/internal/store"
	"parish-system/models"
	"parish-system/monitoring"
	"parish-system/utils"

	"github.com/google/uuid"
)

const (
	referencePrefix   = "PAR"
	referenceAttempts = 3
	maxAddressLength  = 100
)

// UserDirectory resolves payer profiles. It is read-only here.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type PaymentConfig struct {
	TTL       time.Duration
	MinAmount int64
	Currency  string
}

type PaymentService struct {
	store    *store.Store
	users    UserDirectory
	sweeper  *Sweeper
	gateways *gateway.Registry
	notifier Notifier
	monitor  *monitoring.Monitor
	cfg      PaymentConfig
	now      func() time.Time
}

func NewPaymentService(
	st *store.Store,
	users UserDirectory,
	sweeper *Sweeper,
	gateways *gateway.Registry,
	notifier Notifier,
	monitor *monitoring.Monitor,
	cfg PaymentConfig,
) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentService{
		store:    st,
		users:    users,
		sweeper:  sweeper,
		gateways: gateways,
		notifier: notifier,
		monitor:  monitor,
		cfg:      cfg,
		now:      time.Now,
	}
}

// DuplicateIntentError is returned when the service item already has a
// live intent. Callers should resume Existing instead of retrying.
type DuplicateIntentError struct {
	Existing     *models.PaymentIntent
	RemainingTTL time.Duration
}

func (e *DuplicateIntentError) Error() string {
	return fmt.Sprintf("%v: %s is %s (%s remaining)",
		status.ErrDuplicateIntent, e.Existing.ReferenceCode, e.Existing.Status, e.RemainingTTL.Round(time.Second))
}

func (e *DuplicateIntentError) Unwrap() error {
	return status.ErrDuplicateIntent
}

type CreateIntentParams struct {
	UserID      string
	ServiceType models.ServiceType
	ServiceID   string
	Amount      int64
	Description string
	Phone       string
	Address     string
	Provider    gateway.Provider // empty selects the default gateway
}

type IntentResult struct {
	Intent   *models.PaymentIntent `json:"payment"`
	Checkout *gateway.Checkout     `json:"checkout"`
}

// CreateIntent opens a pending payment for a booking request and starts the
// gateway checkout for it.
func (s *PaymentService) CreateIntent(ctx context.Context, p CreateIntentParams) (*IntentResult, error) {
	res, err := s.createIntent(ctx, p)
	if err != nil {
		s.monitor.TrackIntent(string(p.ServiceType), string(models.MethodGateway), resultLabel(err))
		return nil, err
	}
	s.monitor.TrackIntent(string(p.ServiceType), string(models.MethodGateway), "success")
	return res, nil
}

func (s *PaymentService) createIntent(ctx context.Context, p CreateIntentParams) (*IntentResult, error) {
	if err := s.checkAmount(p.Amount); err != nil {
		return nil, err
	}
	phone, address, err := normalizeContact(p.Phone, p.Address)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Select(p.Provider)
	if err != nil {
		return nil, err
	}

	booking, err := s.prepare(ctx, p.UserID, p.ServiceType, p.ServiceID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: payer profile not found", status.ErrInvalidContact)
	}
	if err != nil {
		return nil, err
	}
	if missing := user.MissingPayerFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: incomplete payer profile: %s", status.ErrInvalidContact, strings.Join(missing, ", "))
	}

	now := s.now()
	expires := now.Add(s.cfg.TTL)
	intent := &models.PaymentIntent{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		ServiceType: p.ServiceType,
		ServiceID:   p.ServiceID,
		Amount:      p.Amount,
		Currency:    s.cfg.Currency,
		Description: describe(booking, p.Description),
		Method:      models.MethodGateway,
		Provider:    string(gw.Provider()),
		Status:      models.PaymentPending,
		Payer: models.PayerInfo{
			Name:           user.Name,
			LastName:       user.LastName,
			Email:          user.Email,
			Phone:          phone,
			Address:        address,
			DocumentType:   user.DocumentType,
			DocumentNumber: user.DocumentNumber,
		},
		CreatedAt: now,
		ExpiresAt: &expires,
		UpdatedAt: now,
	}

	if err := s.insertWithReference(ctx, intent, func(c *store.Conn) error {
		return s.holdForIntent(c, booking.ID, expires, now)
	}); err != nil {
		return nil, err
	}

	checkout, err := gw.CreateCheckout(ctx, &gateway.CheckoutRequest{
		ReferenceCode: intent.ReferenceCode,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Description:   intent.Description,
		Payer:         intent.Payer,
		ServiceType:   intent.ServiceType,
		ServiceID:     intent.ServiceID,
		UserID:        intent.UserID,
		ExpiresAt:     expires,
	})
	if err != nil {
		// free the service item for an immediate retry
		if _, ferr := s.store.Conn(ctx).FailIntent(intent.ID, "checkout_failed", s.now()); ferr != nil {
			slog.Error("Failed to fail intent after checkout error", "reference", intent.ReferenceCode, "error", ferr)
		}
		slog.Error("Gateway checkout failed", "provider", gw.Provider(), "reference", intent.ReferenceCode, "error", err)
		if !errors.Is(err, status.ErrGatewayUnreachable) {
			err = fmt.Errorf("%w: %v", status.ErrGatewayUnreachable, err)
		}
		return nil, err
	}

	if err := s.store.Conn(ctx).SetCorrelation(intent.ID, string(gw.Provider()), checkout.CorrelationID, s.now()); err != nil {
		return nil, fmt.Errorf("createIntent: set correlation: %w", err)
	}
	intent.GatewayCorrelationID = checkout.CorrelationID

	slog.Info("Payment intent created",
		"reference", intent.ReferenceCode,
		"service_type", intent.ServiceType,
		"service_id", intent.ServiceID,
		"amount", intent.Amount,
		"provider", intent.Provider,
		"expires_at", expires,
	)
	return &IntentResult{Intent: intent, Checkout: checkout}, nil
}

type CashPaymentParams struct {
	OperatorID  string
	UserID      string
	ServiceType models.ServiceType
	ServiceID   string
	Amount      int64
	Description string
	Payer       models.PayerInfo
}

// cashAuthorization is stored as the gateway payload of a cash intent.
type cashAuthorization struct {
	Authorization string               `json:"authorization"`
	OperatorID    string               `json:"operator_id"`
	Method        models.PaymentMethod `json:"method"`
}

// CreateCashPayment records a payment collected at the parish office. The
// intent is approved on creation and a mass slot is taken immediately.
func (s *PaymentService) CreateCashPayment(ctx context.Context, p CashPaymentParams) (*models.PaymentIntent, error) {
	intent, err := s.createCashPayment(ctx, p)
	if err != nil {
		s.monitor.TrackIntent(string(p.ServiceType), string(models.MethodCashAdmin), resultLabel(err))
		return nil, err
	}
	s.monitor.TrackIntent(string(p.ServiceType), string(models.MethodCashAdmin), "success")
	return intent, nil
}

func (s *PaymentService) createCashPayment(ctx context.Context, p CashPaymentParams) (*models.PaymentIntent, error) {
	if err := s.checkAmount(p.Amount); err != nil {
		return nil, err
	}

	booking, err := s.prepare(ctx, p.UserID, p.ServiceType, p.ServiceID)
	if err != nil {
		return nil, err
	}

	payer := p.Payer
	if user, err := s.users.GetUser(ctx, p.UserID); err == nil {
		payer = mergePayer(payer, user)
	}

	now := s.now()
	authorization, err := json.Marshal(cashAuthorization{
		Authorization: "ADMIN-" + p.OperatorID,
		OperatorID:    p.OperatorID,
		Method:        models.MethodCashAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("createCashPayment: authorization: %w", err)
	}
	intent := &models.PaymentIntent{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		ServiceType:    p.ServiceType,
		ServiceID:      p.ServiceID,
		Amount:         p.Amount,
		Currency:       s.cfg.Currency,
		Description:    describe(booking, p.Description),
		Method:         models.MethodCashAdmin,
		Status:         models.PaymentApproved,
		Payer:          payer,
		CreatedAt:      now,
		ConfirmedAt:    &now,
		GatewayStatus:  "cash",
		GatewayPayload: authorization,
		UpdatedAt:      now,
	}

	if err := s.insertWithReference(ctx, intent, func(c *store.Conn) error {
		return s.fulfil(c, booking.ID, now)
	}); err != nil {
		return nil, err
	}

	slog.Info("Cash payment recorded",
		"reference", intent.ReferenceCode,
		"operator_id", p.OperatorID,
		"service_type", intent.ServiceType,
		"service_id", intent.ServiceID,
		"amount", intent.Amount,
	)
	s.notifier.Notify(ctx, intent.UserID, EventPaymentApproved, map[string]any{
		"reference_code": intent.ReferenceCode,
		"service_type":   intent.ServiceType,
		"service_id":     intent.ServiceID,
	})
	return intent, nil
}

// prepare runs lazy expiry for the service item and checks that it exists,
// belongs to userID and is still payable.
func (s *PaymentService) prepare(ctx context.Context, userID string, serviceType models.ServiceType, serviceID string) (*models.BookingRequest, error) {
	if !serviceType.Valid() {
		return nil, fmt.Errorf("%w: unknown service type %q", status.ErrServiceNotFound, serviceType)
	}

	if _, err := s.sweeper.SweepOne(ctx, serviceType, serviceID); err != nil {
		return nil, err
	}

	booking, err := s.store.Conn(ctx).GetBooking(serviceID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (booking.RequesterID != userID || booking.Kind != serviceType)) {
		return nil, fmt.Errorf("%w: %s %s", status.ErrServiceNotFound, serviceType, serviceID)
	}
	if err != nil {
		return nil, err
	}
	if booking.Finalized() {
		return nil, fmt.Errorf("%w: %s %s is %s", status.ErrServiceAlreadyFinalized, serviceType, serviceID, booking.Status)
	}
	return booking, nil
}

// insertWithReference assigns a fresh reference code and inserts intent in
// one transaction with the side effects of before. A reference clash is
// retried with a new code.
func (s *PaymentService) insertWithReference(ctx context.Context, intent *models.PaymentIntent, before func(c *store.Conn) error) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		intent.ReferenceCode = utils.ReferenceCode(referencePrefix, intent.CreatedAt)

		err := s.store.Tx(ctx, func(c *store.Conn) error {
			now := intent.CreatedAt
			if _, err := c.ExpireServiceIntents(intent.ServiceType, intent.ServiceID, now); err != nil {
				return err
			}
			if err := s.checkLive(c, intent.ServiceType, intent.ServiceID, now); err != nil {
				return err
			}
			if err := before(c); err != nil {
				return err
			}
			err := c.InsertIntent(intent)
			if errors.Is(err, store.ErrLiveIntent) {
				if derr := s.checkLive(c, intent.ServiceType, intent.ServiceID, now); derr != nil {
					return derr
				}
				return fmt.Errorf("%w: %s %s", status.ErrDuplicateIntent, intent.ServiceType, intent.ServiceID)
			}
			return err
		})
		switch {
		case errors.Is(err, store.ErrReferenceTaken):
			slog.Warn("Reference code collision, retrying", "reference", intent.ReferenceCode)
			continue
		case store.IsContention(err):
			return fmt.Errorf("%w: %s %s contended", status.ErrDuplicateIntent, intent.ServiceType, intent.ServiceID)
		}
		return err
	}
	return fmt.Errorf("insert intent: no free reference after %d attempts", referenceAttempts)
}

func (s *PaymentService) checkLive(c *store.Conn, serviceType models.ServiceType, serviceID string, now time.Time) error {
	live, err := c.LiveIntent(serviceType, serviceID, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &DuplicateIntentError{Existing: live, RemainingTTL: live.RemainingTTL(now)}
}

// holdForIntent re-asserts the slot hold of a mass booking so it lapses
// together with the new intent. An expired booking that gets its slot back
// starts a new cycle.
func (s *PaymentService) holdForIntent(c *store.Conn, bookingID string, until, now time.Time) error {
	booking, err := c.GetBooking(bookingID)
	if err != nil {
		return err
	}
	if booking.Finalized() {
		return fmt.Errorf("%w: %s", status.ErrServiceAlreadyFinalized, bookingID)
	}

	if booking.Kind == models.ServiceMass {
		slot, err := c.GetSlot(booking.SlotID)
		if err != nil {
			return err
		}
		ok, err := c.ClaimSlot(slot.ID, booking.ID, until, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s was taken", status.ErrSlotUnavailable, booking.MassDate, booking.MassTime)
		}
		if err := closePreviousHolder(c, slot, booking.ID, now); err != nil {
			return err
		}
	}

	if booking.Status == models.BookingExpired {
		if _, err := c.RenewBooking(booking.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// fulfil applies a confirmed payment to the booking: a mass slot becomes
// occupied, a certificate waits for the operator to send it.
func (s *PaymentService) fulfil(c *store.Conn, bookingID string, now time.Time) error {
	booking, err := c.GetBooking(bookingID)
	if err != nil {
		return err
	}
	if booking.Finalized() {
		return fmt.Errorf("%w: %s", status.ErrServiceAlreadyFinalized, bookingID)
	}

	payable := []models.BookingStatus{models.BookingPending, models.BookingExpired}
	switch booking.Kind {
	case models.ServiceMass:
		slot, err := c.GetSlot(booking.SlotID)
		if err != nil {
			return err
		}
		ok, err := c.ClaimAndOccupySlot(slot.ID, booking.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s was taken", status.ErrSlotUnavailable, booking.MassDate, booking.MassTime)
		}
		if err := closePreviousHolder(c, slot, booking.ID, now); err != nil {
			return err
		}
		_, err = c.TransitionBooking(booking.ID, payable, models.BookingConfirmed, now)
		return err
	default:
		_, err = c.TransitionBooking(booking.ID, payable, models.BookingAwaitingFulfillment, now)
		return err
	}
}

// closePreviousHolder expires the booking whose lapsed hold was just taken over.
func closePreviousHolder(c *store.Conn, before *models.Slot, newHolder string, now time.Time) error {
	if before.Status != models.SlotReserved || before.Holder == nil || *before.Holder == newHolder {
		return nil
	}
	prev := *before.Holder
	if _, err := c.ExpireServiceIntents(models.ServiceMass, prev, now); err != nil {
		return err
	}
	_, err := c.TransitionBooking(prev, []models.BookingStatus{models.BookingPending}, models.BookingExpired, now)
	return err
}

// Status returns a payment by reference to its owner, expiring it first if
// its TTL has passed.
func (s *PaymentService) Status(ctx context.Context, userID, reference string) (*models.PaymentIntent, error) {
	intent, err := s.store.Conn(ctx).IntentByReference(reference)
	if errors.Is(err, store.ErrNotFound) || (err == nil && intent.UserID != userID) {
		return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, reference)
	}
	if err != nil {
		return nil, err
	}

	if intent.Status == models.PaymentPending && !intent.Live(s.now()) {
		if _, err := s.sweeper.SweepOne(ctx, intent.ServiceType, intent.ServiceID); err != nil {
			return nil, err
		}
		return s.store.Conn(ctx).IntentByReference(reference)
	}
	return intent, nil
}

func (s *PaymentService) History(ctx context.Context, userID string) ([]*models.PaymentIntent, error) {
	return s.store.Conn(ctx).IntentsByUser(userID)
}

func (s *PaymentService) checkAmount(amount int64) error {
	if amount < s.cfg.MinAmount {
		return fmt.Errorf("%w: %d is below the minimum of %d %s", status.ErrInvalidAmount, amount, s.cfg.MinAmount, s.cfg.Currency)
	}
	return nil
}

// normalizeContact keeps the digits of phone and the trimmed address,
// truncated to maxAddressLength.
func normalizeContact(phone, address string) (string, string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) != 10 {
		return "", "", fmt.Errorf("%w: phone must have 10 digits", status.ErrInvalidContact)
	}

	address = strings.TrimSpace(address)
	if len([]rune(address)) < 10 {
		return "", "", fmt.Errorf("%w: address must have at least 10 characters", status.ErrInvalidContact)
	}
	if r := []rune(address); len(r) > maxAddressLength {
		address = string(r[:maxAddressLength])
	}
	return digits, address, nil
}

func mergePayer(p models.PayerInfo, u *models.User) models.PayerInfo {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&p.Name, u.Name)
	fill(&p.LastName, u.LastName)
	fill(&p.Email, u.Email)
	fill(&p.Phone, u.Phone)
	fill(&p.DocumentType, u.DocumentType)
	fill(&p.DocumentNumber, u.DocumentNumber)
	return p
}

func describe(b *models.BookingRequest, description string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	if b.Kind == models.ServiceMass {
		return fmt.Sprintf("Mass intention %s %s", b.MassDate, b.MassTime)
	}
	return fmt.Sprintf("%s certificate", b.CertificateType)
}
