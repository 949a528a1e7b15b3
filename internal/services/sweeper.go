package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"parish-system/internal/store"
	"parish-system/models"
	"parish-system/monitoring"

	"github.com/pocketbase/pocketbase/tools/cron"
)

// Lease guards the periodic sweep across instances.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// LocalLease only excludes overlapping sweeps inside one process.
type LocalLease struct {
	held atomic.Bool
}

func (l *LocalLease) Acquire(context.Context, time.Duration) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *LocalLease) Release(context.Context) error {
	l.held.Store(false)
	return nil
}

type SweeperConfig struct {
	LeaseTTL  time.Duration
	BatchSize int
}

type Sweeper struct {
	store    *store.Store
	lease    Lease
	notifier Notifier
	monitor  *monitoring.Monitor
	cfg      SweeperConfig
	now      func() time.Time
}

func NewSweeper(st *store.Store, lease Lease, notifier Notifier, monitor *monitoring.Monitor, cfg SweeperConfig) *Sweeper {
	if lease == nil {
		lease = &LocalLease{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	return &Sweeper{
		store:    st,
		lease:    lease,
		notifier: notifier,
		monitor:  monitor,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Sweep expires every lapsed pending intent and frees its hold, then frees
// lapsed holds that never got an intent. It returns the number of intents
// expired by this call. When another instance holds the lease it does
// nothing and returns zero.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ok, err := s.lease.Acquire(ctx, s.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	if !ok {
		slog.Debug("Sweep skipped, lease held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to release sweep lease", "error", err)
		}
	}()

	start := time.Now()
	now := s.now()

	expired := 0
	for {
		batch, err := s.store.Conn(ctx).ExpiredPending(now, s.cfg.BatchSize)
		if err != nil {
			return expired, fmt.Errorf("sweep: list expired: %w", err)
		}

		progressed := 0
		for _, intent := range batch {
			ok, err := s.expire(ctx, intent, now)
			if err != nil {
				slog.Error("Failed to expire intent", "reference", intent.ReferenceCode, "error", err)
				continue
			}
			if ok {
				progressed++
			}
		}
		expired += progressed

		if len(batch) < s.cfg.BatchSize || progressed == 0 {
			break
		}
	}

	holds, err := s.releaseStaleHolds(ctx, now)
	if err != nil {
		slog.Error("Failed to release stale holds", "error", err)
	}

	s.monitor.TrackSweep("periodic", expired, holds, time.Since(start))
	if expired > 0 || holds > 0 {
		slog.Info("Sweep finished", "expired_intents", expired, "released_holds", holds)
	}
	return expired, nil
}

// SweepOne expires the lapsed pending intents of a single service item. It
// needs no lease since every update it makes is conditional.
func (s *Sweeper) SweepOne(ctx context.Context, serviceType models.ServiceType, serviceID string) (int, error) {
	start := time.Now()
	now := s.now()

	lapsed, err := s.store.Conn(ctx).ExpiredPendingFor(serviceType, serviceID, now)
	if err != nil {
		return 0, fmt.Errorf("sweepOne: %w", err)
	}

	expired := 0
	for _, intent := range lapsed {
		ok, err := s.expire(ctx, intent, now)
		if err != nil {
			return expired, fmt.Errorf("sweepOne: %w", err)
		}
		if ok {
			expired++
		}
	}

	s.monitor.TrackSweep("on_demand", expired, 0, time.Since(start))
	return expired, nil
}

// expire reports false when the intent was already resolved by someone else.
func (s *Sweeper) expire(ctx context.Context, intent *models.PaymentIntent, now time.Time) (bool, error) {
	var won bool
	err := s.store.Tx(ctx, func(c *store.Conn) error {
		ok, err := c.ExpireIntent(intent.ID, now)
		if err != nil || !ok {
			return err
		}
		won = true

		if intent.ServiceType == models.ServiceMass {
			booking, err := c.GetBooking(intent.ServiceID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if booking != nil && booking.SlotID != "" {
				// a newer cycle may already own the slot
				if _, err := c.ReleaseSlot(booking.SlotID, booking.ID, now); err != nil {
					return err
				}
			}
		}

		_, err = c.TransitionBooking(intent.ServiceID, []models.BookingStatus{models.BookingPending}, models.BookingExpired, now)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("expire %s: %w", intent.ReferenceCode, err)
	}

	if won {
		slog.Info("Payment intent expired",
			"reference", intent.ReferenceCode,
			"service_type", intent.ServiceType,
			"service_id", intent.ServiceID,
		)
		s.notifier.Notify(ctx, intent.UserID, EventPaymentExpired, map[string]any{
			"reference_code": intent.ReferenceCode,
			"service_type":   intent.ServiceType,
			"service_id":     intent.ServiceID,
		})
	}
	return won, nil
}

func (s *Sweeper) releaseStaleHolds(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.Conn(ctx).StaleHolds(now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, slot := range stale {
		if slot.Holder == nil {
			continue
		}
		holder := *slot.Holder
		var ok bool
		err := s.store.Tx(ctx, func(c *store.Conn) error {
			var err error
			ok, err = c.ReleaseStaleHold(slot.ID, holder, now)
			if err != nil || !ok {
				return err
			}
			_, err = c.TransitionBooking(holder, []models.BookingStatus{models.BookingPending}, models.BookingExpired, now)
			return err
		})
		if err != nil {
			slog.Error("Failed to release stale hold", "slot_id", slot.ID, "holder", holder, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}

// Run sweeps on the cron schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	err := c.Add("sweep-expired-payments", schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", schedule, err)
	}

	slog.Info("Expiration sweeper started", "schedule", schedule)
	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("Initial sweep failed", "error", err)
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
	return nil
}
