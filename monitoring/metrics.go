package monitoring

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	slotsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parish_slots",
			Help: "Current number of mass slots per status",
		},
		[]string{"status"},
	)

	intentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parish_payment_intents",
			Help: "Current number of payment intents per status",
		},
		[]string{"status"},
	)

	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parish_reservations_total",
			Help: "Slot reservation attempts",
		},
		[]string{"result"},
	)

	intents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parish_intent_operations_total",
			Help: "Payment intent creation attempts",
		},
		[]string{"service_type", "method", "result"},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parish_webhooks_total",
			Help: "Gateway notifications by outcome",
		},
		[]string{"provider", "outcome"},
	)

	reconcileConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parish_reconcile_conflicts_total",
			Help: "Approved payments whose downstream update could not be applied",
		},
		[]string{"service_type", "reason"},
	)

	sweepExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parish_sweep_expired_total",
			Help: "Intents and holds released by the expiration sweeper",
		},
		[]string{"kind"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parish_sweep_duration_seconds",
			Help:    "Duration of sweeper runs",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"mode"},
	)
)

// StatsSource reports row counts per status for the gauges.
type StatsSource interface {
	CountSlotsByStatus(ctx context.Context) (map[string]int, error)
	CountIntentsByStatus(ctx context.Context) (map[string]int, error)
}

// Monitor methods are safe to call on a nil *Monitor.
type Monitor struct {
	stats StatsSource
}

func NewMonitor(stats StatsSource) *Monitor {
	return &Monitor{stats: stats}
}

// Run refreshes the status gauges every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	if counts, err := m.stats.CountSlotsByStatus(ctx); err != nil {
		slog.Warn("Failed to collect slot metrics", "error", err)
	} else {
		slotsByStatus.Reset()
		for status, n := range counts {
			slotsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}

	if counts, err := m.stats.CountIntentsByStatus(ctx); err != nil {
		slog.Warn("Failed to collect intent metrics", "error", err)
	} else {
		intentsByStatus.Reset()
		for status, n := range counts {
			intentsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
}

func (m *Monitor) TrackReservation(result string) {
	if m == nil {
		return
	}
	reservations.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackIntent(serviceType, method, result string) {
	if m == nil {
		return
	}
	intents.WithLabelValues(serviceType, method, result).Inc()
}

func (m *Monitor) TrackWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Monitor) TrackReconcileConflict(serviceType, reason string) {
	if m == nil {
		return
	}
	reconcileConflicts.WithLabelValues(serviceType, reason).Inc()
}

func (m *Monitor) TrackSweep(mode string, intents, holds int, duration time.Duration) {
	if m == nil {
		return
	}
	sweepExpired.WithLabelValues("intent").Add(float64(intents))
	sweepExpired.WithLabelValues("hold").Add(float64(holds))
	sweepDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
