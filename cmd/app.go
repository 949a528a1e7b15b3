package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"parish-system/config"
	"parish-system/internal/handlers"
	"parish-system/internal/services"
	"parish-system/internal/services/gateway"
	"parish-system/internal/services/gateway/epayco"
	"parish-system/internal/services/gateway/mercadopago"
	"parish-system/internal/store"
	"parish-system/monitoring"
	"parish-system/utils"

	"github.com/redis/go-redis/v9"
)

const sweepLeaseKey = "lock:sweeper"

// app holds the wired services shared by the serve and sweep commands.
type app struct {
	cfg          *config.Config
	store        *store.Store
	redis        *redis.Client
	monitor      *monitoring.Monitor
	gateways     *gateway.Registry
	sweeper      *services.Sweeper
	reservations *services.ReservationService
	payments     *services.PaymentService
	reconciler   *services.Reconciler
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	applied, err := st.Migrate()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("Applied migrations", "migrations", applied)
	}
	return st, nil
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		st.Close()
		return nil, err
	}

	token, err := utils.GenerateCode(16)
	if err != nil {
		st.Close()
		redisClient.Close()
		return nil, err
	}

	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		notifier = services.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, cfg.PubNubUserID)
	}

	gateways := newGateways(cfg)
	monitor := monitoring.NewMonitor(st)
	sweeper := services.NewSweeper(st, utils.NewRedisLease(redisClient, sweepLeaseKey, token), notifier, monitor, services.SweeperConfig{
		LeaseTTL:  cfg.SweepLeaseTTL,
		BatchSize: cfg.SweepBatchSize,
	})

	return &app{
		cfg:          cfg,
		store:        st,
		redis:        redisClient,
		monitor:      monitor,
		gateways:     gateways,
		sweeper:      sweeper,
		reservations: services.NewReservationService(st, monitor, cfg.PaymentTimeout),
		payments: services.NewPaymentService(st, st, sweeper, gateways, notifier, monitor, services.PaymentConfig{
			TTL:       cfg.PaymentTimeout,
			MinAmount: cfg.PaymentMinAmount,
			Currency:  cfg.PaymentCurrency,
		}),
		reconciler: services.NewReconciler(st, gateways, notifier, monitor),
	}, nil
}

// newGateways registers every gateway that has credentials.
func newGateways(cfg *config.Config) *gateway.Registry {
	registry := gateway.NewRegistry()
	webhookURL := cfg.PublicURL + "/api/v1/payments/webhooks/"

	if cfg.EPaycoPublicKey != "" {
		registry.Register(epayco.New(epayco.Config{
			PublicKey:       cfg.EPaycoPublicKey,
			PKey:            cfg.EPaycoPKey,
			CustomerID:      cfg.EPaycoCustomerID,
			Test:            cfg.EPaycoTest,
			ResponseURL:     cfg.FrontendURL + "/payments/result",
			ConfirmationURL: webhookURL + string(gateway.ProviderEPayco),
		}))
	}
	if cfg.MercadoPagoAccessToken != "" {
		registry.Register(mercadopago.New(mercadopago.Config{
			AccessToken:     cfg.MercadoPagoAccessToken,
			WebhookSecret:   cfg.MercadoPagoWebhookSecret,
			BaseURL:         cfg.MercadoPagoBaseURL,
			NotificationURL: webhookURL + string(gateway.ProviderMercadoPago),
			SuccessURL:      cfg.FrontendURL + "/payments/success",
			FailureURL:      cfg.FrontendURL + "/payments/failure",
			PendingURL:      cfg.FrontendURL + "/payments/pending",
			Timeout:         cfg.GatewayTimeout,
		}))
	}

	if len(registry.Providers()) == 0 {
		slog.Warn("No payment gateway configured, only cash payments are possible")
		return registry
	}
	if err := registry.SetPrimary(gateway.Provider(cfg.DefaultGateway)); err != nil {
		slog.Warn("Default gateway not configured, using first registered", "gateway", cfg.DefaultGateway, "error", err)
	}
	slog.Info("Payment gateways ready", "providers", registry.Providers())
	return registry
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		slog.Warn("Failed to close Redis", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}

func (a *app) healthChecks() map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"redis": func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, a.redis)
		},
		"database": a.store.Ping,
	}
}
