package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"parish-system/config"
	"parish-system/internal/handlers"
	"parish-system/monitoring"
	"parish-system/security"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the expiration sweeper and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			noSweeper, _ := cmd.Flags().GetBool("no-sweeper")
			return runServe(cmd.Context(), cfg, !noSweeper)
		},
	}

	cmd.Flags().Bool("no-sweeper", false, "do not run the periodic sweep in this instance")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, withSweeper bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	router := handlers.NewRouter(handlers.Dependencies{
		Reservations:     a.reservations,
		Payments:         a.payments,
		Reconciler:       a.reconciler,
		Sweeper:          a.sweeper,
		Auth:             security.NewAuthenticator(cfg.JWTSecret, cfg.OperatorKeyHash),
		Limiter:          security.NewRateLimiter(a.redis),
		Health:           a.healthChecks(),
		Logger:           slog.Default(),
		APIRateLimit:     cfg.APIRateLimit,
		WebhookRateLimit: cfg.WebhookRateLimit,
	})

	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler())
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
		g.Go(func() error {
			a.monitor.Run(ctx, cfg.MetricsInterval)
			return nil
		})
	}

	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if withSweeper {
		g.Go(func() error {
			return a.sweeper.Run(ctx, cfg.SweepSchedule)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down server", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
