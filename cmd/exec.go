package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"parish-system/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

// Start runs the parish CLI until it finishes or receives SIGINT/SIGTERM.
func Start() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env", "error", err)
	}

	cfg := config.LoadConfig()
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "parish",
		Short:         "Parish bookings and payments service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(cfg))
	rootCmd.AddCommand(migrateCmd(cfg))
	rootCmd.AddCommand(sweepCmd(cfg))
	rootCmd.AddCommand(hashKeyCmd())

	return rootCmd.ExecuteContext(ctx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
