package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stacklok/reviews-etl/internal/app"
	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/telemetry"
)

const (
	// defaultGracefulTimeout bounds the HTTP drain on shutdown
	defaultGracefulTimeout = 30 * time.Second

	// telemetryShutdownTimeout bounds the final flush of traces and metrics
	telemetryShutdownTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ETL service",
		Long: `Start the ETL service: the first ETL run starts immediately, then the service
runs it again a fixed delay after each completion, and serves the manual trigger
on POST /etl/test.

Settings come from an optional YAML file (--config) overlaid by the environment
(BASE_URL, PAGE_SIZE, PROJECT_ID, DATASET_ID, TABLE_ID, PORT, ...). A .env file
in the working directory is loaded first when present.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (defaults to :$PORT)")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	cmd.Flags().String("env-file", "", "Path to a .env file (defaults to ./.env when present)")

	for _, name := range []string{"address", "config", "env-file"} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
		}
	}

	return cmd
}

// loadConfig loads the .env file, then the YAML file overlaid by the environment
func loadConfig(configPath, envFile string) (*config.Config, error) {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	opts := []config.Option{config.WithEnvironment(config.NewEnvironment())}
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if configPath != "" {
		slog.Info("Loaded configuration", "path", configPath)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(viper.GetString("config"), viper.GetString("env-file"))
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry(tel)

	// Outgoing source requests carry the trace context of the run
	otel.SetTracerProvider(tel.TracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	appOpts := []app.ETLAppOptions{
		app.WithConfig(cfg),
		app.WithMeterProvider(tel.MeterProvider()),
		app.WithTracerProvider(tel.TracerProvider()),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	if address := viper.GetString("address"); address != "" {
		appOpts = append(appOpts, app.WithAddress(address))
	}

	etlApp, err := app.NewETLApp(context.WithoutCancel(ctx), appOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ETL application: %w", err)
	}

	return serve(ctx, etlApp, defaultGracefulTimeout)
}

// lifecycle is the part of the ETL application driven by serve
type lifecycle interface {
	Start() error
	Stop(timeout time.Duration) error
}

// serve runs the application until ctx is done or the server fails
func serve(ctx context.Context, etlApp lifecycle, gracefulTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- etlApp.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			// The orchestrator may already be running when the listener fails
			if stopErr := etlApp.Stop(gracefulTimeout); stopErr != nil {
				slog.Error("Failed to stop after startup failure", "error", stopErr)
			}
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	if err := etlApp.Stop(gracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}

