package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/reviews-etl/internal/api"
	"github.com/stacklok/reviews-etl/internal/bigquery"
	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/httpclient"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
	"github.com/stacklok/reviews-etl/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// pipelineTracerName is the tracer used for per-page ETL spans
	pipelineTracerName = "github.com/stacklok/reviews-etl/etl"
)

// ProvisionFunc ensures the load target exists
type ProvisionFunc func(ctx context.Context, cfg config.BigQueryConfig) error

// ETLAppOptions is a function that configures the ETL app builder
type ETLAppOptions func(*etlAppConfig) error

// etlAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing production defaults.
type etlAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	runner    etl.Runner
	clock     clock.Clock
	provision ProvisionFunc

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...ETLAppOptions) (*etlAppConfig, error) {
	cfg := &etlAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		idleTimeout:    defaultIdleTimeout,
		provision:      bigquery.Provision,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewETLApp builds the orchestrator, the work unit and the HTTP server
func NewETLApp(ctx context.Context, opts ...ETLAppOptions) (*ETLApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.Address()
	}

	if cfg.config.BigQuery.ProvisionOnStart {
		slog.Info("Provisioning BigQuery table before starting the schedule")
		if err := cfg.provision(ctx, cfg.config.BigQuery); err != nil {
			return nil, fmt.Errorf("failed to provision BigQuery table: %w", err)
		}
	}

	components, err := buildETLComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build ETL components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components.Orchestrator)
	if err != nil {
		if components.cleanup != nil {
			components.cleanup()
		}
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &ETLApp{
		config:          cfg.config,
		components:      components,
		httpServer:      httpServer,
		shutdownTimeout: cfg.config.Schedule.GetShutdownTimeout(),
		ctx:             appCtx,
		cancelFunc:      cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configured port
func WithAddress(addr string) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRunner replaces the BigQuery-backed pipeline with runner
func WithRunner(runner etl.Runner) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		if runner == nil {
			return fmt.Errorf("runner cannot be nil")
		}
		cfg.runner = runner
		return nil
	}
}

// WithClock sets the clock driving the schedule
func WithClock(c clock.Clock) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.clock = c
		return nil
	}
}

// WithProvisioner replaces the BigQuery table provisioning used when
// bigquery.provisionOnStart is set
func WithProvisioner(fn ProvisionFunc) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		if fn == nil {
			return fmt.Errorf("provisioner cannot be nil")
		}
		cfg.provision = fn
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and ETL metrics
func WithMeterProvider(mp metric.MeterProvider) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and ETL spans
func WithTracerProvider(tp trace.TracerProvider) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler exposes h on GET /metrics
func WithMetricsHandler(h http.Handler) ETLAppOptions {
	return func(cfg *etlAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildETLComponents builds the work unit and the orchestrator that owns the schedule
func buildETLComponents(ctx context.Context, b *etlAppConfig) (*AppComponents, error) {
	slog.Info("Initializing ETL components")

	components := &AppComponents{Runner: b.runner}
	if components.Runner == nil {
		runner, cleanup, err := buildPipeline(ctx, b)
		if err != nil {
			return nil, err
		}
		components.Runner = runner
		components.cleanup = cleanup
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithInterval(b.config.Schedule.GetInterval()),
		orchestrator.WithConcurrencyPolicy(orchestrator.ConcurrencyPolicy(b.config.Schedule.GetConcurrency())),
		orchestrator.WithTracerProvider(b.tracerProvider),
	}
	if b.clock != nil {
		orchOpts = append(orchOpts, orchestrator.WithClock(b.clock))
	}

	if b.meterProvider != nil {
		etlMetrics, err := telemetry.NewETLMetrics(b.meterProvider)
		if err != nil {
			if components.cleanup != nil {
				components.cleanup()
			}
			return nil, fmt.Errorf("failed to create ETL metrics: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithMetrics(etlMetrics))
		slog.Info("ETL metrics enabled")
	}

	components.Orchestrator = orchestrator.New(components.Runner, orchOpts...)
	slog.Info("ETL components initialized successfully",
		"interval", b.config.Schedule.GetInterval(),
		"concurrency", b.config.Schedule.GetConcurrency())

	return components, nil
}

// buildPipeline wires the HTTP extractor to the BigQuery loader
func buildPipeline(ctx context.Context, b *etlAppConfig) (etl.Runner, func(), error) {
	src := b.config.Source
	if err := src.Validate(); err != nil {
		return nil, nil, err
	}

	client, target, err := bigquery.NewClient(ctx, b.config.BigQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create BigQuery loader: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close BigQuery client", "error", err)
		}
	}

	extractor := etl.NewExtractor(
		httpclient.NewDefaultClient(httpclient.WithTimeout(src.GetTimeout())),
		src.BaseURL,
		src.GetPageSize(),
		src.GetMaxPages(),
		src.RecordsPath,
	)

	var pipelineOpts []etl.PipelineOption
	if b.tracerProvider != nil {
		pipelineOpts = append(pipelineOpts, etl.WithPipelineTracer(b.tracerProvider.Tracer(pipelineTracerName)))
	}

	slog.Info("ETL pipeline configured",
		"source", src.BaseURL,
		"page_size", src.GetPageSize(),
		"table", target.FullID())

	return etl.NewPipeline(extractor, bigquery.NewLoader(client, target), pipelineOpts...), cleanup, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *etlAppConfig,
	orch orchestrator.Orchestrator,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Request timeouts are not applied: a manual run holds its request until the ETL pass completes
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Tracing wraps everything so that spans cover the whole request
	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, b.middlewares...)
	}

	// Added early in the chain to capture all requests
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithTriggerRateLimit(b.config.Trigger.RateLimit),
	}
	router := api.NewServer(orch, serverOpts...)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: b.requestTimeout,
		ReadTimeout:       b.readTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
