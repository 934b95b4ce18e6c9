package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ETLMetricsMeterName is the name used for the ETL run metrics meter
	ETLMetricsMeterName = "github.com/stacklok/reviews-etl/etl"
)

// RunOutcome describes a finished ETL run for metric recording
type RunOutcome struct {
	Trigger  string
	Duration time.Duration
	Success  bool
	Loaded   int
	Skipped  int
}

// ETLMetrics holds the OpenTelemetry instruments for ETL runs
type ETLMetrics struct {
	runDuration    metric.Float64Histogram
	recordsLoaded  metric.Int64Counter
	recordsSkipped metric.Int64Counter
	runsInFlight   metric.Int64UpDownCounter
}

// NewETLMetrics creates a new ETLMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewETLMetrics(provider metric.MeterProvider) (*ETLMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ETLMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"etl_run_duration_seconds",
		metric.WithDescription("Duration of ETL runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	recordsLoaded, err := meter.Int64Counter(
		"etl_records_loaded_total",
		metric.WithDescription("Number of review rows accepted by the destination"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsSkipped, err := meter.Int64Counter(
		"etl_records_skipped_total",
		metric.WithDescription("Number of source records dropped during transformation"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	runsInFlight, err := meter.Int64UpDownCounter(
		"etl_runs_in_flight",
		metric.WithDescription("Number of ETL runs currently executing"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &ETLMetrics{
		runDuration:    runDuration,
		recordsLoaded:  recordsLoaded,
		recordsSkipped: recordsSkipped,
		runsInFlight:   runsInFlight,
	}, nil
}

// RunStarted marks a run as in flight
func (m *ETLMetrics) RunStarted(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.runsInFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RunFinished records the outcome of a run and clears its in-flight mark
func (m *ETLMetrics) RunFinished(ctx context.Context, outcome RunOutcome) {
	if m == nil {
		return
	}

	trigger := attribute.String("trigger", outcome.Trigger)
	m.runsInFlight.Add(ctx, -1, metric.WithAttributes(trigger))
	m.runDuration.Record(ctx, outcome.Duration.Seconds(),
		metric.WithAttributes(trigger, attribute.Bool("success", outcome.Success)))

	if outcome.Loaded > 0 {
		m.recordsLoaded.Add(ctx, int64(outcome.Loaded), metric.WithAttributes(trigger))
	}
	if outcome.Skipped > 0 {
		m.recordsSkipped.Add(ctx, int64(outcome.Skipped), metric.WithAttributes(trigger))
	}
}
