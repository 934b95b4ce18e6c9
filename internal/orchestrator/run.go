package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/otel"
	"github.com/stacklok/reviews-etl/internal/telemetry"
)

const singleFlightKey = "etl"

// RunNow executes the work unit once on ctx, outside of the schedule
func (o *defaultOrchestrator) RunNow(ctx context.Context) (*etl.Result, error) {
	return o.execute(ctx, TriggerManual)
}

// execute applies the concurrency policy around invoke
func (o *defaultOrchestrator) execute(ctx context.Context, trigger Trigger) (*etl.Result, error) {
	switch o.policy {
	case PolicySingleFlight:
		// The shared run must not fail because one of its callers went away
		ch := o.flight.DoChan(singleFlightKey, func() (any, error) {
			return o.invoke(context.WithoutCancel(ctx), trigger)
		})
		select {
		case res := <-ch:
			if res.Shared {
				slog.DebugContext(ctx, "Shared result of concurrent ETL run", "trigger", trigger)
			}
			result, _ := res.Val.(*etl.Result)
			return result, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case PolicyReject:
		if !o.claim() {
			return nil, ErrInFlight
		}
		defer o.release()
		return o.invoke(ctx, trigger)

	default:
		return o.invoke(ctx, trigger)
	}
}

// claim reserves the single execution slot used by PolicyReject
func (o *defaultOrchestrator) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.busy = true
	return true
}

func (o *defaultOrchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
}

// invoke runs the work unit once and records the outcome
func (o *defaultOrchestrator) invoke(ctx context.Context, trigger Trigger) (*etl.Result, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: o.clock.Now(),
	}
	logger := slog.With("run_id", run.ID, "trigger", trigger)

	ctx, span := otel.StartSpan(ctx, o.tracer, "etl.run",
		trace.WithAttributes(
			otel.AttrRunID.String(run.ID),
			otel.AttrTrigger.String(string(trigger)),
		),
	)
	defer span.End()

	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()
	o.metrics.RunStarted(ctx, string(trigger))
	logger.InfoContext(ctx, "ETL run started")

	result, err := o.runUnit(ctx)

	run.FinishedAt = o.clock.Now()
	duration := run.FinishedAt.Sub(run.StartedAt)
	run.Result = result
	if err != nil {
		run.Error = err.Error()
	}

	outcome := telemetry.RunOutcome{Trigger: string(trigger), Duration: duration, Success: err == nil}
	if result != nil {
		outcome.Loaded = result.Loaded
		outcome.Skipped = result.Skipped
	}
	o.metrics.RunFinished(ctx, outcome)

	o.mu.Lock()
	o.inFlight--
	o.lastRun = run
	if err != nil {
		o.failures++
	}
	o.mu.Unlock()

	if err != nil {
		otel.RecordError(span, err)
		logger.ErrorContext(ctx, "ETL run failed", "error", err, "duration", duration)
		return nil, err
	}

	if result == nil {
		result = &etl.Result{}
	}
	span.SetAttributes(
		otel.AttrResultCount.Int(result.Loaded),
		otel.AttrSkipped.Int(result.Skipped),
	)
	logger.InfoContext(ctx, "ETL run completed",
		"duration", duration,
		"pages", result.Pages,
		"extracted", result.Extracted,
		"loaded", result.Loaded,
		"skipped", result.Skipped)

	return result, nil
}

// runUnit calls the runner, turning a panic into an error so the loop survives it
func (o *defaultOrchestrator) runUnit(ctx context.Context) (result *etl.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ETL run panicked: %v", r)
		}
	}()
	return o.runner.Run(ctx)
}
