package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Start launches the background loop and returns once it is running
func (o *defaultOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
	case StateStopping, StateStopped:
		o.mu.Unlock()
		return ErrStopped
	default:
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = StateStarting
	o.mu.Unlock()

	slog.Info("Starting ETL orchestrator",
		"interval", o.interval,
		"concurrency", o.policy)

	started := make(chan struct{})
	go o.loop(loopCtx, started)
	<-started

	return nil
}

// Stop cancels the loop and waits up to timeout for it to exit
func (o *defaultOrchestrator) Stop(timeout time.Duration) error {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.state = StateStopped
		close(o.done)
		o.mu.Unlock()
		return nil
	case StateStopped:
		o.mu.Unlock()
		return nil
	}
	o.state = StateStopping
	cancel := o.cancel
	o.mu.Unlock()

	slog.Info("Stopping ETL orchestrator", "timeout", timeout)
	cancel()

	timer := o.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.done:
		return nil
	case <-timer.C():
		return ErrStopTimeout
	}
}

// loop runs the work unit, then waits a full interval, forever.
// Cancellation is only observed between runs.
func (o *defaultOrchestrator) loop(ctx context.Context, started chan<- struct{}) {
	defer func() {
		o.mu.Lock()
		o.state = StateStopped
		o.nextRun = nil
		o.mu.Unlock()
		close(o.done)
		slog.Info("ETL orchestrator stopped")
	}()
	close(started)

	for {
		if ctx.Err() != nil || !o.advance(StateInvoking, nil) {
			return
		}

		// The run outlives loop cancellation but keeps ctx values and trace
		o.tick(context.WithoutCancel(ctx))

		next := o.clock.Now().Add(o.interval)
		if ctx.Err() != nil || !o.advance(StateWaiting, &next) {
			return
		}
		slog.Debug("Waiting for next scheduled ETL run", "next_run", next)

		timer := o.clock.NewTimer(o.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// advance moves the loop to state unless a stop has been requested
func (o *defaultOrchestrator) advance(state State, next *time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateStopping || o.state == StateStopped {
		return false
	}
	o.state = state
	o.nextRun = next
	return true
}

// tick performs one scheduled run. Errors are contained here.
func (o *defaultOrchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	o.ticks++
	o.mu.Unlock()

	if _, err := o.execute(ctx, TriggerScheduled); errors.Is(err, ErrInFlight) {
		slog.WarnContext(ctx, "Skipping scheduled ETL run, another run is in progress")
	}
}
