// Package app provides application lifecycle management for the ETL service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
)

// ETLApp binds the orchestrator lifecycle to the HTTP server lifecycle
type ETLApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// shutdownTimeout bounds the wait for the orchestrator loop on Stop
	shutdownTimeout time.Duration

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the orchestrator, then serves HTTP.
// The orchestrator is running when Start begins listening, so the first
// scheduled run does not wait for the first request.
// This method blocks until the HTTP server stops or encounters an error.
func (app *ETLApp) Start() error {
	if err := app.components.Orchestrator.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start ETL orchestrator: %w", err)
	}

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application. The orchestrator is stopped first,
// within the configured shutdown timeout, so that no scheduled run starts
// while HTTP requests drain; the HTTP server then gets timeout to drain.
// An orchestrator that does not stop in time is reported as a shutdown
// anomaly and does not fail Stop.
func (app *ETLApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	// A run that outlives Stop still uses the runner's resources
	runInFlight := false

	if err := app.components.Orchestrator.Stop(app.shutdownTimeout); err != nil {
		if errors.Is(err, orchestrator.ErrStopTimeout) {
			runInFlight = true
			slog.Warn("Shutdown anomaly: ETL orchestrator did not stop in time, exiting anyway",
				"timeout", app.shutdownTimeout)
		} else {
			slog.Error("Failed to stop ETL orchestrator", "error", err)
		}
	} else {
		slog.Info("ETL orchestrator stopped cleanly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var serverErr error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		// Manual runs may still be executing in their handlers
		runInFlight = true
		serverErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	app.releaseResources(runInFlight)

	if serverErr != nil {
		return serverErr
	}

	slog.Info("Server shutdown complete")
	return nil
}

// releaseResources closes what the runner holds, unless a run is still using it
func (app *ETLApp) releaseResources(runInFlight bool) {
	if app.components.cleanup == nil {
		return
	}
	if runInFlight {
		slog.Warn("An ETL run is still in flight, leaving its resources open until exit")
		return
	}
	app.components.cleanup()
}

// GetConfig returns the application configuration
func (app *ETLApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *ETLApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetOrchestrator returns the orchestrator owned by the app
func (app *ETLApp) GetOrchestrator() orchestrator.Orchestrator {
	return app.components.Orchestrator
}
