// Package system provides the service-level endpoints: root, health, readiness and version.
package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/reviews-etl/internal/api/common"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
	"github.com/stacklok/reviews-etl/internal/versions"
)

// Router creates a router for the service-level endpoints
func Router(orch orchestrator.Orchestrator) http.Handler {
	r := chi.NewRouter()

	r.Get("/", rootHandler)
	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(orch))
	r.Get("/version", versionHandler)

	return r
}

// rootHandler handles GET /
func rootHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, common.MessageResponse{Message: "Hello, World!"}, http.StatusOK)
}

// healthHandler handles GET /health. It reports liveness only and never
// depends on the state of the schedule.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, common.StatusResponse{
		Status:  common.StatusSuccess,
		Message: "Service is running",
	}, http.StatusOK)
}

// readinessHandler handles GET /readiness: ready while the schedule is running
func readinessHandler(orch orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := orch.Status()
		if !status.Running {
			common.WriteJSONResponse(w, common.ReadinessResponse{
				Status: "not ready",
				State:  string(status.State),
			}, http.StatusServiceUnavailable)
			return
		}

		common.WriteJSONResponse(w, common.ReadinessResponse{
			Status: "ready",
			State:  string(status.State),
		}, http.StatusOK)
	}
}

// versionHandler handles GET /version
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
