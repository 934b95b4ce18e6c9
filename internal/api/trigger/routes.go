// Package trigger provides the ETL endpoints: the manual trigger and the schedule status.
package trigger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/stacklok/reviews-etl/internal/api/common"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
)

// Option configures the ETL routes
type Option func(*Routes)

// WithRateLimit allows at most perMinute manual runs per minute, with a burst of one.
// Zero or a negative value disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(rt *Routes) {
		if perMinute <= 0 {
			rt.limiter = nil
			return
		}
		rt.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// Routes holds the handlers of the ETL endpoints
type Routes struct {
	orch    orchestrator.Orchestrator
	limiter *rate.Limiter
}

// NewRoutes creates a new Routes instance backed by orch
func NewRoutes(orch orchestrator.Orchestrator, opts ...Option) *Routes {
	rt := &Routes{orch: orch}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Router creates a router for the ETL endpoints
func Router(orch orchestrator.Orchestrator, opts ...Option) http.Handler {
	routes := NewRoutes(orch, opts...)

	r := chi.NewRouter()
	r.Post("/test", routes.runETL)
	r.Get("/status", routes.getStatus)

	return r
}

// runETL handles POST /etl/test. The run executes synchronously on the
// request context and the response reports its outcome.
func (rt *Routes) runETL(w http.ResponseWriter, r *http.Request) {
	if rt.limiter != nil {
		if reservation := rt.limiter.Reserve(); reservation.Delay() > 0 {
			retryAfter := reservation.Delay()
			reservation.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			common.WriteErrorResponse(w, "ETL trigger rate limit exceeded, retry later", http.StatusTooManyRequests)
			return
		}
	}

	slog.InfoContext(r.Context(), "Manual ETL run requested")

	if _, err := rt.orch.RunNow(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrInFlight) {
			status = http.StatusConflict
		}
		common.WriteErrorResponse(w, "ETL process failed: "+err.Error(), status)
		return
	}

	common.WriteJSONResponse(w, common.StatusResponse{
		Status:  common.StatusSuccess,
		Message: "ETL process completed successfully.",
	}, http.StatusOK)
}

// getStatus handles GET /etl/status
func (rt *Routes) getStatus(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, rt.orch.Status(), http.StatusOK)
}
