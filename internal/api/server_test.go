package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/reviews-etl/internal/api"
	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
	"github.com/stacklok/reviews-etl/internal/orchestrator/mocks"
)

func newTestServer(t *testing.T, opts ...api.ServerOption) (*mocks.MockOrchestrator, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	orch := mocks.NewMockOrchestrator(ctrl)
	return orch, api.NewServer(orch, opts...)
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRootAndHealthEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		expectedBody map[string]any
	}{
		{
			name:         "root greets",
			path:         "/",
			expectedBody: map[string]any{"message": "Hello, World!"},
		},
		{
			name:         "health reports liveness",
			path:         "/health",
			expectedBody: map[string]any{"status": "success", "message": "Service is running"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// No expectations: neither endpoint touches the orchestrator
			_, server := newTestServer(t)

			rr := serve(t, server, http.MethodGet, tt.path)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.expectedBody, decode(t, rr))
		})
	}
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         orchestrator.Status
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "schedule running",
			status:         orchestrator.Status{State: orchestrator.StateWaiting, Running: true},
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "schedule stopped",
			status:         orchestrator.Status{State: orchestrator.StateStopped},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "not ready",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			orch, server := newTestServer(t)
			orch.EXPECT().Status().Return(tt.status)

			rr := serve(t, server, http.MethodGet, "/readiness")

			assert.Equal(t, tt.expectedStatus, rr.Code)
			body := decode(t, rr)
			assert.Equal(t, tt.expectedBody, body["status"])
			assert.Equal(t, string(tt.status.State), body["state"])
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	_, server := newTestServer(t)

	rr := serve(t, server, http.MethodGet, "/version")

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		assert.Contains(t, body, key)
	}
}

func TestManualTriggerEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		runErr         error
		expectedStatus int
		expectedBody   map[string]any
	}{
		{
			name:           "successful run",
			expectedStatus: http.StatusOK,
			expectedBody: map[string]any{
				"status":  "success",
				"message": "ETL process completed successfully.",
			},
		},
		{
			name:           "failed run surfaces the cause",
			runErr:         fmt.Errorf("failed to load page 2: %w", errors.New("quota exceeded")),
			expectedStatus: http.StatusInternalServerError,
			expectedBody: map[string]any{
				"detail": "ETL process failed: failed to load page 2: quota exceeded",
			},
		},
		{
			name:           "concurrent run rejected",
			runErr:         orchestrator.ErrInFlight,
			expectedStatus: http.StatusConflict,
			expectedBody: map[string]any{
				"detail": "ETL process failed: an ETL run is already in progress",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			orch, server := newTestServer(t)

			var result *etl.Result
			if tt.runErr == nil {
				result = &etl.Result{Pages: 2, Extracted: 5, Loaded: 5}
			}
			orch.EXPECT().RunNow(gomock.Any()).Return(result, tt.runErr)

			rr := serve(t, server, http.MethodPost, "/etl/test")

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedBody, decode(t, rr))
		})
	}
}

func TestManualTriggerRunsOnRequestContext(t *testing.T) {
	t.Parallel()
	orch, server := newTestServer(t, api.WithMiddlewares(middleware.RequestID))

	orch.EXPECT().RunNow(gomock.Any()).DoAndReturn(func(ctx context.Context) (*etl.Result, error) {
		assert.NotEmpty(t, middleware.GetReqID(ctx))
		return &etl.Result{}, nil
	})

	rr := serve(t, server, http.MethodPost, "/etl/test")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestManualTriggerRequiresPost(t *testing.T) {
	t.Parallel()
	_, server := newTestServer(t)

	rr := serve(t, server, http.MethodGet, "/etl/test")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestManualTriggerRateLimit(t *testing.T) {
	t.Parallel()
	orch, server := newTestServer(t, api.WithTriggerRateLimit(1))
	orch.EXPECT().RunNow(gomock.Any()).Return(&etl.Result{}, nil).Times(1)

	first := serve(t, server, http.MethodPost, "/etl/test")
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(t, server, http.MethodPost, "/etl/test")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, decode(t, second)["detail"], "rate limit")
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	orch, server := newTestServer(t)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orch.EXPECT().Status().Return(orchestrator.Status{
		State:    orchestrator.StateWaiting,
		Running:  true,
		Interval: "1m0s",
		Policy:   "concurrent",
		Ticks:    4,
		Failures: 1,
		LastRun: &orchestrator.Run{
			ID:         "run-1",
			Trigger:    orchestrator.TriggerScheduled,
			StartedAt:  started,
			FinishedAt: started.Add(3 * time.Second),
			Result:     &etl.Result{Pages: 3, Extracted: 20, Loaded: 19, Skipped: 1},
		},
	})

	rr := serve(t, server, http.MethodGet, "/etl/status")

	require.Equal(t, http.StatusOK, rr.Code)
	var status orchestrator.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, orchestrator.StateWaiting, status.State)
	assert.Equal(t, int64(4), status.Ticks)
	assert.Equal(t, int64(1), status.Failures)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "run-1", status.LastRun.ID)
	assert.Equal(t, 19, status.LastRun.Result.Loaded)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("not registered without a handler", func(t *testing.T) {
		t.Parallel()
		_, server := newTestServer(t)

		rr := serve(t, server, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("serves the configured handler", func(t *testing.T) {
		t.Parallel()
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("etl_runs_in_flight 0\n"))
		})
		_, server := newTestServer(t, api.WithMetricsHandler(handler))

		rr := serve(t, server, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "etl_runs_in_flight")
	})
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	handler := api.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := serve(t, handler, http.MethodGet, "/anything")
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
