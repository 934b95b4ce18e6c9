package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// newTestTracerProvider creates a tracer provider with in-memory exporter for testing.
// The provider is automatically shut down when the test completes.
func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

// newTracedRouter lays out routes the way the service does, with the ETL
// endpoints mounted under /etl
func newTracedRouter(tp *sdktrace.TracerProvider, runStatus int) http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	etl := chi.NewRouter()
	etl.Post("/test", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(runStatus) })

	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp))
	r.Get("/health", ok)
	r.Get("/readiness", ok)
	r.Get("/metrics", ok)
	r.Mount("/etl", etl)
	return r
}

func spanAttr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddleware_ManualTriggerSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		runStatus  int
		wantStatus codes.Code
	}{
		{name: "run succeeded", runStatus: http.StatusOK, wantStatus: codes.Ok},
		{name: "run already in flight", runStatus: http.StatusConflict, wantStatus: codes.Unset},
		{name: "run failed", runStatus: http.StatusInternalServerError, wantStatus: codes.Error},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exporter, tp := newTestTracerProvider(t)

			rec := httptest.NewRecorder()
			newTracedRouter(tp, tt.runStatus).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/etl/test", nil))
			require.Equal(t, tt.runStatus, rec.Code)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "POST /etl/test", span.Name)
			assert.Equal(t, tt.wantStatus, span.Status.Code)

			route, found := spanAttr(span, semconv.HTTPRouteKey)
			require.True(t, found)
			assert.Equal(t, "/etl/test", route.AsString())

			status, found := spanAttr(span, semconv.HTTPResponseStatusCodeKey)
			require.True(t, found)
			assert.Equal(t, int64(tt.runStatus), status.AsInt64())
		})
	}
}

func TestTracingMiddleware_UnroutedRequest(t *testing.T) {
	t.Parallel()
	exporter, tp := newTestTracerProvider(t)

	rec := httptest.NewRecorder()
	newTracedRouter(tp, http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/etl/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST "+unknownRoute, spans[0].Name)
}

func TestTracingMiddleware_SkipsHealthAndMetrics(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/health", "/readiness", "/metrics"} {
		path := path
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			exporter, tp := newTestTracerProvider(t)

			rec := httptest.NewRecorder()
			newTracedRouter(tp, http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, exporter.GetSpans())
		})
	}
}

func TestTracingMiddleware_TruncatesUserAgent(t *testing.T) {
	t.Parallel()
	exporter, tp := newTestTracerProvider(t)

	req := httptest.NewRequest(http.MethodPost, "/etl/test", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", MaxUserAgentLength+10))
	newTracedRouter(tp, http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	ua, found := spanAttr(spans[0], semconv.UserAgentOriginalKey)
	require.True(t, found)
	assert.Len(t, ua.AsString(), MaxUserAgentLength)
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	called := false
	handler := TracingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/etl/test", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
