package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	testclock "k8s.io/utils/clock/testing"

	"github.com/stacklok/reviews-etl/internal/config"
	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
)

// noopRunner is a work unit that succeeds without doing anything
var noopRunner = etl.RunnerFunc(func(context.Context) (*etl.Result, error) {
	return &etl.Result{}, nil
})

// createTestConfig creates a minimal valid config for testing
func createTestConfig() *config.Config {
	return &config.Config{
		Schedule: config.ScheduleConfig{
			Interval:        "30s",
			ShutdownTimeout: "1s",
		},
	}
}

func TestWithAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "valid address", address: ":9999", want: ":9999"},
		{name: "valid address with host", address: "127.0.0.1:9999", want: "127.0.0.1:9999"},
		{name: "valid address with localhost", address: "localhost:9999", want: "localhost:9999"},
		{name: "invalid empty address", address: "", wantErr: true},
		{name: "invalid empty port", address: ":", wantErr: true},
		{name: "invalid missing port", address: "0.0.0.0", wantErr: true},
		{name: "invalid port out of range", address: "localhost:999999", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &etlAppConfig{}
			err := WithAddress(tt.address)(cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.address)
		})
	}
}

func TestOptionsRejectNil(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithRunner(nil))
	require.ErrorContains(t, err, "runner cannot be nil")

	_, err = baseConfig(WithProvisioner(nil))
	require.ErrorContains(t, err, "provisioner cannot be nil")
}

func TestBaseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := baseConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultRequestTimeout, cfg.requestTimeout)
	assert.Equal(t, defaultReadTimeout, cfg.readTimeout)
	assert.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
	assert.NotNil(t, cfg.provision)
	assert.Nil(t, cfg.runner)
	assert.Nil(t, cfg.clock)
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name            string
		config          func(t *testing.T) *etlAppConfig
		wantAddr        string
		wantMiddlewares int
	}{
		{
			name: "with default middlewares",
			config: func(*testing.T) *etlAppConfig {
				return &etlAppConfig{config: createTestConfig(), address: ":8080", readTimeout: 10 * time.Second}
			},
			wantAddr:        ":8080",
			wantMiddlewares: 4,
		},
		{
			name: "with custom middlewares",
			config: func(*testing.T) *etlAppConfig {
				return &etlAppConfig{
					config:  createTestConfig(),
					address: "127.0.0.1:3000",
					middlewares: []func(http.Handler) http.Handler{
						func(next http.Handler) http.Handler { return next },
					},
				}
			},
			wantAddr:        "127.0.0.1:3000",
			wantMiddlewares: 1,
		},
		{
			name: "telemetry prepends metrics and tracing middlewares",
			config: func(t *testing.T) *etlAppConfig {
				mp := sdkmetric.NewMeterProvider()
				tp := sdktrace.NewTracerProvider()
				t.Cleanup(func() {
					_ = mp.Shutdown(context.Background())
					_ = tp.Shutdown(context.Background())
				})
				return &etlAppConfig{
					config:         createTestConfig(),
					address:        ":8080",
					meterProvider:  mp,
					tracerProvider: tp,
				}
			},
			wantAddr:        ":8080",
			wantMiddlewares: 6,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := tt.config(t)

			server, err := buildHTTPServer(ctx, b, orchestrator.New(noopRunner))

			require.NoError(t, err)
			require.NotNil(t, server)
			assert.Equal(t, tt.wantAddr, server.Addr)
			assert.Zero(t, server.WriteTimeout, "manual runs must not be cut by a write timeout")
			assert.NotNil(t, server.Handler)
			assert.Len(t, b.middlewares, tt.wantMiddlewares)
		})
	}
}

func TestBuildETLComponents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("schedule settings reach the orchestrator", func(t *testing.T) {
		t.Parallel()
		cfg := createTestConfig()
		cfg.Schedule.Concurrency = config.ConcurrencyReject

		components, err := buildETLComponents(ctx, &etlAppConfig{
			config: cfg,
			runner: noopRunner,
			clock:  testclock.NewFakeClock(time.Now()),
		})
		require.NoError(t, err)

		status := components.Orchestrator.Status()
		assert.Equal(t, "30s", status.Interval)
		assert.Equal(t, config.ConcurrencyReject, status.Policy)
		assert.Equal(t, orchestrator.StateIdle, status.State)
		assert.Nil(t, components.cleanup)
	})

	t.Run("pipeline requires a source", func(t *testing.T) {
		t.Parallel()
		_, err := buildETLComponents(ctx, &etlAppConfig{config: createTestConfig()})
		require.ErrorContains(t, err, "BASE_URL")
	})

	t.Run("pipeline requires a load target", func(t *testing.T) {
		t.Parallel()
		cfg := createTestConfig()
		cfg.Source.BaseURL = "https://reviews.example.com/api/reviews"

		_, err := buildETLComponents(ctx, &etlAppConfig{config: cfg})
		require.ErrorIs(t, err, config.ErrMissingTarget)
	})
}

func TestNewETLApp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("uses the configured port by default", func(t *testing.T) {
		t.Parallel()
		app, err := NewETLApp(ctx, WithConfig(createTestConfig()), WithRunner(noopRunner))
		require.NoError(t, err)

		assert.Equal(t, ":8080", app.GetHTTPServer().Addr)
		assert.Equal(t, time.Second, app.shutdownTimeout)
		assert.NotNil(t, app.GetConfig())
		assert.NotNil(t, app.GetOrchestrator())
		assert.NotNil(t, app.ctx)
		assert.NotNil(t, app.cancelFunc)
	})

	t.Run("address option overrides the port", func(t *testing.T) {
		t.Parallel()
		app, err := NewETLApp(ctx, WithConfig(createTestConfig()), WithRunner(noopRunner), WithAddress(":9090"))
		require.NoError(t, err)
		assert.Equal(t, ":9090", app.GetHTTPServer().Addr)
	})

	t.Run("config is required", func(t *testing.T) {
		t.Parallel()
		_, err := NewETLApp(ctx, WithRunner(noopRunner))
		require.ErrorContains(t, err, "config cannot be nil")
	})

	t.Run("provisions the table when asked", func(t *testing.T) {
		t.Parallel()
		cfg := createTestConfig()
		cfg.BigQuery = config.BigQueryConfig{ProjectID: "p", DatasetID: "d", TableID: "t", ProvisionOnStart: true}

		var provisioned config.BigQueryConfig
		_, err := NewETLApp(ctx,
			WithConfig(cfg),
			WithRunner(noopRunner),
			WithProvisioner(func(_ context.Context, bq config.BigQueryConfig) error {
				provisioned = bq
				return nil
			}))
		require.NoError(t, err)
		assert.Equal(t, "t", provisioned.TableID)
	})

	t.Run("provisioning failure is fatal", func(t *testing.T) {
		t.Parallel()
		cfg := createTestConfig()
		cfg.BigQuery.ProvisionOnStart = true

		_, err := NewETLApp(ctx,
			WithConfig(cfg),
			WithRunner(noopRunner),
			WithProvisioner(func(context.Context, config.BigQueryConfig) error {
				return errors.New("permission denied")
			}))
		require.ErrorContains(t, err, "failed to provision BigQuery table: permission denied")
	})

	t.Run("provisioning is skipped by default", func(t *testing.T) {
		t.Parallel()
		_, err := NewETLApp(ctx,
			WithConfig(createTestConfig()),
			WithRunner(noopRunner),
			WithProvisioner(func(context.Context, config.BigQueryConfig) error {
				t.Error("provisioner must not be called")
				return nil
			}))
		require.NoError(t, err)
	})
}
