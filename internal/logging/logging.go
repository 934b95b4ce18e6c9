// Package logging builds the structured logger used by the ETL service.
//
// Records are produced through log/slog, encoded as JSON by zap (bridged through
// zapr and logr), and enriched with the OpenTelemetry trace and span IDs of the
// record's context so that logs can be correlated with traces.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapFloor lets every record through the zap core; level filtering happens in
// the slog handler so that warnings survive the logr V-level mapping.
const zapFloor = zapcore.Level(-127)

// Option configures the handler built by NewHandler
type Option func(*handlerConfig)

type handlerConfig struct {
	level  slog.Leveler
	writer io.Writer
}

// WithLevel sets the minimum level that is emitted
func WithLevel(level slog.Leveler) Option {
	return func(cfg *handlerConfig) {
		cfg.level = level
	}
}

// WithWriter sets the destination of the encoded records. Defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(cfg *handlerConfig) {
		cfg.writer = w
	}
}

// NewHandler returns an slog.Handler that writes JSON records through zap.
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{
		level:  slog.LevelInfo,
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = encodeLevel

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(cfg.writer),
		zap.NewAtomicLevelAt(zapFloor),
	)

	base := logr.ToSlogHandler(zapr.NewLogger(zap.New(core)))
	return &TraceHandler{Handler: base, level: cfg.level}
}

// ParseLevel converts a textual level into an slog.Level.
// It reports false when the value is not recognised.
func ParseLevel(value string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// encodeLevel names zap's verbosity levels below debug as "debug"
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l < zapcore.DebugLevel {
		enc.AppendString("debug")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// TraceHandler wraps an slog.Handler to automatically inject OpenTelemetry
// trace_id and span_id into every log record, enabling log-trace correlation.
type TraceHandler struct {
	slog.Handler
	level slog.Leveler
}

// Enabled reports whether the record level passes the configured minimum
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.level != nil && level < h.level.Level() {
		return false
	}
	return h.Handler.Enabled(ctx, level)
}

// Handle adds trace correlation attributes before delegating
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a TraceHandler carrying the given attributes
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

// WithGroup returns a TraceHandler that nests attributes under name
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
