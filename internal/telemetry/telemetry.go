// Package telemetry wires the ambient logging and tracing/metrics stack:
// a log/slog logger that carries profile_id/usecase/provider attributes
// the way the teacher's server threads request-scoped attributes, plus
// OTel tracer/meter providers exported via OTLP gRPC.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Attrs is the standard set of request-scoped attributes every perform
// boundary logs and spans carry.
type Attrs struct {
	ProfileID string
	Usecase   string
	Provider  string
}

func (a Attrs) slogArgs() []any {
	args := []any{}
	if a.ProfileID != "" {
		args = append(args, "profile_id", a.ProfileID)
	}
	if a.Usecase != "" {
		args = append(args, "usecase", a.Usecase)
	}
	if a.Provider != "" {
		args = append(args, "provider", a.Provider)
	}
	return args
}

// Logger wraps a *slog.Logger with convenience methods that attach Attrs.
type Logger struct {
	base *slog.Logger
}

// NewLogger wraps base, defaulting to slog.Default() when base is nil.
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// With returns a Logger whose every subsequent log line carries attrs.
func (l *Logger) With(attrs Attrs) *Logger {
	return &Logger{base: l.base.With(attrs.slogArgs()...)}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, args...)
}

// Provider bundles the OTel tracer and meter providers the SDK exports
// spans and counters through.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// Options configures otlpgrpc exporter endpoints. An empty Endpoint
// disables that signal's exporter (tracer/meter fall back to no-ops).
type Options struct {
	ServiceName    string
	TraceEndpoint  string
	MetricEndpoint string
}

// NewProvider builds tracer/meter providers exporting via OTLP gRPC to the
// configured endpoints. Either endpoint may be empty to skip that signal.
func NewProvider(ctx context.Context, opts Options) (*Provider, func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(orDefault(opts.ServiceName, "onesdk")),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	var shutdowns []func(context.Context) error

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	if opts.TraceEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(opts.TraceEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("building OTLP trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exp))
		shutdowns = append(shutdowns, tp.Shutdown)
	}
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	if opts.MetricEndpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(opts.MetricEndpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("building OTLP metric exporter: %w", err)
		}
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		shutdowns = append(shutdowns, mp.Shutdown)
	}
	otel.SetMeterProvider(mp)

	p := &Provider{
		TracerProvider: tp,
		MeterProvider:  mp,
		Tracer:         tp.Tracer("github.com/onesdk/onesdk-go"),
		Meter:          mp.Meter("github.com/onesdk/onesdk-go"),
	}

	shutdown := func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return p, shutdown, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DefaultSlogHandler builds a text handler writing to stderr at the level
// named by the SUPERFACE_LOG_LEVEL-style string (falling back to Info),
// matching the teacher's slog.Default() usage in cmd/helm/main.go.
func DefaultSlogHandler(levelName string) slog.Handler {
	var level slog.Level
	switch levelName {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}
