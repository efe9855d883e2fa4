// Package traces provides OpenTelemetry distributed tracing for the consultcredit service.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/mbd888/consultcredit"
	serviceName = "consultcredit"
)

type settings struct {
	version     string
	sampleRatio float64
}

// Option tunes the tracer provider built by Init.
type Option func(*settings)

// WithServiceVersion tags every span with the build version.
func WithServiceVersion(v string) Option {
	return func(s *settings) {
		if v != "" {
			s.version = v
		}
	}
}

// WithSampleRatio samples a fraction of root traces. Child spans follow
// their parent's decision. Values outside (0, 1] mean sample everything.
func WithSampleRatio(r float64) Option {
	return func(s *settings) { s.sampleRatio = r }
}

// Init installs the global tracer provider. With an empty endpoint tracing
// stays disabled and the returned shutdown is a no-op.
func Init(ctx context.Context, otlpEndpoint string, logger *slog.Logger, opts ...Option) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	cfg := settings{version: "dev", sampleRatio: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.sampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint, "sample_ratio", cfg.sampleRatio)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on the span carried by ctx and marks it failed. A nil
// err is ignored.
func Fail(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Span attributes shared by the ledger and pricing services.

func UserID(id string) attribute.KeyValue {
	return attribute.String("user.id", id)
}

func ExpertID(id string) attribute.KeyValue {
	return attribute.String("expert.id", id)
}

func Tokens(n int64) attribute.KeyValue {
	return attribute.Int64("tokens", n)
}

func Precise(p bool) attribute.KeyValue {
	return attribute.Bool("precise", p)
}

func Count(n int) attribute.KeyValue {
	return attribute.Int("count", n)
}
