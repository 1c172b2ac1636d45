package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя инструментирования для spans движка.
const TracerName = "github.com/shaiso/Nodeflow"

// TracingConfig — настройки OpenTelemetry.
type TracingConfig struct {
	// Enabled — включить экспорт spans (OTEL_ENABLED).
	Enabled bool

	// ServiceName — имя сервиса в resource.
	ServiceName string

	// ServiceVersion — версия сервиса.
	ServiceVersion string

	// Endpoint — адрес OTLP collector (gRPC), например "localhost:4317".
	Endpoint string

	// SampleRate — доля трассируемых run (0..1).
	SampleRate float64
}

// TracerProvider — обёртка над sdktrace.TracerProvider.
// Провайдер выключенного tracing ничего не экспортирует.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// SetupTracing настраивает глобальный TracerProvider и W3C propagation.
func SetupTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (*TracerProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return &TracerProvider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1 || cfg.SampleRate == 0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate < 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
	)
	return &TracerProvider{provider: tp, logger: logger}, nil
}

// Shutdown сбрасывает накопленные spans.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	p.logger.Info("shutting down tracer provider")
	return p.provider.Shutdown(ctx)
}

// Tracer возвращает tracer движка из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
