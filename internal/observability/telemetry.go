// Package observability настраивает трассировку OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/shard-engine/internal/logging"
)

// Options - параметры экспорта трасс
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint - host:port OTLP HTTP коллектора; пусто - OTEL_EXPORTER_OTLP_ENDPOINT или localhost:4318
	Endpoint string
	Insecure bool
	// SampleRatio - доля корневых трасс; вне (0, 1] - все трассы
	SampleRatio float64
}

func (o Options) withDefaults() Options {
	if o.ServiceName == "" {
		o.ServiceName = "shard-engine"
	}
	if o.SampleRatio <= 0 || o.SampleRatio > 1 {
		o.SampleRatio = 1
	}
	return o
}

// sampler уважает решение родителя; для корневых спанов берёт долю SampleRatio
func (o Options) sampler() sdktrace.Sampler {
	if o.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.SampleRatio))
}

// InitTelemetry ставит глобальные TracerProvider и пропагатор W3C.
// Возвращённый shutdown сбрасывает буфер спанов; вызывать при остановке.
func InitTelemetry(ctx context.Context, opts Options) (func(context.Context) error, error) {
	opts = opts.withDefaults()

	var expOpts []otlptracehttp.Option
	if opts.Endpoint != "" {
		expOpts = append(expOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		expOpts = append(expOpts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, expOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(opts.ServiceName))}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(opts.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logging.Info("OpenTelemetry: service=%s endpoint=%q sample=%.2f", opts.ServiceName, opts.Endpoint, opts.SampleRatio)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
