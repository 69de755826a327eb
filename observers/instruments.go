// Package observers provides the tracer and meters used by the host.
// With OTLP enabled they export over OTLP/HTTP, configured by the standard
// OTEL_EXPORTER_OTLP_* environment variables; otherwise they are no-ops.
package observers

import (
	"context"
	"errors"

	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/reusee/studyboard"

type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// sandbox calls by type and status
	Calls        metric.Int64Counter
	CallDuration metric.Float64Histogram
	// push notifications delivered to subscribers
	Pushes metric.Int64Counter
	// fragment loads by status
	Fragments metric.Int64Counter
}

// Shutdown flushes and stops the exporters.
type Shutdown func(context.Context) error

func (Module) Instruments(
	otlp boardconfigs.OTLP,
	logger logs.Logger,
) (*Instruments, Shutdown) {
	shutdown := Shutdown(func(context.Context) error {
		return nil
	})
	if otlp {
		fn, err := initProviders(context.Background())
		if err != nil {
			logger.Warn("otlp exporters not started", "error", err)
		} else {
			shutdown = fn
		}
	}
	inst, err := newInstruments()
	if err != nil {
		panic(err)
	}
	return inst, shutdown
}

func initProviders(ctx context.Context) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("studyboard")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	calls, err := meter.Int64Counter("sandbox.calls",
		metric.WithDescription("Sandbox request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram("sandbox.call.duration",
		metric.WithDescription("Sandbox request duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	pushes, err := meter.Int64Counter("sandbox.pushes",
		metric.WithDescription("Push notifications delivered"),
		metric.WithUnit("{push}"))
	if err != nil {
		return nil, err
	}

	fragments, err := meter.Int64Counter("fragment.loads",
		metric.WithDescription("Fragment load count"),
		metric.WithUnit("{load}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:       tracer,
		Meter:        meter,
		Calls:        calls,
		CallDuration: callDuration,
		Pushes:       pushes,
		Fragments:    fragments,
	}, nil
}
