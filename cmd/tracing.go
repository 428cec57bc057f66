package cmd

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
)

// ProvideTracerProvider builds the process-wide TracerProvider dispatch and
// the outbox processor instrument their spans against. No exporter is
// registered by default (span data is recorded and discarded); wiring a
// real OTLP exporter is a matter of adding a batcher here once an endpoint
// is configured.
func ProvideTracerProvider(cfg *config.Config) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
}

func registerTracingHook(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}
