package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"dhtnode/internal/config"
	"dhtnode/internal/domain"
)

// IdAttributes renders id in three representations under prefix, so a trace
// backend can filter on whichever form an operator finds easiest to grep.
func IdAttributes(prefix string, id domain.ID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(prefix+".dec", id.ToBigInt().String()),
		attribute.String(prefix+".hex", id.ToHexString(true)),
		attribute.String(prefix+".bin", id.ToBinaryString(true)),
	}
}

// InitTracer wires up the OTel SDK per cfg.Tracing and returns a shutdown
// func the caller must defer. If tracing is disabled, it returns a no-op
// shutdown and never touches the global tracer provider.
func InitTracer(cfg config.TracingConfig, serviceName string, nodeID domain.ID) func(context.Context) error {
	if !cfg.Enabled {
		log.Println("tracing disabled")
		return func(context.Context) error { return nil }
	}

	attrs := append(
		[]attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)},
		IdAttributes("dht.node.id", nodeID)...,
	)

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		log.Fatalf("failed to create resource: %v", err)
	}

	var tp *sdktrace.TracerProvider

	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatalf("failed to initialize stdout exporter: %v", err)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
	case "otlp":
		exp, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		)
		if err != nil {
			log.Fatalf("failed to initialize OTLP exporter: %v", err)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
	default:
		panic(fmt.Sprintf("unsupported exporter: %s", cfg.Exporter))
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return tp.Shutdown
}
