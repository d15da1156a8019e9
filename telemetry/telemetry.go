// Package telemetry installs the OpenTelemetry tracer provider used by the
// agent and pipeline spans.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ServiceName identifies spans written by this program.
const ServiceName = "clawdcommit"

// Provider owns the global tracer provider installed by Setup.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup exports every span as JSON to w and installs the provider globally.
// Without Setup the global no-op provider stays in place and spans cost
// nothing.
func Setup(w io.Writer, version string) (*Provider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
