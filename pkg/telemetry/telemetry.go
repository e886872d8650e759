// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry owns the OpenTelemetry SDK setup for vmcpd: a meter
// provider backed by a Prometheus exporter and a tracer provider with
// configurable sampling. Telemetry is disabled by default; a disabled
// provider hands out no-op meters and tracers so instrumented code needs
// no nil checks.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"
)

// Config configures the telemetry provider.
type Config struct {
	// Enabled turns the SDK on. When false the provider is a no-op.
	Enabled bool

	// ServiceName is the service.name resource attribute.
	ServiceName string

	// ServiceVersion is the service.version resource attribute.
	ServiceVersion string

	// SamplingRate is the trace sampling ratio in [0, 1]. Zero disables
	// span sampling; metrics are unaffected.
	SamplingRate float64

	// ResourceAttributes are extra resource attributes, e.g. deployment
	// labels parsed from configuration.
	ResourceAttributes map[string]string
}

// Provider owns the configured SDK components.
type Provider struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry

	shutdown []func(context.Context) error
}

// NewProvider builds a telemetry provider from the configuration.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			meterProvider:  mnoop.NewMeterProvider(),
			tracerProvider: tnoop.NewTracerProvider(),
		}, nil
	}

	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)

	return &Provider{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		registry:       registry,
		shutdown: []func(context.Context) error{
			meterProvider.Shutdown,
			tracerProvider.Shutdown,
		},
	}, nil
}

func buildResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}
	return res, nil
}

// Meter returns a meter in the vmcpd instrumentation scope.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter("github.com/virtualmcp/vmcpd")
}

// Tracer returns a tracer in the vmcpd instrumentation scope.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer("github.com/virtualmcp/vmcpd")
}

// Handler serves the Prometheus scrape endpoint. Nil when disabled.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the SDK components.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
