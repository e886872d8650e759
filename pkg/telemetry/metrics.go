// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestMetrics instruments inbound MCP requests: a request counter, an
// error counter and a duration histogram, dimensioned by vMCP name, MCP
// method, tool name and outcome.
type RequestMetrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRequestMetrics registers the request instruments on the meter.
func NewRequestMetrics(meter metric.Meter) (*RequestMetrics, error) {
	requests, err := meter.Int64Counter("vmcp.requests",
		metric.WithDescription("Inbound MCP requests handled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	errs, err := meter.Int64Counter("vmcp.request.errors",
		metric.WithDescription("Inbound MCP requests that ended in an error"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	duration, err := meter.Float64Histogram("vmcp.request.duration",
		metric.WithDescription("Inbound MCP request processing time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return &RequestMetrics{requests: requests, errors: errs, duration: duration}, nil
}

// Record accounts one finished request. toolName may be empty for methods
// that do not name a capability.
func (m *RequestMetrics) Record(ctx context.Context, vmcpName, method, toolName, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("vmcp.name", vmcpName),
		attribute.String("mcp.method.name", method),
		attribute.String("outcome", outcome),
	}
	if toolName != "" {
		attrs = append(attrs, attribute.String("gen_ai.tool.name", toolName))
	}
	set := metric.WithAttributes(attrs...)
	m.requests.Add(ctx, 1, set)
	if outcome != "ok" {
		m.errors.Add(ctx, 1, set)
	}
	m.duration.Record(ctx, elapsed.Seconds(), set)
}
