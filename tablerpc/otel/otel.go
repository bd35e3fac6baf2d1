// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tableotel provides OpenTelemetry instrumentation for tablerpc
// managers. It implements the [tablerpc.DispatchHook] interface to add a
// span and request metrics to every dispatched message.
//
// Usage:
//
//	manager := tablerpc.NewManager(engine)
//	tableotel.InstrumentManager(manager, tableotel.DefaultConfig())
package tableotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/tablerpc/tablerpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tablerpc"

// OtelConfig configures OpenTelemetry instrumentation for a manager.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to "tablerpc".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentManager attaches OpenTelemetry instrumentation to m via
// [tablerpc.Manager.SetDispatchHook].
func InstrumentManager(m *tablerpc.Manager, cfg OtelConfig) {
	m.SetDispatchHook(NewHook(cfg))
}

// NewHook builds the dispatch hook without installing it.
func NewHook(cfg OtelConfig) tablerpc.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tablerpc"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of dispatched messages"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of message dispatch"),
		)
		hook.bytesCounter, _ = meter.Int64Counter("rpc.server.response.size",
			metric.WithUnit("By"),
			metric.WithDescription("Bytes posted in responses"),
		)
	}
	return hook
}

type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	bytesCounter      metric.Int64Counter
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span named after the command and method.
func (h *otelHook) OnDispatchStart(ctx context.Context, info tablerpc.DispatchInfo) (context.Context, tablerpc.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "tablerpc"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Label()),
		attribute.String("rpc.tablerpc.resource", info.Resource),
		attribute.String("rpc.tablerpc.client_id", info.ClientID),
		attribute.String("rpc.tablerpc.message_id", info.MessageID),
		attribute.String("rpc.tablerpc.server_id", info.ServerID),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("tablerpc/%s", info.Label()),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token tablerpc.HookToken, info tablerpc.DispatchInfo, stats *tablerpc.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "tablerpc"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Label()),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, time.Since(st.startTime).Seconds(), metricAttrs)
		}
		if h.bytesCounter != nil && stats != nil {
			h.bytesCounter.Add(ctx, stats.Bytes, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.tablerpc.frames", stats.Frames),
			attribute.Int64("rpc.tablerpc.bytes", stats.Bytes),
			attribute.Int64("rpc.tablerpc.binary_frames", stats.BinaryFrames),
			attribute.Int64("rpc.tablerpc.binary_bytes", stats.BinaryBytes),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var rpcErr *tablerpc.RpcError
		if errors.As(err, &rpcErr) {
			errType = rpcErr.Type
		}
		st.span.SetAttributes(attribute.String("rpc.tablerpc.error_type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
