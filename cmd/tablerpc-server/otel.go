// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	tableotel "github.com/Query-farm/tablerpc/tablerpc/otel"
)

// setupOtel installs stdout trace and metric exporters as the global
// providers and returns the instrumentation config plus a shutdown func.
func setupOtel(_ context.Context, w io.Writer) (tableotel.OtelConfig, func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", "tablerpc-server"))

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return tableotel.OtelConfig{}, nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return tableotel.OtelConfig{}, nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	cfg := tableotel.DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	cfg.ServiceName = "tablerpc-server"

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return cfg, shutdown, nil
}
