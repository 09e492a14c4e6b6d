package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes here must stay low-cardinality: operation names, components, rules and
// statuses only. URLs, file names and download ids belong in logs, which carry the trace id.

// InstrumentedFunc is the unit of work wrapped by the Instrument helpers.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName. A returned error marks the span
// failed and is passed through unchanged.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName, trace.WithAttributes(
		append([]attribute.KeyValue{attribute.String("component", component)}, attrs...)...,
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("status", "error"))

		return err
	}

	span.SetAttributes(attribute.String("status", "success"))

	return nil
}

// InstrumentHistoryOperation traces a history store call and records its latency by outcome.
func (t *Telemetry) InstrumentHistoryOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "history_"+operation, "history", fn, attribute.String("history.operation", operation))

	status := "success"
	if err != nil {
		status = "error"

		t.RecordSystemError("history", operation)
	}

	t.RecordHistoryOperation(ctx, operation, status, time.Since(start))

	return err
}

// InstrumentSurfaceRequest traces a surface being asked to start a transfer.
func (t *Telemetry) InstrumentSurfaceRequest(ctx context.Context, surfaceKind string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "surface_download_url", "surface", fn, attribute.String("surface.kind", surfaceKind))
	if err != nil {
		t.RecordSystemError("surface", "download_url")
	}

	return err
}
