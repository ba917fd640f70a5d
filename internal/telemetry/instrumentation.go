package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// High cardinality attributes (file names, URLs, unique error messages)
// must not be added to span attributes that feed metrics; they belong in
// logs, correlated through trace_id. Span attributes here are limited to
// bounded sets: operation names, policies, status values, component names.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with a span and
// status/duration attributes.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentFetch instruments a network transfer. The bytes callback result
// feeds the transfer byte counter even on failure, so partial transfers are
// visible.
func (t *Telemetry) InstrumentFetch(ctx context.Context, fn func(ctx context.Context) (int64, error)) (int64, error) {
	if t == nil {
		return fn(ctx)
	}

	var written int64

	err := t.InstrumentOperation(ctx, "fetch", "fetcher", func(ctx context.Context) error {
		var fnErr error
		written, fnErr = fn(ctx)

		return fnErr
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordFetch(status, written)

	return written, err
}

// InstrumentAcquisition instruments a full acquisition pipeline run.
func (t *Telemetry) InstrumentAcquisition(ctx context.Context, policy string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveAcquisitions()
	defer t.DecrementActiveAcquisitions()

	err := t.InstrumentOperation(ctx, "acquisition", "acquirer", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("acquisition.policy", policy))

		return fn(ctx)
	})

	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordAcquisition(policy, status, duration)

	return err
}
