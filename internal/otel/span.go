// Package otel provides OpenTelemetry span helpers shared by the sync and API layers.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys describing the table a span works on
const (
	AttrTableID     = attribute.Key("table.id")
	AttrTableOwner  = attribute.Key("table.owner")
	AttrColumnCount = attribute.Key("table.column_count")
	AttrRowCount    = attribute.Key("result.row_count")
	AttrSyncSeq     = attribute.Key("sync.seq")
	AttrSyncOutcome = attribute.Key("sync.outcome")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when tracer is nil
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status text stays generic so sheet ids
// and credentials never land in the span status; the event keeps the detail.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
