package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanApplyEvent    = "apply_event"
	SpanRestoreBook   = "restore_book"
	SpanSaveSnapshot  = "save_snapshot"
	SpanLoadSnapshot  = "load_snapshot"
	SpanPublishUpdate = "publish_update"

	// Attribute keys
	AttributeBookName      = "book.name"
	AttributeBookSeq       = "book.seq"
	AttributeEventKind     = "event.kind"
	AttributeOrderID       = "order.id"
	AttributeOrderSide     = "order.side"
	AttributeOrderQuantity = "order.quantity"
	AttributeOrderPrice    = "order.price"
	AttributeLevelCreated  = "level.created"
	AttributeLevelRemoved  = "level.removed"
	AttributePriorityLost  = "order.priority_lost"
	AttributeSnapshotSize  = "snapshot.orders"
)

// StartBookSpan starts a new span for a book operation. Without a configured
// tracer the returned span is a no-op, so callers can always defer End.
func StartBookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetBookTracer()
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
