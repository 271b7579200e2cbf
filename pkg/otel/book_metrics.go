package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/lobook/pkg/otel"
)

var (
	bookMetrics     *BookMetrics
	bookMetricsOnce sync.Once
)

// BookMetrics holds metrics for order book maintenance
type BookMetrics struct {
	// Events applied, by kind and side
	eventsApplied metric.Int64Counter
	// Events refused, by reason
	eventsRejected metric.Int64Counter
	// Orders currently resting in the book
	restingOrders metric.Int64UpDownCounter
}

// GetBookMetrics returns the BookMetrics singleton. Instruments come from the
// global meter provider, which delegates to the one installed by Init.
func GetBookMetrics() *BookMetrics {
	bookMetricsOnce.Do(func() {
		bookMetrics = newBookMetrics(otel.GetMeterProvider().Meter(instrumentationName))
	})
	return bookMetrics
}

func newBookMetrics(meter metric.Meter) *BookMetrics {
	m := &BookMetrics{}

	eventsApplied, err := meter.Int64Counter(
		"orderbook.events.applied",
		metric.WithDescription("Total number of order events applied"),
		metric.WithUnit("{event}"),
	)
	if err == nil {
		m.eventsApplied = eventsApplied
	}

	eventsRejected, err := meter.Int64Counter(
		"orderbook.events.rejected",
		metric.WithDescription("Total number of order events rejected"),
		metric.WithUnit("{event}"),
	)
	if err == nil {
		m.eventsRejected = eventsRejected
	}

	restingOrders, err := meter.Int64UpDownCounter(
		"orderbook.orders.resting",
		metric.WithDescription("Number of orders resting in the book"),
		metric.WithUnit("{order}"),
	)
	if err == nil {
		m.restingOrders = restingOrders
	}

	return m
}

// RecordApplied increments the applied events counter
func (m *BookMetrics) RecordApplied(ctx context.Context, kind, side string) {
	if m == nil || m.eventsApplied == nil {
		return
	}
	m.eventsApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.kind", kind),
		attribute.String("order.side", side),
	))
}

// RecordRejected increments the rejected events counter
func (m *BookMetrics) RecordRejected(ctx context.Context, kind, reason string) {
	if m == nil || m.eventsRejected == nil {
		return
	}
	m.eventsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.kind", kind),
		attribute.String("reason", reason),
	))
}

// AddResting adjusts the resting orders counter by delta
func (m *BookMetrics) AddResting(ctx context.Context, delta int64) {
	if m == nil || m.restingOrders == nil || delta == 0 {
		return
	}
	m.restingOrders.Add(ctx, delta)
}
