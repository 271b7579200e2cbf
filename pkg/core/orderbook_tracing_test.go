package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	old := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(old)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestOrderBook_RestoreFailureMarksSpan(t *testing.T) {
	order := func(id string, side Side, price float64) OrderState {
		return OrderState{OrderID: id, Side: side, Price: dec(price), Quantity: dec(1), Timestamp: 1}
	}

	tests := []struct {
		name    string
		book    func(t *testing.T) *OrderBook
		snap    *Snapshot
		wantErr error
	}{
		{
			name: "book not empty",
			book: func(t *testing.T) *OrderBook {
				book := NewOrderBook()
				apply(t, book, NewInsertEvent("1", Bid, dec(10), dec(1), 1))
				return book
			},
			snap:    &Snapshot{Asks: []LevelSnapshot{{Price: dec(11), Orders: []OrderState{order("2", Ask, 11)}}}},
			wantErr: ErrBookNotEmpty,
		},
		{
			name: "id on both sides",
			book: func(t *testing.T) *OrderBook { return NewOrderBook() },
			snap: &Snapshot{
				Bids: []LevelSnapshot{{Price: dec(9), Orders: []OrderState{order("x", Bid, 9)}}},
				Asks: []LevelSnapshot{{Price: dec(10), Orders: []OrderState{order("x", Ask, 10)}}},
			},
			wantErr: ErrInvalidSnapshot,
		},
		{
			name:    "nil snapshot",
			book:    func(t *testing.T) *OrderBook { return NewOrderBook() },
			wantErr: ErrInvalidSnapshot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := tt.book(t)
			recorder := withSpanRecorder(t)

			err := book.Restore(context.Background(), tt.snap)
			require.ErrorIs(t, err, tt.wantErr)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "restore_book", spans[0].Name())
			assert.Equal(t, codes.Error, spans[0].Status().Code)
		})
	}
}

func TestOrderBook_RestoreSpanOK(t *testing.T) {
	src := NewOrderBook()
	apply(t, src, NewInsertEvent("1", Bid, dec(10), dec(1), 1))

	recorder := withSpanRecorder(t)
	require.NoError(t, NewOrderBook().Restore(context.Background(), src.Snapshot()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}
