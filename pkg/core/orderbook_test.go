package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, book *OrderBook, event OrderEvent) *Done {
	t.Helper()
	done, err := book.Apply(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, done)
	return done
}

func assertDepth(t *testing.T, book *OrderBook, side Side, price float64, count int, quantity float64) {
	t.Helper()
	n, qty, ok := book.DepthAt(side, dec(price))
	require.True(t, ok, "no level at %v", price)
	assert.Equal(t, count, n)
	assert.True(t, qty.Equal(dec(quantity)), "depth at %v is %s, want %v", price, qty, quantity)
}

func levelOrderIDs(t *testing.T, book *OrderBook, side Side, price float64) []string {
	t.Helper()
	book.mu.RLock()
	defer book.mu.RUnlock()
	level := book.sideOf(side).prices[dec(price)]
	require.NotNil(t, level)
	return levelIDs(level)
}

func TestOrderBookCreation(t *testing.T) {
	book := NewOrderBook()
	require.NotNil(t, book)

	_, ok := book.BestBid()
	assert.False(t, ok)
	_, ok = book.BestAsk()
	assert.False(t, ok)
	_, ok = book.Spread()
	assert.False(t, ok)
	assert.Equal(t, 0, book.Len())
	assert.Equal(t, uint64(0), book.Seq())
}

func TestOrderBook_Scenarios(t *testing.T) {
	book := NewOrderBook()

	// A: first bid creates the level
	done := apply(t, book, NewInsertEvent("1", Bid, dec(10), dec(100), 1))
	assert.True(t, done.LevelCreated)
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(dec(10)))
	assertDepth(t, book, Bid, 10, 1, 100)

	// B: second bid queues behind the first
	done = apply(t, book, NewInsertEvent("2", Bid, dec(10), dec(50), 2))
	assert.False(t, done.LevelCreated)
	assertDepth(t, book, Bid, 10, 2, 150)
	assert.Equal(t, []string{"1", "2"}, levelOrderIDs(t, book, Bid, 10))

	// C: increasing quantity loses priority
	done = apply(t, book, NewAmendEvent("1", Bid, dec(10), dec(200), 3))
	assert.True(t, done.PriorityLost)
	assertDepth(t, book, Bid, 10, 2, 250)
	assert.Equal(t, []string{"2", "1"}, levelOrderIDs(t, book, Bid, 10))

	// D: cancel leaves the level
	done = apply(t, book, NewCancelEvent("2", Bid, 4))
	assert.True(t, done.Removed)
	assert.False(t, done.LevelRemoved)
	assertDepth(t, book, Bid, 10, 1, 200)
	bid, ok = book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(dec(10)))

	// E: last cancel removes the level
	done = apply(t, book, NewCancelEvent("1", Bid, 5))
	assert.True(t, done.LevelRemoved)
	_, _, ok = book.DepthAt(Bid, dec(10))
	assert.False(t, ok)
	_, ok = book.BestBid()
	assert.False(t, ok)

	// F: best ask is the lowest
	apply(t, book, NewInsertEvent("3", Ask, dec(11), dec(30), 6))
	apply(t, book, NewInsertEvent("4", Ask, dec(9), dec(20), 7))
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(dec(9)))

	assert.Equal(t, uint64(7), book.Seq())
	assert.Equal(t, 2, book.Len())
}

func TestOrderBook_ApplyErrors(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("bid-1", Bid, dec(10), dec(5), 1))
	apply(t, book, NewInsertEvent("ask-1", Ask, dec(12), dec(5), 2))

	tests := []struct {
		name     string
		event    OrderEvent
		expected error
	}{
		{name: "duplicate same side", event: NewInsertEvent("bid-1", Bid, dec(10), dec(1), 3), expected: ErrDuplicateOrderID},
		{name: "duplicate other side", event: NewInsertEvent("bid-1", Ask, dec(13), dec(1), 3), expected: ErrDuplicateOrderID},
		{name: "cancel unknown", event: NewCancelEvent("nope", Bid, 3), expected: ErrUnknownOrderID},
		{name: "cancel on wrong side", event: NewCancelEvent("ask-1", Bid, 3), expected: ErrUnknownOrderID},
		{name: "amend unknown", event: NewAmendEvent("nope", Ask, dec(12), dec(1), 3), expected: ErrUnknownOrderID},
		{name: "unknown kind", event: OrderEvent{OrderID: "x", Side: Bid, Price: dec(1), Quantity: dec(1)}, expected: ErrUnknownEventKind},
		{name: "unknown kind and side", event: OrderEvent{OrderID: "x"}, expected: ErrUnknownEventKind},
		{name: "unknown side", event: NewInsertEvent("x", Side(7), dec(1), dec(1), 3), expected: ErrUnknownSide},
		{name: "zero quantity insert", event: NewInsertEvent("x", Bid, dec(1), fpdecimal.Zero, 3), expected: ErrInvalidQuantity},
		{name: "zero quantity amend", event: NewAmendEvent("bid-1", Bid, dec(10), fpdecimal.Zero, 3), expected: ErrInvalidQuantity},
		{name: "negative price", event: NewInsertEvent("x", Ask, dec(-1), dec(1), 3), expected: ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := book.Snapshot()

			done, err := book.Apply(context.Background(), tt.event)
			assert.Nil(t, done)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)

			var eventErr *EventError
			require.True(t, errors.As(err, &eventErr))
			assert.Equal(t, tt.event.Kind, eventErr.Kind)
			assert.Equal(t, tt.event.OrderID, eventErr.OrderID)

			after := book.Snapshot()
			assert.Equal(t, before.Seq, after.Seq)
			assert.Equal(t, before.Bids, after.Bids)
			assert.Equal(t, before.Asks, after.Asks)
		})
	}
}

func TestOrderBook_Spread(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("b", Bid, dec(99.5), dec(1), 1))

	_, ok := book.Spread()
	assert.False(t, ok)

	done := apply(t, book, NewInsertEvent("a", Ask, dec(100.25), dec(3), 2))
	spread, ok := book.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(dec(0.75)))

	// crossed books report a negative spread, nothing matches
	apply(t, book, NewInsertEvent("b2", Bid, dec(101), dec(1), 3))
	spread, ok = book.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(dec(-0.75)))
	assert.Equal(t, 3, book.Len())

	quote := done.Quote
	assert.True(t, quote.HasBid)
	assert.True(t, quote.HasAsk)
	assert.True(t, quote.AskQuantity.Equal(dec(3)))
}

func TestOrderBook_QuoteAndDepth(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("b1", Bid, dec(10), dec(1), 1))
	apply(t, book, NewInsertEvent("b2", Bid, dec(10), dec(2), 2))
	apply(t, book, NewInsertEvent("b3", Bid, dec(9), dec(4), 3))
	apply(t, book, NewInsertEvent("a1", Ask, dec(11), dec(5), 4))

	quote := book.Quote()
	assert.True(t, quote.BidPrice.Equal(dec(10)))
	assert.True(t, quote.BidQuantity.Equal(dec(3)))
	assert.True(t, quote.AskPrice.Equal(dec(11)))
	assert.True(t, quote.AskQuantity.Equal(dec(5)))

	depth := book.Depth(Bid, 0)
	require.Len(t, depth, 2)
	assert.True(t, depth[0].Price.Equal(dec(10)))
	assert.Equal(t, 2, depth[0].Count)
	assert.True(t, depth[1].Price.Equal(dec(9)))

	assert.Len(t, book.Depth(Bid, 1), 1)
	assert.Nil(t, book.Depth(Side(0), 1))
	assert.True(t, book.Volume(Bid).Equal(dec(7)))
	assert.True(t, book.Volume(Ask).Equal(dec(5)))

	_, _, ok := book.DepthAt(Side(0), dec(10))
	assert.False(t, ok)
}

func TestOrderBook_OrderState(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("b", Bid, dec(10), dec(1), 1))
	apply(t, book, NewInsertEvent("a", Ask, dec(11), dec(2), 2))

	state, err := book.OrderState("a")
	require.NoError(t, err)
	assert.Equal(t, OrderState{OrderID: "a", Side: Ask, Price: dec(11), Quantity: dec(2), Timestamp: 2}, state)

	state, err = book.OrderState("b")
	require.NoError(t, err)
	assert.Equal(t, Bid, state.Side)

	_, err = book.OrderState("missing")
	assert.ErrorIs(t, err, ErrUnknownOrderID)
}

func TestOrderBook_AmendPriceChangeLosesPriority(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("1", Ask, dec(10), dec(5), 1))
	apply(t, book, NewInsertEvent("2", Ask, dec(10), dec(5), 2))
	apply(t, book, NewInsertEvent("3", Ask, dec(11), dec(5), 3))

	// price change with a quantity decrease still requeues
	done := apply(t, book, NewAmendEvent("1", Ask, dec(11), dec(1), 4))
	assert.True(t, done.PriorityLost)
	assert.False(t, done.LevelCreated)
	assert.False(t, done.LevelRemoved)
	assert.Equal(t, []string{"3", "1"}, levelOrderIDs(t, book, Ask, 11))
	assertDepth(t, book, Ask, 10, 1, 5)
	assertDepth(t, book, Ask, 11, 2, 6)

	// quantity decrease at the same price keeps its place
	done = apply(t, book, NewAmendEvent("3", Ask, dec(11), dec(2), 5))
	assert.False(t, done.PriorityLost)
	assert.Equal(t, []string{"3", "1"}, levelOrderIDs(t, book, Ask, 11))
}

func TestOrderBook_AmendToZero(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		book := NewOrderBook()
		apply(t, book, NewInsertEvent("1", Bid, dec(10), dec(5), 1))

		_, err := book.Apply(context.Background(), NewAmendEvent("1", Bid, dec(10), fpdecimal.Zero, 2))
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		assert.Equal(t, 1, book.Len())
	})

	t.Run("cancels with option", func(t *testing.T) {
		book := NewOrderBook(WithAmendToZeroCancels())
		apply(t, book, NewInsertEvent("1", Bid, dec(10), dec(5), 1))

		done := apply(t, book, NewAmendEvent("1", Bid, dec(10), fpdecimal.Zero, 2))
		assert.True(t, done.Removed)
		assert.True(t, done.LevelRemoved)
		assert.Equal(t, 0, book.Len())

		_, err := book.Apply(context.Background(), NewAmendEvent("1", Bid, dec(10), fpdecimal.Zero, 3))
		assert.ErrorIs(t, err, ErrUnknownOrderID)
	})
}

func TestOrderBook_AssignsOrderIDs(t *testing.T) {
	n := 0
	book := NewOrderBook(WithOrderIDGenerator(func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}))

	done := apply(t, book, NewInsertEvent("", Bid, dec(10), dec(1), 1))
	assert.Equal(t, "gen-1", done.Event.OrderID)

	state, err := book.OrderState("gen-1")
	require.NoError(t, err)
	assert.True(t, state.Quantity.Equal(dec(1)))

	done = apply(t, book, NewInsertEvent("", Ask, dec(11), dec(1), 2))
	assert.Equal(t, "gen-2", done.Event.OrderID)

	// default generator produces uuids
	done = apply(t, NewOrderBook(), NewInsertEvent("", Ask, dec(11), dec(1), 2))
	assert.Len(t, done.Event.OrderID, 36)
}

func TestOrderBook_DoneToBookUpdate(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("b", Bid, dec(10), dec(1), 1))
	done := apply(t, book, NewInsertEvent("a", Ask, dec(12), dec(2), 2))

	update := done.ToBookUpdate("BTC-USD")
	require.NotNil(t, update)
	assert.Equal(t, "BTC-USD", update.Book)
	assert.Equal(t, uint64(2), update.Seq)
	assert.Equal(t, "INSERT", update.Kind)
	assert.Equal(t, "ASK", update.Side)
	assert.Equal(t, "a", update.OrderID)
	assert.Equal(t, "CREATED", update.LevelChange)
	assert.Equal(t, dec(10).String(), update.BestBid)
	assert.Equal(t, dec(12).String(), update.BestAsk)
	assert.Equal(t, dec(2).String(), update.Spread)

	done = apply(t, book, NewAmendEvent("a", Ask, dec(13), dec(2), 3))
	assert.Equal(t, "MOVED", done.ToBookUpdate("BTC-USD").LevelChange)

	var nilDone *Done
	assert.Nil(t, nilDone.ToBookUpdate("BTC-USD"))
}

func TestOrderBook_SnapshotRestore(t *testing.T) {
	book := NewOrderBook()
	apply(t, book, NewInsertEvent("b1", Bid, dec(10), dec(1), 1))
	apply(t, book, NewInsertEvent("b2", Bid, dec(10), dec(2), 2))
	apply(t, book, NewInsertEvent("b3", Bid, dec(9), dec(3), 3))
	apply(t, book, NewInsertEvent("a1", Ask, dec(11), dec(4), 4))
	apply(t, book, NewAmendEvent("b1", Bid, dec(10), dec(5), 5))

	snap := book.Snapshot()
	assert.Equal(t, uint64(5), snap.Seq)
	assert.Equal(t, 4, snap.Len())
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(dec(10)))
	assert.Equal(t, "b2", snap.Bids[0].Orders[0].OrderID)
	assert.Equal(t, "b1", snap.Bids[0].Orders[1].OrderID)

	restored := NewOrderBook()
	require.NoError(t, restored.Restore(context.Background(), snap))

	assert.Equal(t, book.String(), restored.String())
	assert.Equal(t, uint64(5), restored.Seq())
	assert.Equal(t, []string{"b2", "b1"}, levelOrderIDs(t, restored, Bid, 10))

	again := restored.Snapshot()
	assert.Equal(t, snap.Bids, again.Bids)
	assert.Equal(t, snap.Asks, again.Asks)

	// restored book keeps applying
	done := apply(t, restored, NewCancelEvent("a1", Ask, 6))
	assert.Equal(t, uint64(6), done.Seq)

	assert.ErrorIs(t, restored.Restore(context.Background(), snap), ErrBookNotEmpty)
}

func TestOrderBook_RestoreInvalid(t *testing.T) {
	order := func(id string, side Side, price float64) OrderState {
		return OrderState{OrderID: id, Side: side, Price: dec(price), Quantity: dec(1), Timestamp: 1}
	}

	tests := []struct {
		name string
		snap *Snapshot
	}{
		{name: "nil", snap: nil},
		{name: "wrong side", snap: &Snapshot{Bids: []LevelSnapshot{{Price: dec(10), Orders: []OrderState{order("x", Ask, 10)}}}}},
		{name: "price mismatch", snap: &Snapshot{Asks: []LevelSnapshot{{Price: dec(10), Orders: []OrderState{order("x", Ask, 11)}}}}},
		{name: "duplicate id", snap: &Snapshot{Asks: []LevelSnapshot{{Price: dec(10), Orders: []OrderState{order("x", Ask, 10), order("x", Ask, 10)}}}}},
		{name: "id on both sides", snap: &Snapshot{
			Bids: []LevelSnapshot{{Price: dec(9), Orders: []OrderState{order("x", Bid, 9)}}},
			Asks: []LevelSnapshot{{Price: dec(10), Orders: []OrderState{order("x", Ask, 10)}}},
		}},
		{name: "zero price", snap: &Snapshot{Asks: []LevelSnapshot{{Price: fpdecimal.Zero, Orders: []OrderState{order("x", Ask, 0)}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := NewOrderBook()
			err := book.Restore(context.Background(), tt.snap)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.Equal(t, 0, book.Len())
			assert.Equal(t, uint64(0), book.Seq())
		})
	}
}

func TestOrderBook_ConcurrentReaders(t *testing.T) {
	book := NewOrderBook()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					book.Quote()
					book.Depth(Bid, 5)
					book.Spread()
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		apply(t, book, NewInsertEvent(fmt.Sprintf("b-%d", i), Bid, dec(float64(100-i%10)), dec(1), int64(i)))
		if i%3 == 0 {
			apply(t, book, NewCancelEvent(fmt.Sprintf("b-%d", i), Bid, int64(i)))
		}
	}
	close(stop)
	wg.Wait()

	book.mu.RLock()
	checkSideInvariants(t, book.bids)
	book.mu.RUnlock()
	assert.Equal(t, 333, book.Len())
}
