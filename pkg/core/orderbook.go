package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/lobook/pkg/logging"
	"github.com/erain9/lobook/pkg/otel"
	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OrderBook maintains the resting orders of a single instrument. Apply takes
// the write lock for one event; queries take the read lock, so one writer
// and any number of readers may share a book.
type OrderBook struct {
	mu   sync.RWMutex
	bids *SideBook
	asks *SideBook
	seq  uint64

	amendToZeroCancels bool
	newOrderID         func() string
	metrics            *otel.BookMetrics
}

// Option configures an OrderBook
type Option func(*OrderBook)

// WithAmendToZeroCancels makes an amend to a zero quantity remove the order,
// so an external fill that exhausts an order can be reported as an amend.
// Without it such amends fail with ErrInvalidQuantity.
func WithAmendToZeroCancels() Option {
	return func(ob *OrderBook) {
		ob.amendToZeroCancels = true
	}
}

// WithOrderIDGenerator replaces the uuid generator used for inserts that
// arrive without an order id
func WithOrderIDGenerator(fn func() string) Option {
	return func(ob *OrderBook) {
		ob.newOrderID = fn
	}
}

// NewOrderBook creates an empty OrderBook
func NewOrderBook(opts ...Option) *OrderBook {
	ob := &OrderBook{
		newOrderID: uuid.NewString,
		metrics:    otel.GetBookMetrics(),
	}
	for _, opt := range opts {
		opt(ob)
	}
	ob.bids = ob.newSide(Bid)
	ob.asks = ob.newSide(Ask)
	return ob
}

func (ob *OrderBook) newSide(side Side) *SideBook {
	s := NewSideBook(side)
	s.amendToZeroCancels = ob.amendToZeroCancels
	return s
}

// Apply applies one event to the book. Failures are returned as *EventError
// and leave the book untouched.
func (ob *OrderBook) Apply(ctx context.Context, event OrderEvent) (*Done, error) {
	ctx, span := otel.StartBookSpan(ctx, otel.SpanApplyEvent,
		attribute.String(otel.AttributeEventKind, event.Kind.String()),
		attribute.String(otel.AttributeOrderID, event.OrderID),
		attribute.String(otel.AttributeOrderSide, event.Side.String()),
		attribute.String(otel.AttributeOrderQuantity, event.Quantity.String()),
		attribute.String(otel.AttributeOrderPrice, event.Price.String()),
	)
	defer span.End()

	logger := logging.FromContext(ctx)

	ob.mu.Lock()
	done, err := ob.apply(event)
	ob.mu.Unlock()

	if err != nil {
		reason := rejectReason(err)
		ob.metrics.RecordRejected(ctx, event.Kind.String(), reason)
		span.SetStatus(codes.Error, reason)
		logger.Warn().
			Err(err).
			Str("kind", event.Kind.String()).
			Str("side", event.Side.String()).
			Str("order_id", event.OrderID).
			Msg("Event rejected")
		return nil, err
	}

	ob.metrics.RecordApplied(ctx, event.Kind.String(), event.Side.String())
	switch {
	case event.Kind == Insert:
		ob.metrics.AddResting(ctx, 1)
	case done.Removed:
		ob.metrics.AddResting(ctx, -1)
	}

	otel.AddAttributes(span,
		attribute.Int64(otel.AttributeBookSeq, int64(done.Seq)),
		attribute.Bool(otel.AttributeLevelCreated, done.LevelCreated),
		attribute.Bool(otel.AttributeLevelRemoved, done.LevelRemoved),
		attribute.Bool(otel.AttributePriorityLost, done.PriorityLost),
	)
	span.SetStatus(codes.Ok, "event applied")

	logger.Debug().
		Uint64("seq", done.Seq).
		Str("kind", done.Event.Kind.String()).
		Str("side", done.Event.Side.String()).
		Str("order_id", done.Event.OrderID).
		Str("price", done.Event.Price.String()).
		Str("quantity", done.Event.Quantity.String()).
		Bool("level_created", done.LevelCreated).
		Bool("level_removed", done.LevelRemoved).
		Bool("priority_lost", done.PriorityLost).
		Msg("Event applied")

	return done, nil
}

// apply must be called with the write lock held
func (ob *OrderBook) apply(event OrderEvent) (*Done, error) {
	fail := func(err error) (*Done, error) {
		return nil, &EventError{Kind: event.Kind, Side: event.Side, OrderID: event.OrderID, Err: err}
	}

	if !event.Kind.IsValid() {
		return fail(ErrUnknownEventKind)
	}

	side, err := ob.sideBook(event.Side)
	if err != nil {
		return fail(err)
	}

	var ch sideChange
	switch event.Kind {
	case Insert:
		if event.OrderID == "" {
			event.OrderID = ob.newOrderID()
		}
		if ob.sideOf(event.Side.Opposite()).Has(event.OrderID) {
			return fail(ErrDuplicateOrderID)
		}
		ch, err = side.insert(event.OrderID, event.Price, event.Quantity, event.Timestamp)
	case Cancel:
		ch, err = side.cancel(event.OrderID)
	case Amend:
		ch, err = side.amend(event.OrderID, event.Price, event.Quantity, event.Timestamp)
	}
	if err != nil {
		return fail(err)
	}

	ob.seq++
	return &Done{
		Seq:          ob.seq,
		Event:        event,
		LevelCreated: ch.levelCreated,
		LevelRemoved: ch.levelRemoved,
		PriorityLost: ch.priorityLost,
		Removed:      ch.removed,
		Quote:        ob.quote(),
	}, nil
}

func (ob *OrderBook) sideBook(side Side) (*SideBook, error) {
	switch side {
	case Bid:
		return ob.bids, nil
	case Ask:
		return ob.asks, nil
	default:
		return nil, ErrUnknownSide
	}
}

// sideOf is sideBook for sides already known to be valid
func (ob *OrderBook) sideOf(side Side) *SideBook {
	if side == Bid {
		return ob.bids
	}
	return ob.asks
}

func rejectReason(err error) string {
	for _, sentinel := range []error{
		ErrDuplicateOrderID,
		ErrUnknownOrderID,
		ErrUnknownEventKind,
		ErrUnknownSide,
		ErrInvalidQuantity,
		ErrInvalidPrice,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "unknown"
}

// BestBid returns the highest bid price, or false if there are no bids
func (ob *OrderBook) BestBid() (fpdecimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.BestPrice()
}

// BestAsk returns the lowest ask price, or false if there are no asks
func (ob *OrderBook) BestAsk() (fpdecimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks.BestPrice()
}

// Spread returns best ask minus best bid, or false if either side is empty
func (ob *OrderBook) Spread() (fpdecimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.quote().Spread()
}

// Quote returns the top of book
func (ob *OrderBook) Quote() Quote {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.quote()
}

func (ob *OrderBook) quote() Quote {
	var q Quote
	if lvl := ob.bids.best; lvl != nil {
		q.BidPrice, q.BidQuantity, q.HasBid = lvl.price, lvl.volume, true
	}
	if lvl := ob.asks.best; lvl != nil {
		q.AskPrice, q.AskQuantity, q.HasAsk = lvl.price, lvl.volume, true
	}
	return q
}

// DepthAt returns the order count and aggregate quantity at price on side
func (ob *OrderBook) DepthAt(side Side, price fpdecimal.Decimal) (count int, quantity fpdecimal.Decimal, ok bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	s, err := ob.sideBook(side)
	if err != nil {
		return 0, fpdecimal.Zero, false
	}
	return s.DepthAt(price)
}

// Depth returns up to n levels of side best-first; n <= 0 returns all
func (ob *OrderBook) Depth(side Side, n int) []LevelDepth {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	s, err := ob.sideBook(side)
	if err != nil {
		return nil
	}
	return s.Levels(n)
}

// OrderState returns a copy of a resting order on either side
func (ob *OrderBook) OrderState(orderID string) (OrderState, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if state, err := ob.bids.OrderState(orderID); err == nil {
		return state, nil
	}
	return ob.asks.OrderState(orderID)
}

// Volume returns the total resting quantity on side
func (ob *OrderBook) Volume(side Side) fpdecimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	s, err := ob.sideBook(side)
	if err != nil {
		return fpdecimal.Zero
	}
	return s.Volume()
}

// Len returns the number of resting orders on both sides
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.Len() + ob.asks.Len()
}

// Seq returns the number of events applied, including those restored from a
// snapshot
func (ob *OrderBook) Seq() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.seq
}

// String implements fmt.Stringer interface
func (ob *OrderBook) String() string {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return fmt.Sprintf("%s\n------\n%s", ob.asks, ob.bids)
}

// Snapshot returns an immutable copy of the book
func (ob *OrderBook) Snapshot() *Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return &Snapshot{
		Seq:     ob.seq,
		TakenAt: time.Now().UTC(),
		Bids:    ob.bids.snapshot(),
		Asks:    ob.asks.snapshot(),
	}
}

// Restore loads a snapshot into an empty book, replaying each level's orders
// in FIFO order. The book is left untouched if it is not empty or the
// snapshot is inconsistent.
func (ob *OrderBook) Restore(ctx context.Context, snap *Snapshot) error {
	ctx, span := otel.StartBookSpan(ctx, otel.SpanRestoreBook)
	defer span.End()

	fail := func(err error) error {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if snap == nil {
		return fail(fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot))
	}

	bids, err := ob.restoreSide(Bid, snap.Bids)
	if err != nil {
		return fail(err)
	}
	asks, err := ob.restoreSide(Ask, snap.Asks)
	if err != nil {
		return fail(err)
	}
	for id := range bids.orders {
		if asks.Has(id) {
			return fail(fmt.Errorf("%w: order %q on both sides", ErrInvalidSnapshot, id))
		}
	}

	ob.mu.Lock()
	if ob.bids.Len()+ob.asks.Len() > 0 {
		ob.mu.Unlock()
		return fail(ErrBookNotEmpty)
	}
	ob.bids, ob.asks, ob.seq = bids, asks, snap.Seq
	ob.mu.Unlock()

	resting := bids.Len() + asks.Len()
	ob.metrics.AddResting(ctx, int64(resting))
	otel.AddAttributes(span,
		attribute.Int64(otel.AttributeBookSeq, int64(snap.Seq)),
		attribute.Int(otel.AttributeSnapshotSize, resting),
	)

	logger := logging.FromContext(ctx)
	logger.Info().
		Uint64("seq", snap.Seq).
		Int("orders", resting).
		Int("bid_levels", bids.LevelCount()).
		Int("ask_levels", asks.LevelCount()).
		Msg("Order book restored from snapshot")

	return nil
}

func (ob *OrderBook) restoreSide(side Side, levels []LevelSnapshot) (*SideBook, error) {
	s := ob.newSide(side)
	for _, level := range levels {
		for _, order := range level.Orders {
			if order.Side != side {
				return nil, fmt.Errorf("%w: order %q is %s, found on %s side", ErrInvalidSnapshot, order.OrderID, order.Side, side)
			}
			if !order.Price.Equal(level.Price) {
				return nil, fmt.Errorf("%w: order %q price %s in level %s", ErrInvalidSnapshot, order.OrderID, order.Price, level.Price)
			}
			if err := s.Insert(order.OrderID, order.Price, order.Quantity, order.Timestamp); err != nil {
				return nil, fmt.Errorf("%w: order %q: %v", ErrInvalidSnapshot, order.OrderID, err)
			}
		}
	}
	return s, nil
}
