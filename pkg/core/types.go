package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erain9/lobook/pkg/messaging"
	"github.com/nikolaydubina/fpdecimal"
)

// EventKind tags an OrderEvent
type EventKind int

// Event kinds. The zero value is not a valid kind.
const (
	Insert EventKind = iota + 1
	Cancel
	Amend
)

// String returns kind as string
func (k EventKind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Cancel:
		return "CANCEL"
	case Amend:
		return "AMEND"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether k is one of Insert, Cancel or Amend
func (k EventKind) IsValid() bool {
	return k == Insert || k == Cancel || k == Amend
}

// ParseEventKind parses INSERT/CANCEL/AMEND, case-insensitively
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT", "NEW", "ADD":
		return Insert, nil
	case "CANCEL", "REMOVE", "DELETE":
		return Cancel, nil
	case "AMEND", "UPDATE", "MODIFY":
		return Amend, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
	}
}

// OrderEvent is a normalized instruction from the feed. Price and Quantity
// are ignored for Cancel. An Insert with an empty OrderID gets an id
// assigned by the book.
type OrderEvent struct {
	Kind      EventKind
	OrderID   string
	Side      Side
	Price     fpdecimal.Decimal
	Quantity  fpdecimal.Decimal
	Timestamp int64
}

// NewInsertEvent creates an Insert event
func NewInsertEvent(orderID string, side Side, price, quantity fpdecimal.Decimal, timestamp int64) OrderEvent {
	return OrderEvent{Kind: Insert, OrderID: orderID, Side: side, Price: price, Quantity: quantity, Timestamp: timestamp}
}

// NewCancelEvent creates a Cancel event
func NewCancelEvent(orderID string, side Side, timestamp int64) OrderEvent {
	return OrderEvent{Kind: Cancel, OrderID: orderID, Side: side, Timestamp: timestamp}
}

// NewAmendEvent creates an Amend event
func NewAmendEvent(orderID string, side Side, price, quantity fpdecimal.Decimal, timestamp int64) OrderEvent {
	return OrderEvent{Kind: Amend, OrderID: orderID, Side: side, Price: price, Quantity: quantity, Timestamp: timestamp}
}

type orderEventJSON struct {
	Kind      string `json:"kind"`
	OrderID   string `json:"orderId"`
	Side      string `json:"side"`
	Price     string `json:"price,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalJSON implements Marshaler interface
func (e OrderEvent) MarshalJSON() ([]byte, error) {
	raw := orderEventJSON{
		Kind:      e.Kind.String(),
		OrderID:   e.OrderID,
		Side:      e.Side.String(),
		Timestamp: e.Timestamp,
	}
	if e.Kind != Cancel {
		raw.Price = e.Price.String()
		raw.Quantity = e.Quantity.String()
	}
	return json.Marshal(raw)
}

// UnmarshalJSON implements Unmarshaler interface. Unrecognized kind and side
// tags decode to their zero values so that Apply reports them as typed
// failures; malformed numbers are decode errors.
func (e *OrderEvent) UnmarshalJSON(data []byte) error {
	var raw orderEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind, _ := ParseEventKind(raw.Kind)
	side, _ := ParseSide(raw.Side)

	price := fpdecimal.Zero
	if raw.Price != "" {
		p, err := fpdecimal.FromString(raw.Price)
		if err != nil {
			return fmt.Errorf("event %q price: %w", raw.OrderID, err)
		}
		price = p
	}

	quantity := fpdecimal.Zero
	if raw.Quantity != "" {
		q, err := fpdecimal.FromString(raw.Quantity)
		if err != nil {
			return fmt.Errorf("event %q quantity: %w", raw.OrderID, err)
		}
		quantity = q
	}

	*e = OrderEvent{
		Kind:      kind,
		OrderID:   raw.OrderID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Timestamp: raw.Timestamp,
	}
	return nil
}

// Quote is the top of book: best price and resting quantity at it on each
// side.
type Quote struct {
	BidPrice    fpdecimal.Decimal
	BidQuantity fpdecimal.Decimal
	HasBid      bool
	AskPrice    fpdecimal.Decimal
	AskQuantity fpdecimal.Decimal
	HasAsk      bool
}

// Spread returns ask minus bid, or false if either side is empty
func (q Quote) Spread() (fpdecimal.Decimal, bool) {
	if !q.HasBid || !q.HasAsk {
		return fpdecimal.Zero, false
	}
	return q.AskPrice.Sub(q.BidPrice), true
}

// LevelDepth is the aggregate view of one price level
type LevelDepth struct {
	Price    fpdecimal.Decimal
	Count    int
	Quantity fpdecimal.Decimal
}

// Done describes the effect of one applied event
type Done struct {
	// Sequence number of the event within the book
	Seq uint64
	// Event as applied, with the assigned order id for book-assigned inserts
	Event OrderEvent
	// A new price level was created
	LevelCreated bool
	// A price level was emptied and removed
	LevelRemoved bool
	// The order lost time priority (amend with a price change or a quantity increase)
	PriorityLost bool
	// The order left the book
	Removed bool
	// Top of book after the event
	Quote Quote
}

// levelChange summarizes the structural change for market data consumers
func (d *Done) levelChange() string {
	switch {
	case d.LevelCreated && d.LevelRemoved:
		return "MOVED"
	case d.LevelCreated:
		return "CREATED"
	case d.LevelRemoved:
		return "REMOVED"
	default:
		return ""
	}
}

// ToBookUpdate converts Done to the market-data message for book.
func (d *Done) ToBookUpdate(book string) *messaging.BookUpdate {
	if d == nil {
		return nil
	}

	update := &messaging.BookUpdate{
		Book:        book,
		Seq:         d.Seq,
		Kind:        d.Event.Kind.String(),
		Side:        d.Event.Side.String(),
		OrderID:     d.Event.OrderID,
		Timestamp:   d.Event.Timestamp,
		LevelChange: d.levelChange(),
	}
	if d.Quote.HasBid {
		update.BestBid = d.Quote.BidPrice.String()
		update.BestBidQty = d.Quote.BidQuantity.String()
	}
	if d.Quote.HasAsk {
		update.BestAsk = d.Quote.AskPrice.String()
		update.BestAskQty = d.Quote.AskQuantity.String()
	}
	if spread, ok := d.Quote.Spread(); ok {
		update.Spread = spread.String()
	}
	return update
}

// Snapshot is an immutable copy of the book: levels best-first per side,
// each with its orders in FIFO order.
type Snapshot struct {
	Seq     uint64    `json:"seq"`
	TakenAt time.Time `json:"takenAt"`
	// Cursor is the feed position to resume from after a restore. The book
	// never sets it; whoever drives the book from a feed does.
	Cursor int64           `json:"cursor"`
	Bids   []LevelSnapshot `json:"bids"`
	Asks   []LevelSnapshot `json:"asks"`
}

// Len returns the number of orders in the snapshot
func (s *Snapshot) Len() int {
	n := 0
	for _, lvl := range s.Bids {
		n += len(lvl.Orders)
	}
	for _, lvl := range s.Asks {
		n += len(lvl.Orders)
	}
	return n
}

// LevelSnapshot is one price level inside a Snapshot
type LevelSnapshot struct {
	Price  fpdecimal.Decimal
	Orders []OrderState
}

// MarshalJSON implements Marshaler interface
func (l LevelSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price  string       `json:"price"`
		Orders []OrderState `json:"orders"`
	}{
		Price:  l.Price.String(),
		Orders: l.Orders,
	})
}

// UnmarshalJSON implements Unmarshaler interface
func (l *LevelSnapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Price  string       `json:"price"`
		Orders []OrderState `json:"orders"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := fpdecimal.FromString(raw.Price)
	if err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	l.Price = price
	l.Orders = raw.Orders
	return nil
}
