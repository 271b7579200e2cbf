package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents the bid or ask half of the book
type Side int

// Order sides. The zero value is not a valid side.
const (
	Bid Side = iota + 1
	Ask
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	switch s {
	case Bid:
		return Ask
	case Ask:
		return Bid
	default:
		return s
	}
}

// IsValid reports whether s is Bid or Ask
func (s Side) IsValid() bool {
	return s == Bid || s == Ask
}

// ParseSide parses BID/BUY and ASK/SELL, case-insensitively
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BID", "BUY":
		return Bid, nil
	case "ASK", "SELL":
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
}

// handle addresses an OrderRecord inside a side's record arena
type handle int32

const nilHandle handle = -1

// OrderRecord is the resident representation of one live order. Records are
// owned by the price level they are queued in and are only mutated through
// the SideBook that holds them.
type OrderRecord struct {
	id        string
	side      Side
	price     fpdecimal.Decimal
	quantity  fpdecimal.Decimal
	timestamp int64

	prev handle
	next handle
}

// ID returns the order id
func (r *OrderRecord) ID() string {
	return r.id
}

// Side returns side of the order
func (r *OrderRecord) Side() Side {
	return r.side
}

// Price returns the price of the level the order is queued in
func (r *OrderRecord) Price() fpdecimal.Decimal {
	return r.price
}

// Quantity returns the resting quantity
func (r *OrderRecord) Quantity() fpdecimal.Decimal {
	return r.quantity
}

// Timestamp returns the timestamp of the last insert or amend
func (r *OrderRecord) Timestamp() int64 {
	return r.timestamp
}

func (r *OrderRecord) state() OrderState {
	return OrderState{
		OrderID:   r.id,
		Side:      r.side,
		Price:     r.price,
		Quantity:  r.quantity,
		Timestamp: r.timestamp,
	}
}

// OrderState is a point-in-time copy of a resident order
type OrderState struct {
	OrderID   string
	Side      Side
	Price     fpdecimal.Decimal
	Quantity  fpdecimal.Decimal
	Timestamp int64
}

type orderStateJSON struct {
	OrderID   string `json:"orderId"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalJSON implements custom JSON marshaling for OrderState
func (s OrderState) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderStateJSON{
		OrderID:   s.OrderID,
		Side:      s.Side.String(),
		Price:     s.Price.String(),
		Quantity:  s.Quantity.String(),
		Timestamp: s.Timestamp,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for OrderState
func (s *OrderState) UnmarshalJSON(data []byte) error {
	var raw orderStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	side, err := ParseSide(raw.Side)
	if err != nil {
		return err
	}
	price, err := fpdecimal.FromString(raw.Price)
	if err != nil {
		return fmt.Errorf("order %q price: %w", raw.OrderID, err)
	}
	quantity, err := fpdecimal.FromString(raw.Quantity)
	if err != nil {
		return fmt.Errorf("order %q quantity: %w", raw.OrderID, err)
	}

	*s = OrderState{
		OrderID:   raw.OrderID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Timestamp: raw.Timestamp,
	}
	return nil
}
