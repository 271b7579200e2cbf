package core

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrDuplicateOrderID = errors.New("duplicate order id")
	ErrUnknownOrderID   = errors.New("unknown order id")
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrUnknownSide      = errors.New("unknown side")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrBookNotEmpty     = errors.New("order book is not empty")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// EventError reports an event the book refused to apply. Err is one of the
// sentinel errors above, so errors.Is works on the wrapped value.
type EventError struct {
	Kind    EventKind
	Side    Side
	OrderID string
	Err     error
}

// Error implements the error interface
func (e *EventError) Error() string {
	return fmt.Sprintf("%s %s order %q: %v", e.Kind, e.Side, e.OrderID, e.Err)
}

// Unwrap returns the underlying sentinel error
func (e *EventError) Unwrap() error {
	return e.Err
}
