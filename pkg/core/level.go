package core

import (
	"fmt"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// PriceLevel is the FIFO queue of orders resting at one price. Head is the
// order with the highest time priority.
type PriceLevel struct {
	price  fpdecimal.Decimal
	head   handle
	tail   handle
	count  int
	volume fpdecimal.Decimal
	arena  *recordArena
}

func newPriceLevel(price fpdecimal.Decimal, arena *recordArena) *PriceLevel {
	return &PriceLevel{
		price:  price,
		head:   nilHandle,
		tail:   nilHandle,
		volume: fpdecimal.Zero,
		arena:  arena,
	}
}

// Price returns the level price
func (l *PriceLevel) Price() fpdecimal.Decimal {
	return l.price
}

// Len returns the number of orders queued at the level
func (l *PriceLevel) Len() int {
	return l.count
}

// Volume returns the sum of the quantities queued at the level
func (l *PriceLevel) Volume() fpdecimal.Decimal {
	return l.volume
}

// Orders returns the queued orders head to tail
func (l *PriceLevel) Orders() []OrderState {
	orders := make([]OrderState, 0, l.count)
	for h := l.head; h != nilHandle; {
		rec := l.arena.at(h)
		orders = append(orders, rec.state())
		h = rec.next
	}
	return orders
}

// String implements fmt.Stringer interface
func (l *PriceLevel) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("%s -> orders: %d, volume: %s [", l.price, l.count, l.volume))
	for i, o := range l.Orders() {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%s:%s", o.OrderID, o.Quantity))
	}
	sb.WriteString("]")
	return sb.String()
}

// append pushes the record at the tail
func (l *PriceLevel) append(h handle) {
	rec := l.arena.at(h)
	rec.prev = l.tail
	rec.next = nilHandle

	if l.tail == nilHandle {
		l.head = h
	} else {
		l.arena.at(l.tail).next = h
	}
	l.tail = h

	l.count++
	l.volume = l.volume.Add(rec.quantity)
}

// remove unlinks the record from wherever it sits. An emptied level is left
// for the SideBook to drop.
func (l *PriceLevel) remove(h handle) {
	rec := l.arena.at(h)
	l.unlink(h)
	l.count--
	l.volume = l.volume.Sub(rec.quantity)
}

// moveToTail requeues the record behind every other order at the level
func (l *PriceLevel) moveToTail(h handle) {
	if l.tail == h {
		return
	}

	l.unlink(h)

	rec := l.arena.at(h)
	rec.prev = l.tail
	l.arena.at(l.tail).next = h
	l.tail = h
}

// setQuantity changes a queued record's quantity, keeping the level volume
// in step
func (l *PriceLevel) setQuantity(h handle, quantity fpdecimal.Decimal) {
	rec := l.arena.at(h)
	l.volume = l.volume.Sub(rec.quantity).Add(quantity)
	rec.quantity = quantity
}

func (l *PriceLevel) unlink(h handle) {
	rec := l.arena.at(h)

	if rec.prev != nilHandle {
		l.arena.at(rec.prev).next = rec.next
	} else {
		l.head = rec.next
	}

	if rec.next != nilHandle {
		l.arena.at(rec.next).prev = rec.prev
	} else {
		l.tail = rec.prev
	}

	rec.prev, rec.next = nilHandle, nilHandle
}
