package core

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"github.com/nikolaydubina/fpdecimal"
)

const priceLevelsBTreeDegree = 32

// SideBook holds the resting orders of one side. Levels are kept in a
// B-tree ordered best-first (descending prices for Bid, ascending for Ask),
// so the best level is always the tree minimum. A second index maps order
// ids to records for O(1) cancel and amend.
//
// SideBook is not safe for concurrent use; OrderBook serializes access.
type SideBook struct {
	side   Side
	less   btree.LessFunc[*PriceLevel]
	levels *btree.BTreeG[*PriceLevel]
	prices map[fpdecimal.Decimal]*PriceLevel
	orders map[string]handle
	arena  recordArena
	best   *PriceLevel
	worst  *PriceLevel
	volume fpdecimal.Decimal

	amendToZeroCancels bool
}

// sideChange records the structural effect of a SideBook mutation
type sideChange struct {
	levelCreated bool
	levelRemoved bool
	priorityLost bool
	removed      bool
}

// NewSideBook creates an empty side. It panics on an invalid side.
func NewSideBook(side Side) *SideBook {
	var less btree.LessFunc[*PriceLevel]
	switch side {
	case Bid:
		less = func(a, b *PriceLevel) bool { return a.price.GreaterThan(b.price) }
	case Ask:
		less = func(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }
	default:
		panic(fmt.Sprintf("invalid side %d", side))
	}

	return &SideBook{
		side:   side,
		less:   less,
		levels: btree.NewG(priceLevelsBTreeDegree, less),
		prices: make(map[fpdecimal.Decimal]*PriceLevel),
		orders: make(map[string]handle),
		volume: fpdecimal.Zero,
	}
}

// Side returns which side of the book this is
func (s *SideBook) Side() Side {
	return s.side
}

// Insert queues a new order at the tail of its price level.
func (s *SideBook) Insert(orderID string, price, quantity fpdecimal.Decimal, timestamp int64) error {
	_, err := s.insert(orderID, price, quantity, timestamp)
	return err
}

// Cancel removes an order from the side.
func (s *SideBook) Cancel(orderID string) error {
	_, err := s.cancel(orderID)
	return err
}

// Amend changes the price and/or quantity of a resting order. A price change
// or a quantity increase sends the order to the back of its level's queue.
func (s *SideBook) Amend(orderID string, price, quantity fpdecimal.Decimal, timestamp int64) error {
	_, err := s.amend(orderID, price, quantity, timestamp)
	return err
}

func (s *SideBook) insert(orderID string, price, quantity fpdecimal.Decimal, timestamp int64) (sideChange, error) {
	var ch sideChange

	if err := validatePrice(price); err != nil {
		return ch, err
	}
	if quantity.LessThanOrEqual(fpdecimal.Zero) {
		return ch, ErrInvalidQuantity
	}
	if _, exists := s.orders[orderID]; exists {
		return ch, ErrDuplicateOrderID
	}

	h := s.arena.alloc(OrderRecord{
		id:        orderID,
		side:      s.side,
		price:     price,
		quantity:  quantity,
		timestamp: timestamp,
	})
	s.orders[orderID] = h
	ch.levelCreated = s.place(h)

	return ch, nil
}

func (s *SideBook) cancel(orderID string) (sideChange, error) {
	var ch sideChange

	h, ok := s.orders[orderID]
	if !ok {
		return ch, ErrUnknownOrderID
	}

	ch.levelRemoved = s.unplace(h)
	ch.removed = true
	delete(s.orders, orderID)
	s.arena.release(h)

	return ch, nil
}

func (s *SideBook) amend(orderID string, price, quantity fpdecimal.Decimal, timestamp int64) (sideChange, error) {
	var ch sideChange

	h, ok := s.orders[orderID]
	if !ok {
		return ch, ErrUnknownOrderID
	}

	if quantity.Equal(fpdecimal.Zero) && s.amendToZeroCancels {
		return s.cancel(orderID)
	}
	if quantity.LessThanOrEqual(fpdecimal.Zero) {
		return ch, ErrInvalidQuantity
	}
	if err := validatePrice(price); err != nil {
		return ch, err
	}

	rec := s.arena.at(h)
	level := s.prices[rec.price]

	switch {
	case !price.Equal(rec.price):
		// re-enters at the tail of the new level whatever the quantity does
		ch.levelRemoved = s.unplace(h)
		rec.price = price
		rec.quantity = quantity
		rec.timestamp = timestamp
		ch.levelCreated = s.place(h)
		ch.priorityLost = true

	case quantity.GreaterThan(rec.quantity):
		level.moveToTail(h)
		s.resize(level, h, quantity)
		rec.timestamp = timestamp
		ch.priorityLost = true

	default:
		s.resize(level, h, quantity)
		rec.timestamp = timestamp
	}

	return ch, nil
}

// place appends a record to the level for its price, creating the level if
// needed. It reports whether a level was created.
func (s *SideBook) place(h handle) bool {
	rec := s.arena.at(h)
	quantity := rec.quantity

	level, created := s.prices[rec.price], false
	if level == nil {
		level = newPriceLevel(rec.price, &s.arena)
		s.levels.ReplaceOrInsert(level)
		s.prices[rec.price] = level
		if s.best == nil || s.less(level, s.best) {
			s.best = level
		}
		if s.worst == nil || s.less(s.worst, level) {
			s.worst = level
		}
		created = true
	}

	level.append(h)
	s.volume = s.volume.Add(quantity)
	return created
}

// unplace unlinks a record from its level, dropping the level when it
// empties. It reports whether a level was removed.
func (s *SideBook) unplace(h handle) bool {
	rec := s.arena.at(h)
	level := s.prices[rec.price]

	level.remove(h)
	s.volume = s.volume.Sub(rec.quantity)

	if level.count > 0 {
		return false
	}

	s.levels.Delete(level)
	delete(s.prices, level.price)
	if level == s.best {
		s.best, _ = s.levels.Min()
	}
	if level == s.worst {
		s.worst, _ = s.levels.Max()
	}
	return true
}

func (s *SideBook) resize(level *PriceLevel, h handle, quantity fpdecimal.Decimal) {
	delta := quantity.Sub(s.arena.at(h).quantity)
	level.setQuantity(h, quantity)
	s.volume = s.volume.Add(delta)
}

// BestPrice returns the most competitive price, or false if the side is empty
func (s *SideBook) BestPrice() (fpdecimal.Decimal, bool) {
	if s.best == nil {
		return fpdecimal.Zero, false
	}
	return s.best.price, true
}

// WorstPrice returns the least competitive price, or false if the side is empty
func (s *SideBook) WorstPrice() (fpdecimal.Decimal, bool) {
	if s.worst == nil {
		return fpdecimal.Zero, false
	}
	return s.worst.price, true
}

// DepthAt returns the order count and aggregate quantity at price
func (s *SideBook) DepthAt(price fpdecimal.Decimal) (count int, quantity fpdecimal.Decimal, ok bool) {
	level, exists := s.prices[price]
	if !exists {
		return 0, fpdecimal.Zero, false
	}
	return level.count, level.volume, true
}

// OrderState returns a copy of a resting order
func (s *SideBook) OrderState(orderID string) (OrderState, error) {
	h, ok := s.orders[orderID]
	if !ok {
		return OrderState{}, ErrUnknownOrderID
	}
	return s.arena.at(h).state(), nil
}

// Has reports whether orderID rests on this side
func (s *SideBook) Has(orderID string) bool {
	_, ok := s.orders[orderID]
	return ok
}

// Len returns the number of resting orders
func (s *SideBook) Len() int {
	return len(s.orders)
}

// LevelCount returns the number of price levels
func (s *SideBook) LevelCount() int {
	return s.levels.Len()
}

// Volume returns the total resting quantity on the side
func (s *SideBook) Volume() fpdecimal.Decimal {
	return s.volume
}

// Levels returns up to n levels best-first. n <= 0 returns all levels.
func (s *SideBook) Levels(n int) []LevelDepth {
	size := s.levels.Len()
	if n > 0 && n < size {
		size = n
	}

	depth := make([]LevelDepth, 0, size)
	s.levels.Ascend(func(level *PriceLevel) bool {
		depth = append(depth, LevelDepth{
			Price:    level.price,
			Count:    level.count,
			Quantity: level.volume,
		})
		return len(depth) < size
	})
	return depth
}

// Walk calls fn for every level best-first until fn returns false
func (s *SideBook) Walk(fn func(level *PriceLevel) bool) {
	s.levels.Ascend(btree.ItemIteratorG[*PriceLevel](fn))
}

// String implements fmt.Stringer interface
func (s *SideBook) String() string {
	sb := strings.Builder{}
	sb.WriteString(s.side.String())
	s.Walk(func(level *PriceLevel) bool {
		sb.WriteString("\n")
		sb.WriteString(level.String())
		return true
	})
	return sb.String()
}

func (s *SideBook) snapshot() []LevelSnapshot {
	levels := make([]LevelSnapshot, 0, s.levels.Len())
	s.Walk(func(level *PriceLevel) bool {
		levels = append(levels, LevelSnapshot{
			Price:  level.price,
			Orders: level.Orders(),
		})
		return true
	})
	return levels
}

func validatePrice(price fpdecimal.Decimal) error {
	if price.LessThanOrEqual(fpdecimal.Zero) {
		return ErrInvalidPrice
	}
	return nil
}
