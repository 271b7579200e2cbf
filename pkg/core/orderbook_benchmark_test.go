package core

import (
	"context"
	"math/rand"
	"strconv"
	"testing"
)

func BenchmarkOrderBook_Insert(b *testing.B) {
	ctx := context.Background()
	book := NewOrderBook()
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := Bid
		if i%2 == 1 {
			side = Ask
		}
		price := dec(float64(1000 + rng.Intn(200)))
		if _, err := book.Apply(ctx, NewInsertEvent(strconv.Itoa(i), side, price, dec(1), int64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOrderBook_InsertCancel(b *testing.B) {
	ctx := context.Background()
	book := NewOrderBook()
	// resting depth so cancels hit populated levels
	for i := 0; i < 10000; i++ {
		book.Apply(ctx, NewInsertEvent("rest-"+strconv.Itoa(i), Bid, dec(float64(1000-i%100)), dec(1), 0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := strconv.Itoa(i)
		if _, err := book.Apply(ctx, NewInsertEvent(id, Bid, dec(float64(1000-i%100)), dec(1), int64(i))); err != nil {
			b.Fatal(err)
		}
		if _, err := book.Apply(ctx, NewCancelEvent(id, Bid, int64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOrderBook_Amend(b *testing.B) {
	ctx := context.Background()
	book := NewOrderBook()
	for i := 0; i < 1000; i++ {
		book.Apply(ctx, NewInsertEvent(strconv.Itoa(i), Ask, dec(float64(2000+i%50)), dec(10), 0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := strconv.Itoa(i % 1000)
		// alternate decrease and restore to exercise both amend paths
		qty := dec(5)
		if i%2 == 1 {
			qty = dec(10)
		}
		if _, err := book.Apply(ctx, NewAmendEvent(id, Ask, dec(float64(2000+(i%1000)%50)), qty, int64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOrderBook_Quote(b *testing.B) {
	ctx := context.Background()
	book := NewOrderBook()
	for i := 0; i < 1000; i++ {
		book.Apply(ctx, NewInsertEvent("b"+strconv.Itoa(i), Bid, dec(float64(100+i%20)), dec(1), 0))
		book.Apply(ctx, NewInsertEvent("a"+strconv.Itoa(i), Ask, dec(float64(121+i%20)), dec(1), 0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Quote()
	}
}
