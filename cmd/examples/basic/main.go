package main

import (
	"context"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/lobook/pkg/core"
)

func main() {
	ctx := context.Background()
	book := core.NewOrderBook()
	price := fpdecimal.FromFloat(10.0)

	apply := func(event core.OrderEvent) {
		done, err := book.Apply(ctx, event)
		if err != nil {
			panic(err)
		}
		fmt.Printf("seq=%d %s %s %s\n", done.Seq, event.Kind, event.Side, event.OrderID)
	}

	printDepth := func() {
		count, qty, ok := book.DepthAt(core.Bid, price)
		if !ok {
			fmt.Println("  bid level 10: none")
			return
		}
		fmt.Printf("  bid level 10: %d orders, quantity %s\n", count, qty)
	}

	// Insert a bid
	apply(core.NewInsertEvent("1", core.Bid, price, fpdecimal.FromFloat(100.0), 1))
	bid, _ := book.BestBid()
	fmt.Printf("  best bid: %s\n", bid)
	printDepth()

	// A second bid at the same price queues behind the first
	apply(core.NewInsertEvent("2", core.Bid, price, fpdecimal.FromFloat(50.0), 2))
	printDepth()

	// Increasing the quantity sends order 1 to the back of the level
	apply(core.NewAmendEvent("1", core.Bid, price, fpdecimal.FromFloat(200.0), 3))
	printDepth()
	for _, lvl := range book.Snapshot().Bids {
		for _, o := range lvl.Orders {
			fmt.Printf("  queue: %s qty=%s\n", o.OrderID, o.Quantity)
		}
	}

	// Cancel both; the level goes away with the last order
	apply(core.NewCancelEvent("2", core.Bid, 4))
	printDepth()
	apply(core.NewCancelEvent("1", core.Bid, 5))
	printDepth()
	if _, ok := book.BestBid(); !ok {
		fmt.Println("  best bid: none")
	}

	// The lowest ask is the best ask
	apply(core.NewInsertEvent("3", core.Ask, fpdecimal.FromFloat(11.0), fpdecimal.FromFloat(30.0), 6))
	apply(core.NewInsertEvent("4", core.Ask, fpdecimal.FromFloat(9.0), fpdecimal.FromFloat(20.0), 7))
	ask, _ := book.BestAsk()
	fmt.Printf("  best ask: %s\n", ask)

	// Rejected events leave the book untouched
	if _, err := book.Apply(ctx, core.NewCancelEvent("42", core.Ask, 8)); err != nil {
		fmt.Printf("  rejected: %v\n", err)
	}

	fmt.Println()
	fmt.Println(book)
}
