package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/nikolaydubina/fpdecimal"
	"golang.org/x/time/rate"

	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/feed"
)

const (
	// latencies are recorded in nanoseconds, up to 10ms
	maxLatency = int64(10 * time.Millisecond)
	sigFigures = 3
)

type options struct {
	workers     int
	perWorker   int
	rate        int
	midPrice    float64
	priceLevels int
	kafka       bool
	brokers     string
	topic       string
}

// generator produces a random mix of inserts, cancels and amends over the
// orders it owns
type generator struct {
	r      *rand.Rand
	prefix string
	opts   options
	next   int
	live   []string
	sides  map[string]core.Side
}

func newGenerator(worker int, opts options) *generator {
	return &generator{
		r:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker))),
		prefix: fmt.Sprintf("w%d-", worker),
		opts:   opts,
		sides:  make(map[string]core.Side),
	}
}

func (g *generator) price(side core.Side) fpdecimal.Decimal {
	tick := float64(g.r.Intn(g.opts.priceLevels)+1) * 0.01
	if side == core.Bid {
		return fpdecimal.FromFloat(g.opts.midPrice - tick)
	}
	return fpdecimal.FromFloat(g.opts.midPrice + tick)
}

func (g *generator) quantity() fpdecimal.Decimal {
	return fpdecimal.FromFloat(float64(g.r.Intn(100) + 1))
}

func (g *generator) event() core.OrderEvent {
	ts := time.Now().UnixNano()
	roll := g.r.Float64()

	if len(g.live) == 0 || roll < 0.5 {
		side := core.Bid
		if g.r.Intn(2) == 1 {
			side = core.Ask
		}
		id := fmt.Sprintf("%s%d", g.prefix, g.next)
		g.next++
		g.live = append(g.live, id)
		g.sides[id] = side
		return core.NewInsertEvent(id, side, g.price(side), g.quantity(), ts)
	}

	i := g.r.Intn(len(g.live))
	id := g.live[i]
	side := g.sides[id]
	if roll < 0.75 {
		g.live[i] = g.live[len(g.live)-1]
		g.live = g.live[:len(g.live)-1]
		delete(g.sides, id)
		return core.NewCancelEvent(id, side, ts)
	}
	return core.NewAmendEvent(id, side, g.price(side), g.quantity(), ts)
}

func main() {
	var opts options
	flag.IntVar(&opts.workers, "workers", 8, "number of concurrent workers")
	flag.IntVar(&opts.perWorker, "events", 100000, "events generated per worker")
	flag.IntVar(&opts.rate, "rate", 0, "max events per second across all workers, 0 for unlimited")
	flag.Float64Var(&opts.midPrice, "mid", 100.0, "mid price the generated orders are placed around")
	flag.IntVar(&opts.priceLevels, "levels", 50, "price levels per side")
	flag.BoolVar(&opts.kafka, "kafka", false, "publish events to the feed instead of applying them locally")
	flag.StringVar(&opts.brokers, "brokers", feed.DefaultBroker, "comma separated Kafka brokers")
	flag.StringVar(&opts.topic, "topic", feed.DefaultTopic, "feed topic")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), opts.workers)
	}

	var (
		apply func(ctx context.Context, event core.OrderEvent) error
		book  *core.OrderBook
	)
	if opts.kafka {
		publisher, err := feed.NewEventPublisher(feed.Config{
			Brokers: strings.Split(opts.brokers, ","),
			Topic:   opts.topic,
		})
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		defer publisher.Close()
		apply = func(_ context.Context, event core.OrderEvent) error {
			_, err := publisher.Publish(event)
			return err
		}
		log.Printf("Publishing to %s on %s", opts.topic, opts.brokers)
	} else {
		book = core.NewOrderBook()
		apply = func(ctx context.Context, event core.OrderEvent) error {
			_, err := book.Apply(ctx, event)
			return err
		}
	}

	histograms := make([]*hdrhistogram.Histogram, opts.workers)
	rejected := make([]int, opts.workers)
	var wg sync.WaitGroup

	start := time.Now()
	log.Printf("Starting %d workers, %d events per worker...", opts.workers, opts.perWorker)

	for i := 0; i < opts.workers; i++ {
		histograms[i] = hdrhistogram.New(1, maxLatency, sigFigures)
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			gen := newGenerator(worker, opts)
			hist := histograms[worker]
			for j := 0; j < opts.perWorker; j++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				event := gen.event()
				began := time.Now()
				err := apply(ctx, event)
				_ = hist.RecordValue(min(time.Since(began).Nanoseconds(), maxLatency))

				var eventErr *core.EventError
				if errors.As(err, &eventErr) {
					rejected[worker]++
				} else if err != nil {
					log.Printf("Worker %d stopped: %v", worker, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	total := hdrhistogram.New(1, maxLatency, sigFigures)
	rejects := 0
	for i, h := range histograms {
		total.Merge(h)
		rejects += rejected[i]
	}

	count := total.TotalCount()
	log.Printf("Load test completed in %v", duration)
	log.Printf("Events applied: %d (%.0f/s)", count, float64(count)/duration.Seconds())
	log.Printf("Events rejected: %d", rejects)
	for _, q := range []float64{50, 90, 99, 99.9} {
		log.Printf("p%-5v %v", q, time.Duration(total.ValueAtQuantile(q)))
	}
	log.Printf("max    %v", time.Duration(total.Max()))

	if book != nil {
		quote := book.Quote()
		log.Printf("Resting orders: %d, seq: %d", book.Len(), book.Seq())
		if spread, ok := quote.Spread(); ok {
			log.Printf("Best bid %s, best ask %s, spread %s", quote.BidPrice, quote.AskPrice, spread)
		}
	}
}
