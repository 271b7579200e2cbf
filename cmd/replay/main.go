// Command replay applies a JSON-lines file of order events to an empty book
// and prints the resulting book.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/erain9/lobook/pkg/core"
	"github.com/erain9/lobook/pkg/feed"
	"github.com/erain9/lobook/pkg/logging"
)

// maxLine bounds a single event line
const maxLine = 1 << 20

type stats struct {
	applied  int
	rejected int
	invalid  int
}

func main() {
	input := flag.String("in", "-", "events file, - for stdin")
	depth := flag.Int("depth", 10, "levels per side to print, 0 for all")
	dumpYAML := flag.Bool("yaml", false, "print the final snapshot as YAML instead of a table")
	zeroCancels := flag.Bool("amend_zero_cancels", false, "treat an amend to zero quantity as a cancel")
	logLevel := flag.String("log_level", "warn", "log level")
	flag.Parse()

	logger := logging.Setup(logging.Config{
		Level:  *logLevel,
		Pretty: true,
		Output: os.Stderr,
	})
	ctx := logger.WithContext(context.Background())

	r := io.Reader(os.Stdin)
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *input).Msg("Failed to open events file")
		}
		defer f.Close()
		r = f
	}

	var opts []core.Option
	if *zeroCancels {
		opts = append(opts, core.WithAmendToZeroCancels())
	}
	book := core.NewOrderBook(opts...)

	st, err := replay(ctx, book, r)
	if err != nil {
		logger.Fatal().Err(err).Msg("Replay failed")
	}
	logger.Info().
		Int("applied", st.applied).
		Int("rejected", st.rejected).
		Int("invalid", st.invalid).
		Uint64("seq", book.Seq()).
		Msg("Replay complete")

	if *dumpYAML {
		if err := writeYAML(os.Stdout, book.Snapshot()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to write snapshot")
		}
		return
	}
	if err := printBook(os.Stdout, book, *depth); err != nil {
		logger.Fatal().Err(err).Msg("Failed to print book")
	}
}

// replay applies every event line of r to book. Blank lines are skipped,
// undecodable lines are counted and skipped, rejected events are counted.
func replay(ctx context.Context, book *core.OrderBook, r io.Reader) (stats, error) {
	var st stats
	logger := logging.FromContext(ctx)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		event, err := feed.DecodeEvent(data)
		if err != nil {
			st.invalid++
			logger.Warn().Err(err).Int("line", line).Msg("Skipping undecodable event")
			continue
		}

		_, err = book.Apply(logging.WithEventID(ctx, fmt.Sprintf("line:%d", line)), event)
		var eventErr *core.EventError
		switch {
		case err == nil:
			st.applied++
		case errors.As(err, &eventErr):
			st.rejected++
		default:
			return st, err
		}
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("failed to read events: %w", err)
	}
	return st, nil
}

func writeYAML(w io.Writer, snap *core.Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toYAML(snap)); err != nil {
		return err
	}
	return enc.Close()
}

type yamlOrder struct {
	ID        string `yaml:"id"`
	Quantity  string `yaml:"quantity"`
	Timestamp int64  `yaml:"timestamp"`
}

type yamlLevel struct {
	Price  string      `yaml:"price"`
	Orders []yamlOrder `yaml:"orders"`
}

type yamlSnapshot struct {
	Seq     uint64      `yaml:"seq"`
	TakenAt string      `yaml:"taken_at"`
	Bids    []yamlLevel `yaml:"bids"`
	Asks    []yamlLevel `yaml:"asks"`
}

func toYAML(snap *core.Snapshot) yamlSnapshot {
	levels := func(in []core.LevelSnapshot) []yamlLevel {
		out := make([]yamlLevel, 0, len(in))
		for _, lvl := range in {
			y := yamlLevel{Price: lvl.Price.String()}
			for _, o := range lvl.Orders {
				y.Orders = append(y.Orders, yamlOrder{
					ID:        o.OrderID,
					Quantity:  o.Quantity.String(),
					Timestamp: o.Timestamp,
				})
			}
			out = append(out, y)
		}
		return out
	}
	return yamlSnapshot{
		Seq:     snap.Seq,
		TakenAt: snap.TakenAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Bids:    levels(snap.Bids),
		Asks:    levels(snap.Asks),
	}
}

func printBook(out io.Writer, book *core.OrderBook, depth int) error {
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)

	fmt.Fprintf(w, "%15s|%15s|%15s|%s\n", cyan("Price"), cyan("Quantity"), cyan("Orders"), cyan("Side"))
	fmt.Fprintf(w, "%15s|%15s|%15s|%s\n", "---------------", "---------------", "---------------", "----")

	// asks worst-first so the best prices meet in the middle
	asks := book.Depth(core.Ask, depth)
	for i := len(asks) - 1; i >= 0; i-- {
		lvl := asks[i]
		fmt.Fprintf(w, "%15s|%15s|%15d|%s\n", lvl.Price, lvl.Quantity, lvl.Count, red("ASK"))
	}

	fmt.Fprintf(w, "%15s|%15s|%15s|%s\n", "---------------", "---------------", "---------------", "----")

	for _, lvl := range book.Depth(core.Bid, depth) {
		fmt.Fprintf(w, "%15s|%15s|%15d|%s\n", lvl.Price, lvl.Quantity, lvl.Count, green("BID"))
	}

	if spread, ok := book.Spread(); ok {
		fmt.Fprintf(w, "\nSpread: %s\n", spread)
	}
	return w.Flush()
}
