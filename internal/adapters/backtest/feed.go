// Package backtest implements the Backtest venue adapter: a historical CSV
// tick feed drives ticker/order-book lookups, and a simulated clock — which
// never actually sleeps — drives internal/simfill's order-execution
// lifecycle. Grounded on the original's BacktestExchange/BacktestRunner
// (backtests/run_backtest.py), which replays a CSV feed with the header
// `timestamp,symbol,bid,ask,last,volume` and advances simulated time
// between cycles instead of waiting on the wall clock.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/evanward/triarb/internal/domain"
)

// Tick is a single row of the historical feed.
type Tick struct {
	Timestamp float64
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    float64
}

// Feed is a historical tick feed for one or more symbols, ordered by
// timestamp, grouped by symbol for fast "latest tick at or before t"
// lookups.
type Feed struct {
	ticks   []Tick
	bySym   map[string][]Tick
	symbols map[string]domain.Market
}

// LoadFeed reads a CSV file with the header
// `timestamp,symbol,bid,ask,last,volume` and builds a Feed from it.
// Markets are synthesized from the symbols observed in the file — a
// backtest has no venue to query for precision/minimums, so every market
// gets the feed's own best-guess defaults (§6 notes this is a constraint
// of historical replay, not a venue response).
func LoadFeed(path string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest.LoadFeed: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("backtest.LoadFeed: read header: %w", err)
	}
	if len(header) < 6 {
		return nil, fmt.Errorf("backtest.LoadFeed: %q: expected 6 columns (timestamp,symbol,bid,ask,last,volume), got %d", path, len(header))
	}

	feed := &Feed{
		bySym:   make(map[string][]Tick),
		symbols: make(map[string]domain.Market),
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest.LoadFeed: %q: %w", path, err)
		}
		if len(row) < 6 {
			continue
		}
		tick, err := parseTick(row)
		if err != nil {
			return nil, fmt.Errorf("backtest.LoadFeed: %q: %w", path, err)
		}
		feed.ticks = append(feed.ticks, tick)
		feed.bySym[tick.Symbol] = append(feed.bySym[tick.Symbol], tick)

		if _, ok := feed.symbols[tick.Symbol]; !ok {
			feed.symbols[tick.Symbol] = marketFromSymbol(tick.Symbol)
		}
	}

	sort.Slice(feed.ticks, func(i, j int) bool { return feed.ticks[i].Timestamp < feed.ticks[j].Timestamp })
	for sym := range feed.bySym {
		ticks := feed.bySym[sym]
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].Timestamp < ticks[j].Timestamp })
		feed.bySym[sym] = ticks
	}

	return feed, nil
}

func parseTick(row []string) (Tick, error) {
	ts, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}
	bid, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	last, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("bad last %q: %w", row[4], err)
	}
	volume, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("bad volume %q: %w", row[5], err)
	}
	return Tick{Timestamp: ts, Symbol: row[1], Bid: bid, Ask: ask, Last: last, Volume: volume}, nil
}

// marketFromSymbol splits "BASE/QUOTE" into a domain.Market with
// placeholder fee/precision values — a backtest feed carries no venue
// metadata beyond prices.
func marketFromSymbol(symbol string) domain.Market {
	base, quote := splitSymbol(symbol)
	return domain.Market{
		Base:            base,
		Quote:           quote,
		TakerFeeRate:    0.001,
		MakerFeeRate:    0.0005,
		PricePrecision:  8,
		AmountPrecision: 8,
	}
}

func splitSymbol(symbol string) (domain.Currency, domain.Currency) {
	for i := range symbol {
		if symbol[i] == '/' {
			return domain.Normalize(symbol[:i]), domain.Normalize(symbol[i+1:])
		}
	}
	return domain.Normalize(symbol), ""
}

// Markets returns the synthesized symbol -> Market map observed across the
// whole feed.
func (f *Feed) Markets() map[string]domain.Market {
	out := make(map[string]domain.Market, len(f.symbols))
	for k, v := range f.symbols {
		out[k] = v
	}
	return out
}

// TickerAt returns the most recent tick for symbol at or before t,
// matching how a real venue only ever reflects the past. Returns false if
// the feed has no tick for symbol yet at that time.
func (f *Feed) TickerAt(symbol string, t float64) (domain.Ticker, bool) {
	ticks := f.bySym[symbol]
	if len(ticks) == 0 {
		return domain.Ticker{}, false
	}
	idx := sort.Search(len(ticks), func(i int) bool { return ticks[i].Timestamp > t })
	if idx == 0 {
		return domain.Ticker{}, false
	}
	tick := ticks[idx-1]
	return domain.Ticker{
		Symbol:    tick.Symbol,
		Bid:       tick.Bid,
		Ask:       tick.Ask,
		Last:      tick.Last,
		Volume:    tick.Volume,
		Timestamp: int64(tick.Timestamp),
	}, true
}

// FirstTimestamp returns the earliest tick's timestamp, used to seed the
// simulated clock at the start of a replay.
func (f *Feed) FirstTimestamp() float64 {
	if len(f.ticks) == 0 {
		return 0
	}
	return f.ticks[0].Timestamp
}

// LastTimestamp returns the latest tick's timestamp.
func (f *Feed) LastTimestamp() float64 {
	if len(f.ticks) == 0 {
		return 0
	}
	return f.ticks[len(f.ticks)-1].Timestamp
}
