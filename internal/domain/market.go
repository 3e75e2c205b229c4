package domain

import "fmt"

// Market is an ordered trading pair (base, quote) on a venue, symbol
// BASE/QUOTE.
type Market struct {
	Base             Currency
	Quote            Currency
	MinOrderAmount   float64 // base-denominated
	MinOrderNotional float64 // quote-denominated
	TakerFeeRate     float64
	MakerFeeRate     float64
	PricePrecision   int
	AmountPrecision  int
}

// Symbol returns the canonical "BASE/QUOTE" market symbol.
func (m Market) Symbol() string {
	return fmt.Sprintf("%s/%s", m.Base, m.Quote)
}

// Side resolves the leg direction for a trade moving from source to
// target: "buy" if the symbol is target/source, "sell" if source/target.
// ok is false if neither orientation exists on the venue.
func Side(markets map[string]Market, source, target Currency) (symbol string, side string, ok bool) {
	buySymbol := fmt.Sprintf("%s/%s", target, source)
	if _, exists := markets[buySymbol]; exists {
		return buySymbol, "buy", true
	}
	sellSymbol := fmt.Sprintf("%s/%s", source, target)
	if _, exists := markets[sellSymbol]; exists {
		return sellSymbol, "sell", true
	}
	return "", "", false
}

// Ticker is a point-in-time quote for a market.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    float64
	Timestamp int64 // unix seconds
}

// OrderBook is a depth snapshot for a market.
type OrderBook struct {
	Symbol string
	Bids   []BookEntry // descending by price
	Asks   []BookEntry // ascending by price
}

// BookEntry is a single price/size level.
type BookEntry struct {
	Price float64
	Size  float64
}

func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// VWAP integrates book entries until cumulative volume reaches maxSize,
// returning the volume-weighted average price. Used by the Recovery Router
// to estimate per-leg slippage against live depth.
func VWAP(entries []BookEntry, maxSize float64) (avgPrice float64, filled float64) {
	var notional, remaining float64 = 0, maxSize
	for _, e := range entries {
		if remaining <= 0 {
			break
		}
		take := e.Size
		if take > remaining {
			take = remaining
		}
		notional += take * e.Price
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0
	}
	return notional / filled, filled
}
