package live

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// productResponse is one entry of GET /products, grounded on
// coinbase_adapter.py's load_markets: base_currency_id/quote_currency_id,
// status, min/max base size.
type productResponse struct {
	ProductID     string `json:"product_id"`
	BaseCurrency  string `json:"base_currency_id"`
	QuoteCurrency string `json:"quote_currency_id"`
	Status        string `json:"status"`
	BaseMinSize   string `json:"base_min_size"`
	QuoteMinSize  string `json:"quote_min_size"`
	TakerFeeRate  string `json:"taker_fee_rate"`
	MakerFeeRate  string `json:"maker_fee_rate"`
}

type productsResponse struct {
	Products []productResponse `json:"products"`
}

type tickerResponse struct {
	Price string `json:"price"`
	Bid   string `json:"bid"`
	Ask   string `json:"ask"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type accountBalance struct {
	Currency  string `json:"currency"`
	Available string `json:"available_balance"`
}

type accountsResponse struct {
	Accounts []accountBalance `json:"accounts"`
}

type orderRequest struct {
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	OrderType  string `json:"type"`
	BaseSize   string `json:"base_size,omitempty"`
	QuoteSize  string `json:"quote_size,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
}

type orderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	FilledSize    string `json:"filled_size"`
	AvgFillPrice  string `json:"average_filled_price"`
	ErrorMsg      string `json:"error_message"`
}

// Adapter is the Live VenueAdapter: real orders against a live exchange,
// via Client. ExecutionMetrics is always zero (§4.1, only Paper/Backtest
// populate the simulator side channel).
type Adapter struct {
	client *Client
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]domain.Market
	ids     map[string]string // symbol -> venue product id
}

// New builds a Live adapter.
func New(client *Client, logger *slog.Logger) *Adapter {
	return &Adapter{client: client, logger: logger, ids: make(map[string]string)}
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	var resp productsResponse
	if err := a.client.get(ctx, "/products", &resp); err != nil {
		return nil, fmt.Errorf("live: load markets: %w", err)
	}

	markets := make(map[string]domain.Market, len(resp.Products))
	ids := make(map[string]string, len(resp.Products))
	for _, p := range resp.Products {
		if p.Status != "online" {
			continue
		}
		base := domain.Normalize(p.BaseCurrency)
		quote := domain.Normalize(p.QuoteCurrency)
		m := domain.Market{
			Base:             base,
			Quote:            quote,
			MinOrderAmount:   parseFloatOr(p.BaseMinSize, 0.001),
			MinOrderNotional: parseFloatOr(p.QuoteMinSize, 0),
			TakerFeeRate:     parseFloatOr(p.TakerFeeRate, 0.003),
			MakerFeeRate:     parseFloatOr(p.MakerFeeRate, 0.001),
			PricePrecision:   8,
			AmountPrecision:  8,
		}
		markets[m.Symbol()] = m
		ids[m.Symbol()] = p.ProductID
	}

	a.mu.Lock()
	a.markets = markets
	a.ids = ids
	a.mu.Unlock()

	a.logger.Info("live adapter loaded markets", "count", len(markets))
	return markets, nil
}

func (a *Adapter) productID(symbol string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.ids[symbol]
	if !ok {
		return "", &domain.VenueError{Kind: domain.VenueErrSymbolUnknown, Op: "productID", Err: fmt.Errorf("symbol %s not loaded", symbol)}
	}
	return id, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	id, err := a.productID(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}

	var resp tickerResponse
	if err := a.client.get(ctx, "/products/"+id+"/ticker", &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("live: fetch ticker %s: %w", symbol, err)
	}

	last := parseFloatOr(resp.Price, 0)
	bid := parseFloatOr(resp.Bid, last)
	ask := parseFloatOr(resp.Ask, last)
	return domain.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: last}, nil
}

func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	id, err := a.productID(symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}

	var resp bookResponse
	if err := a.client.get(ctx, "/products/"+id+"/book", &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("live: fetch order book %s: %w", symbol, err)
	}

	return domain.OrderBook{
		Symbol: symbol,
		Bids:   toBookEntries(resp.Bids),
		Asks:   toBookEntries(resp.Asks),
	}, nil
}

func toBookEntries(levels []bookLevel) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.BookEntry{Price: parseFloatOr(l.Price, 0), Size: parseFloatOr(l.Size, 0)})
	}
	return out
}

func (a *Adapter) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	var resp accountsResponse
	if err := a.client.get(ctx, "/accounts", &resp); err != nil {
		return nil, fmt.Errorf("live: fetch balance: %w", err)
	}

	out := make(map[domain.Currency]float64, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		out[domain.Normalize(acc.Currency)] = parseFloatOr(acc.Available, 0)
	}
	return out, nil
}

func (a *Adapter) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	return a.place(ctx, symbol, side, "market", amount, nil)
}

func (a *Adapter) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	return a.place(ctx, symbol, side, "limit", amount, &price)
}

func (a *Adapter) place(ctx context.Context, symbol, side, orderType string, amount float64, price *float64) (domain.OrderRecord, error) {
	id, err := a.productID(symbol)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	req := orderRequest{
		ProductID: id,
		Side:      strings.ToUpper(side),
		OrderType: orderType,
		BaseSize:  strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if price != nil {
		req.LimitPrice = strconv.FormatFloat(*price, 'f', -1, 64)
	}

	var resp orderResponse
	if err := a.client.post(ctx, "/orders", req, &resp); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("live: place order %s: %w", symbol, err)
	}
	if resp.ErrorMsg != "" {
		return domain.OrderRecord{}, &domain.VenueError{Kind: domain.VenueErrOther, Op: "place", Err: fmt.Errorf("%s", resp.ErrorMsg)}
	}

	rec := domain.OrderRecord{
		ID: resp.OrderID, Symbol: symbol, Side: side, RequestedAmount: amount, LimitPrice: price,
		State:        mapOrderStatus(resp.Status),
		FilledAmount: parseFloatOr(resp.FilledSize, 0),
		AvgFillPrice: parseFloatOr(resp.AvgFillPrice, 0),
	}
	rec.RemainingAmount = rec.RequestedAmount - rec.FilledAmount
	return rec, nil
}

func (a *Adapter) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	var resp orderResponse
	if err := a.client.get(ctx, "/orders/historical/"+orderID, &resp); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("live: fetch order %s: %w", orderID, err)
	}

	rec := domain.OrderRecord{
		ID: orderID, Symbol: symbol,
		State:        mapOrderStatus(resp.Status),
		FilledAmount: parseFloatOr(resp.FilledSize, 0),
		AvgFillPrice: parseFloatOr(resp.AvgFillPrice, 0),
	}
	return rec, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if err := a.client.delete(ctx, "/orders/"+orderID); err != nil {
		if verr, ok := err.(*domain.VenueError); ok && verr.Kind == domain.VenueErrSymbolUnknown {
			return false, nil
		}
		return false, fmt.Errorf("live: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

func (a *Adapter) ExecutionMetrics() ports.ExecutionMetrics {
	return ports.ExecutionMetrics{}
}

func (a *Adapter) RateLimit() float64 {
	return 10
}

func mapOrderStatus(venueStatus string) domain.OrderState {
	switch strings.ToUpper(venueStatus) {
	case "FILLED", "DONE":
		return domain.OrderFilled
	case "PARTIALLY_FILLED", "OPEN_PARTIAL":
		return domain.OrderPartiallyFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		return domain.OrderCancelled
	case "FAILED", "REJECTED":
		return domain.OrderFailed
	case "OPEN", "PENDING":
		return domain.OrderPlaced
	default:
		return domain.OrderPending
	}
}

func parseFloatOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}
