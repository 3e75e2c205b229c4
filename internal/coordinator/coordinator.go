// Package coordinator implements the Order Coordinator (§4.6):
// place_order's retry/backoff loop and monitor_order's poll schedule,
// rate gate, and status cache.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"golang.org/x/time/rate"
)

// Config tunes retry/backoff and polling, one set per venue.
type Config struct {
	MaxRetries    int
	BaseRetryWait time.Duration

	RapidCheckThreshold time.Duration
	RapidCheckInterval  time.Duration
	InitialDelay        time.Duration
	BackoffMul          float64
	MaxDelay            time.Duration
	JitterFactor        float64
	MinRequestInterval  time.Duration

	CacheTTL               time.Duration
	RateLimitBuffer        float64 // fraction of venue_rate_limit the gate targets, e.g. 0.8
	VenueRateLimitPerSec   float64
	MinPartialFillRatio    float64
	PartialFillsAllowed    bool
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryWait <= 0 {
		cfg.BaseRetryWait = 500 * time.Millisecond
	}
	if cfg.RapidCheckThreshold <= 0 {
		cfg.RapidCheckThreshold = 3 * time.Second
	}
	if cfg.RapidCheckInterval <= 0 {
		cfg.RapidCheckInterval = 200 * time.Millisecond
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.BackoffMul <= 0 {
		cfg.BackoffMul = 1.5
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = 0.2
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = 50 * time.Millisecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 250 * time.Millisecond
	}
	if cfg.RateLimitBuffer <= 0 {
		cfg.RateLimitBuffer = 0.8
	}
	if cfg.VenueRateLimitPerSec <= 0 {
		cfg.VenueRateLimitPerSec = 10
	}
	if cfg.MinPartialFillRatio <= 0 {
		cfg.MinPartialFillRatio = 0.95
	}
	return cfg
}

// Coordinator places and monitors orders against one ports.VenueAdapter,
// matching the teacher's own per-venue Client (retry/backoff loop, token
// bucket rate limiting via golang.org/x/time/rate) but generalized from
// one HTTP client to the full place+monitor order lifecycle.
type Coordinator struct {
	venue   ports.VenueAdapter
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	statusCache *statusCache
}

func New(venue ports.VenueAdapter, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VenueRateLimitPerSec <= 0 {
		cfg.VenueRateLimitPerSec = venue.RateLimit()
	}
	cfg = defaultConfig(cfg)
	burst := int(cfg.VenueRateLimitPerSec * cfg.RateLimitBuffer)
	if burst < 1 {
		burst = 1
	}
	return &Coordinator{
		venue:       venue,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.VenueRateLimitPerSec*cfg.RateLimitBuffer), burst),
		logger:      logger,
		statusCache: newStatusCache(cfg.CacheTTL),
	}
}

// PlaceOrder runs place_order's retry loop: one attempt plus up to
// MaxRetries retries with exponential backoff (base × 2^attempt). Success returns an
// OrderRecord in state PLACED; exhausting retries returns FAILED with
// the last error.
func (c *Coordinator) PlaceOrder(ctx context.Context, symbol, side string, amount float64, limitPrice *float64) (*domain.OrderRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("coordinator.PlaceOrder: rate limiter: %w", err)
		}

		var rec domain.OrderRecord
		var err error
		if limitPrice != nil {
			rec, err = c.venue.PlaceLimit(ctx, symbol, side, amount, *limitPrice)
		} else {
			rec, err = c.venue.PlaceMarket(ctx, symbol, side, amount)
		}
		if err == nil {
			rec.State = domain.OrderPlaced
			return &rec, nil
		}

		lastErr = err
		var venueErr *domain.VenueError
		retryable := false
		if ve, ok := err.(*domain.VenueError); ok {
			venueErr = ve
			retryable = ve.Retryable()
		}
		if !retryable || attempt == c.cfg.MaxRetries {
			break
		}

		c.logger.Warn("order placement failed, retrying", "symbol", symbol, "side", side, "attempt", attempt+1, "error", err, "venue_error_kind", venueErrKind(venueErr))
		c.sleep(ctx, attempt)
	}

	return &domain.OrderRecord{
		Symbol: symbol, Side: side, RequestedAmount: amount, LimitPrice: limitPrice,
		State: domain.OrderFailed, ErrorMessage: errString(lastErr),
		RetryCount: c.cfg.MaxRetries, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}, lastErr
}

func (c *Coordinator) sleep(ctx context.Context, attempt int) {
	wait := c.cfg.BaseRetryWait * time.Duration(math.Pow(2, float64(attempt)))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func venueErrKind(ve *domain.VenueError) string {
	if ve == nil {
		return "unknown"
	}
	switch ve.Kind {
	case domain.VenueErrRateLimited:
		return "rate_limited"
	case domain.VenueErrNetwork:
		return "network"
	case domain.VenueErrInsufficientBalance:
		return "insufficient_balance"
	case domain.VenueErrBelowMinimum:
		return "below_minimum"
	case domain.VenueErrSymbolUnknown:
		return "symbol_unknown"
	default:
		return "other"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
