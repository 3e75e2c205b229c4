package coordinator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// statusCache is a short-TTL per-order status cache, consulted before
// any fresh venue fetch during monitoring.
type statusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedStatus
}

type cachedStatus struct {
	rec *domain.OrderRecord
	at  time.Time
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{ttl: ttl, entries: make(map[string]cachedStatus)}
}

func (c *statusCache) get(orderID string, now time.Time) (*domain.OrderRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[orderID]
	if !ok || now.Sub(e.at) > c.ttl {
		return nil, false
	}
	return e.rec, true
}

func (c *statusCache) put(orderID string, rec *domain.OrderRecord, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = cachedStatus{rec: rec, at: now}
}

// MonitorOrder polls the venue until the order reaches a terminal state
// or timeout elapses (§4.6). The poll schedule has two phases: a rapid
// phase that polls at a fixed fast interval, then an exponential-backoff
// phase with jitter, never faster than MinRequestInterval.
func (c *Coordinator) MonitorOrder(ctx context.Context, order *domain.OrderRecord, timeout time.Duration) (*domain.OrderRecord, error) {
	deadline := time.Now().Add(timeout)
	start := time.Now()
	backoffStep := 0

	for {
		now := time.Now()
		if now.After(deadline) {
			return c.finalizeOnTimeout(order), nil
		}

		rec, err := c.pollOnce(ctx, order.ID, order.Symbol)
		if err != nil {
			return nil, err
		}
		order = rec

		if order.State.IsTerminal() {
			return order, nil
		}
		if c.partiallyAcceptable(order) {
			order.State = domain.OrderPartiallyFilled
			return order, nil
		}

		var delay time.Duration
		if time.Since(start) < c.cfg.RapidCheckThreshold {
			delay = c.cfg.RapidCheckInterval
		} else {
			raw := float64(c.cfg.InitialDelay) * math.Pow(c.cfg.BackoffMul, float64(backoffStep))
			if raw > float64(c.cfg.MaxDelay) {
				raw = float64(c.cfg.MaxDelay)
			}
			jitter := (rand.Float64()*2 - 1) * c.cfg.JitterFactor * raw
			delay = time.Duration(raw + jitter)
			if delay < c.cfg.MinRequestInterval {
				delay = c.cfg.MinRequestInterval
			}
			backoffStep++
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pollOnce consults the status cache first; on a miss it waits on the
// rate gate and fetches fresh from the venue.
func (c *Coordinator) pollOnce(ctx context.Context, orderID, symbol string) (*domain.OrderRecord, error) {
	now := time.Now()
	if cached, ok := c.statusCache.get(orderID, now); ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	rec, err := c.venue.FetchOrder(ctx, orderID, symbol)
	if err != nil {
		return nil, err
	}
	c.statusCache.put(orderID, &rec, time.Now())
	return &rec, nil
}

// partiallyAcceptable reports whether a still-open order has filled
// enough to treat as PARTIALLY_FILLED rather than keep waiting.
func (c *Coordinator) partiallyAcceptable(order *domain.OrderRecord) bool {
	if !c.cfg.PartialFillsAllowed || order.RequestedAmount <= 0 {
		return false
	}
	return order.FilledAmount/order.RequestedAmount >= c.cfg.MinPartialFillRatio
}

// finalizeOnTimeout applies the timeout rule: any positive fill becomes
// PARTIALLY_FILLED, otherwise FAILED.
func (c *Coordinator) finalizeOnTimeout(order *domain.OrderRecord) *domain.OrderRecord {
	if order.FilledAmount > 0 {
		order.State = domain.OrderPartiallyFilled
	} else {
		order.State = domain.OrderFailed
		if order.ErrorMessage == "" {
			order.ErrorMessage = "monitor timed out with no fill"
		}
	}
	order.UpdatedAt = time.Now()
	return order
}
