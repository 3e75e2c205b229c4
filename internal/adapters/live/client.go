// Package live implements the Live venue adapter: a rate-limited, retried
// REST client against a Coinbase Advanced Trade-shaped spot exchange API,
// generalized from the teacher's single-venue Polymarket client
// (internal/adapters/polymarket/client.go) to the generic CEX surface this
// spec's VenueAdapter needs (ticker, order book, balance, market/limit
// order placement, order polling, cancel).
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/evanward/triarb/internal/domain"
)

const (
	defaultBaseURL = "https://api.exchange.example/v2"

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the rate-limited, retried HTTP client underlying the Live
// adapter. Grounded on polymarket/client.go's Client: one http.Client, one
// rate.Limiter gating every request, exponential backoff with jitter on
// retryable failures.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient builds a Client. requestsPerSecond and burst size the rate
// gate; the Order Coordinator (§4.6) applies its own limiter on top using
// RateLimit(), so this one exists to protect the HTTP transport itself
// from ever exceeding the venue's documented budget even if a caller
// bypasses the coordinator (e.g. LoadMarkets, FetchOrderBook).
func NewClient(baseURL, apiKey, apiSecret string, requestsPerSecond float64, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Max(1, requestsPerSecond))),
		logger:    logger,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		c.sign(req)
		return c.http.Do(req)
	}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.sign(req)
		return c.http.Do(req)
	}, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		c.sign(req)
		return c.http.Do(req)
	}, nil)
}

// sign attaches venue API-key headers. Real per-exchange HMAC request
// signing (timestamp + method + path + body digest) lives at this single
// call site; a concrete venue deployment swaps this function body without
// touching the rest of the adapter.
func (c *Client) sign(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	}
}

// doWithRetry runs fn with exponential backoff and jitter on retryable
// failures, translating terminal failures into a categorized
// *domain.VenueError so callers can branch on Retryable() without
// string-matching — the typed-enum redesign over the teacher's
// string-categorized errors.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &domain.VenueError{Kind: domain.VenueErrOther, Op: "rate-limiter", Err: err}
		}

		resp, err := fn()
		if err != nil {
			lastErr = &domain.VenueError{Kind: domain.VenueErrNetwork, Op: "http", Err: err}
			if attempt == maxRetries {
				return lastErr
			}
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = &domain.VenueError{Kind: domain.VenueErrRateLimited, Op: "http", Err: fmt.Errorf("429 too many requests")}
			c.logger.Warn("live adapter rate limited", "attempt", attempt+1)
			if attempt == maxRetries {
				return lastErr
			}
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &domain.VenueError{Kind: domain.VenueErrNetwork, Op: "http", Err: fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))}
			if attempt == maxRetries {
				return lastErr
			}
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return classifyClientError(resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.VenueError{Kind: domain.VenueErrOther, Op: "decode", Err: err}
		}
		return nil
	}
	return lastErr
}

// classifyClientError maps a 4xx venue response to the closed error enum.
func classifyClientError(status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "balance"):
		return &domain.VenueError{Kind: domain.VenueErrInsufficientBalance, Op: "http", Err: fmt.Errorf("status %d: %s", status, body)}
	case strings.Contains(lower, "minimum") || strings.Contains(lower, "too small"):
		return &domain.VenueError{Kind: domain.VenueErrBelowMinimum, Op: "http", Err: fmt.Errorf("status %d: %s", status, body)}
	case strings.Contains(lower, "not found") || strings.Contains(lower, "unknown product") || status == http.StatusNotFound:
		return &domain.VenueError{Kind: domain.VenueErrSymbolUnknown, Op: "http", Err: fmt.Errorf("status %d: %s", status, body)}
	default:
		return &domain.VenueError{Kind: domain.VenueErrOther, Op: "http", Err: fmt.Errorf("status %d: %s", status, body)}
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	jitter := time.Duration(rand.Int63n(int64(wait) / 2))
	select {
	case <-time.After(wait + jitter):
	case <-ctx.Done():
	}
}
