package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/circuitbreaker"
	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"github.com/aleishio/qubic-dextools-adapter/internal/retry"
)

const (
	defaultRetryMaxAttempts = 4
	defaultBackoffInitial   = 200 * time.Millisecond
	defaultBackoffMax       = 3 * time.Second
	defaultCallTimeout      = 10 * time.Second
)

// Client issues paginated fetches against the archive. Only rate-limit
// signals are retried (with increasing backoff, bounded); every other
// failure surfaces immediately so callers can move on to an alternative
// tick or page instead of burning time on a blind retry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	endpoints  Endpoints
	limiter    *Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	callTimeout      time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithEndpoints(eps Endpoints) Option {
	return func(c *Client) { c.endpoints = eps }
}

func WithLimiter(l *Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.retryMaxAttempts = maxAttempts
		c.backoffInitial = initial
		c.backoffMax = max
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient:       &http.Client{Timeout: defaultCallTimeout},
		baseURL:          baseURL,
		endpoints:        DefaultEndpoints(),
		logger:           logger.With("component", "upstream"),
		retryMaxAttempts: defaultRetryMaxAttempts,
		backoffInitial:   defaultBackoffInitial,
		backoffMax:       defaultBackoffMax,
		callTimeout:      defaultCallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.sleepFn == nil {
		c.sleepFn = func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return c
}

// GetHead returns the absolute latest tick number on chain.
func (c *Client) GetHead(ctx context.Context) (uint64, error) {
	var resp headResponse
	if err := c.get(ctx, "head", c.endpoints.Head, &resp); err != nil {
		return 0, err
	}
	head := resp.latest()
	if head == 0 {
		return 0, fmt.Errorf("upstream head: empty response")
	}
	return head, nil
}

// GetStatus returns the archive's processing status, used opportunistically
// to seed the epoch locator.
func (c *Client) GetStatus(ctx context.Context) (*model.Status, error) {
	var resp statusResponse
	if err := c.get(ctx, "status", c.endpoints.Status, &resp); err != nil {
		return nil, err
	}
	return &model.Status{
		LatestTick:   resp.LastProcessedTick.TickNumber,
		CurrentEpoch: resp.LastProcessedTick.Epoch,
	}, nil
}

// ListEpochTicks fetches one page of an epoch's tick listing, ascending by
// tick number. Empty ticks are omitted by the archive.
func (c *Client) ListEpochTicks(ctx context.Context, epoch uint32, page, pageSize int) ([]model.Tick, error) {
	path := fmt.Sprintf(c.endpoints.EpochTicks, epoch, page, pageSize)
	var resp epochTicksResponse
	if err := c.get(ctx, "epoch_ticks", path, &resp); err != nil {
		return nil, err
	}
	return resp.normalize(epoch)
}

// ListTickTransactions fetches the transaction list of one tick.
func (c *Client) ListTickTransactions(ctx context.Context, tick uint64) ([]model.TransactionRecord, error) {
	path := fmt.Sprintf(c.endpoints.TickTransactions, tick)
	var resp transactionsResponse
	if err := c.get(ctx, "tick_transactions", path, &resp); err != nil {
		return nil, err
	}
	return resp.normalize(tick)
}

// GetAsset looks up an asset, trying every known endpoint variant in order.
func (c *Client) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var lastErr error
	for _, tmpl := range c.endpoints.Asset {
		var resp assetResponse
		if err := c.get(ctx, "asset", fmt.Sprintf(tmpl, id), &resp); err != nil {
			c.logger.Debug("asset endpoint variant failed", "template", tmpl, "id", id, "error", err)
			lastErr = err
			continue
		}
		if resp.Asset.ID == "" {
			resp.Asset.ID = id
		}
		return &resp.Asset, nil
	}
	return nil, fmt.Errorf("asset %s: all endpoint variants failed: %w", id, lastErr)
}

// GetPair looks up a pair, trying every known endpoint variant in order.
func (c *Client) GetPair(ctx context.Context, id string) (*model.Pair, error) {
	var lastErr error
	for _, tmpl := range c.endpoints.Pair {
		var resp pairResponse
		if err := c.get(ctx, "pair", fmt.Sprintf(tmpl, id), &resp); err != nil {
			c.logger.Debug("pair endpoint variant failed", "template", tmpl, "id", id, "error", err)
			lastErr = err
			continue
		}
		if resp.Pair.ID == "" {
			resp.Pair.ID = id
		}
		return &resp.Pair, nil
	}
	return nil, fmt.Errorf("pair %s: all endpoint variants failed: %w", id, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				metrics.UpstreamCallsTotal.WithLabelValues(endpoint, "breaker_open").Inc()
				return fmt.Errorf("upstream %s: %w", endpoint, err)
			}
		}

		start := time.Now()
		err := c.doGet(ctx, endpoint, path, out)
		metrics.UpstreamCallLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.UpstreamCallsTotal.WithLabelValues(endpoint, "ok").Inc()
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		decision := retry.Classify(err)
		metrics.UpstreamCallsTotal.WithLabelValues(endpoint, string(decision.Class)).Inc()
		if c.breaker != nil && decision.Class == retry.ClassTransient {
			c.breaker.RecordFailure()
			metrics.UpstreamBreakerState.Set(float64(c.breaker.CurrentState()))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !decision.IsRateLimit() || attempt == c.retryMaxAttempts {
			return err
		}

		delay := c.retryDelay(attempt)
		metrics.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
		c.logger.Warn("rate limited; backing off",
			"endpoint", endpoint,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if sleepErr := c.sleepFn(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, endpoint, path string, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return retry.Transient(fmt.Errorf("upstream %s: call timeout: %w", endpoint, err))
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Endpoint: endpoint, Body: truncate(string(body), 256)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.backoffInitial << (attempt - 1)
	if delay > c.backoffMax {
		delay = c.backoffMax
	}
	return delay
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
