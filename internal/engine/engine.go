// Package engine implements the position-resolution and range-extraction
// core: locating a tick by number or timestamp, selecting a safe latest
// tick, and collecting all ticks and events in a requested range while
// coping with pagination, partial epoch-boundary knowledge, and upstream
// unreliability.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/cache"
	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"github.com/aleishio/qubic-dextools-adapter/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

var (
	// ErrUnavailable means the upstream is unreachable or kept erroring
	// after all fallback candidates were exhausted.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound means no tick or epoch data could be located after a
	// bounded search.
	ErrNotFound = errors.New("not found")
)

// Source is the upstream collaborator the engine pulls chain data from.
type Source interface {
	GetHead(ctx context.Context) (uint64, error)
	GetStatus(ctx context.Context) (*model.Status, error)
	ListEpochTicks(ctx context.Context, epoch uint32, page, pageSize int) ([]model.Tick, error)
	ListTickTransactions(ctx context.Context, tick uint64) ([]model.TransactionRecord, error)
}

// Config bounds every search the engine performs.
type Config struct {
	PageSize                 int    // upstream listing page size
	SafetyBuffer             uint64 // trailing ticks subtracted from the head
	AdjacentPageWalk         int    // pages walked around a targeted estimate
	BinarySearchMaxProbes    int    // page probes per binary search
	AdjacentEpochTries       int    // older epochs tried by the tick locator
	LatestFallbackCandidates int    // K older candidates probed by the selector
	TimestampEpochScanBound  int    // epochs scanned backward for timestamp lookup
	EpochProbeBound          int    // epochs probed outward from the head
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.SafetyBuffer == 0 {
		c.SafetyBuffer = 10
	}
	if c.AdjacentPageWalk <= 0 {
		c.AdjacentPageWalk = 3
	}
	if c.BinarySearchMaxProbes <= 0 {
		c.BinarySearchMaxProbes = 18
	}
	if c.AdjacentEpochTries <= 0 {
		c.AdjacentEpochTries = 2
	}
	if c.LatestFallbackCandidates <= 0 {
		c.LatestFallbackCandidates = 10
	}
	if c.TimestampEpochScanBound <= 0 {
		c.TimestampEpochScanBound = 5
	}
	if c.EpochProbeBound <= 0 {
		c.EpochProbeBound = 128
	}
}

// Engine owns the cache store explicitly: no module-level state, so tests
// construct isolated instances.
type Engine struct {
	source Source
	store  *cache.Store
	logger *slog.Logger
	cfg    Config
	nowFn  func() time.Time
}

func New(source Source, store *cache.Store, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{
		source: source,
		store:  store,
		logger: logger.With("component", "engine"),
		cfg:    cfg,
		nowFn:  time.Now,
	}
}

// page returns one epoch listing page, serving from the process-lifetime
// cache and deduplicating concurrent identical fetches.
func (e *Engine) page(ctx context.Context, epoch uint32, page int) ([]model.Tick, error) {
	key := cache.PageKey{Epoch: epoch, Page: page}
	if ticks, ok := e.store.GetPage(key); ok {
		return ticks, nil
	}
	v, err := e.store.Do(fmt.Sprintf("page:%d:%d", epoch, page), func() (any, error) {
		if ticks, ok := e.store.GetPage(key); ok {
			return ticks, nil
		}
		ticks, err := e.source.ListEpochTicks(ctx, epoch, page, e.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		e.store.PutPage(key, ticks)
		return ticks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Tick), nil
}

// transactions returns a tick's transaction list, cached for the process
// lifetime on first success.
func (e *Engine) transactions(ctx context.Context, tick uint64) ([]model.TransactionRecord, error) {
	if txs, ok := e.store.GetTransactions(tick); ok {
		return txs, nil
	}
	v, err := e.store.Do(fmt.Sprintf("txs:%d", tick), func() (any, error) {
		if txs, ok := e.store.GetTransactions(tick); ok {
			return txs, nil
		}
		txs, err := e.source.ListTickTransactions(ctx, tick)
		if err != nil {
			return nil, err
		}
		e.store.PutTransactions(tick, txs)
		return txs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.TransactionRecord), nil
}

// headTick returns the absolute latest tick number, served from the
// short-TTL snapshot when fresh.
func (e *Engine) headTick(ctx context.Context) (uint64, error) {
	if snap, ok := e.store.GetStatus(); ok && snap.LatestTick > 0 {
		return snap.LatestTick, nil
	}
	head, err := e.source.GetHead(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch head: %w", ErrUnavailable, err)
	}
	st := model.Status{LatestTick: head}
	if snap, ok := e.store.GetStatus(); ok {
		st.CurrentEpoch = snap.CurrentEpoch
	}
	e.store.PutStatus(st)
	return head, nil
}

// currentEpoch returns the epoch the head belongs to, seeded from the
// upstream status endpoint and falling back to the newest cached range.
func (e *Engine) currentEpoch(ctx context.Context) (uint32, error) {
	if snap, ok := e.store.GetStatus(); ok && snap.CurrentEpoch > 0 {
		return snap.CurrentEpoch, nil
	}
	st, err := e.source.GetStatus(ctx)
	if err == nil && st.CurrentEpoch > 0 {
		e.store.PutStatus(*st)
		return st.CurrentEpoch, nil
	}
	if newest, ok := e.newestCachedEpoch(); ok {
		e.logger.Warn("status unavailable; using newest cached epoch", "epoch", newest, "error", err)
		metrics.EngineFallbacksTotal.WithLabelValues("current_epoch_cached").Inc()
		return newest, nil
	}
	return 0, fmt.Errorf("%w: fetch status: %w", ErrUnavailable, err)
}

func (e *Engine) newestCachedEpoch() (uint32, bool) {
	var newest uint32
	found := false
	for _, r := range e.store.Ranges() {
		if !found || r.Epoch > newest {
			newest = r.Epoch
			found = true
		}
	}
	return newest, found
}

// observe wraps an outward operation with metrics and a trace span.
func (e *Engine) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	spanCtx, span := tracing.Tracer("engine").Start(ctx, "engine."+op, otelTrace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(spanCtx)
	metrics.EngineOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		metrics.EngineOperationsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.EngineOperationsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}
