package engine

import (
	"context"
	"fmt"

	"github.com/aleishio/qubic-dextools-adapter/internal/cache"
	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// locateTick returns the tick with number n, or the nearest tick actually
// observed upstream. The bool reports an exact match. When neither the
// located epoch nor its neighbors yield anything, a placeholder bearing
// the requested number is returned with Unverified set; it is never cached
// and never treated as a real chain tick.
func (e *Engine) locateTick(ctx context.Context, n uint64) (model.Tick, bool, error) {
	if t, ok := e.store.GetTick(n); ok {
		return t, true, nil
	}

	epoch, err := e.locateEpoch(ctx, n)
	if err != nil {
		return model.Tick{}, false, err
	}

	var nearest *model.Tick
	for _, candidate := range e.adjacentEpochs(epoch) {
		found, near := e.findInEpoch(ctx, candidate, n)
		if found != nil {
			return *found, true, nil
		}
		nearest = closerTick(nearest, near, n)
	}

	if nearest != nil {
		metrics.EngineFallbacksTotal.WithLabelValues("tick_nearest").Inc()
		e.logger.Debug("tick not found; returning nearest observed", "requested", n, "nearest", nearest.Number)
		return *nearest, false, nil
	}

	metrics.EngineFallbacksTotal.WithLabelValues("tick_placeholder").Inc()
	return model.Tick{
		Number:     n,
		Timestamp:  e.nowFn().UnixMilli(),
		Epoch:      epoch,
		Unverified: true,
	}, false, nil
}

// adjacentEpochs yields the located epoch, then older neighbors, then one
// newer. Older first: upstream data skews toward missing or empty recent
// ticks.
func (e *Engine) adjacentEpochs(epoch uint32) []uint32 {
	out := []uint32{epoch}
	for d := uint32(1); d <= uint32(e.cfg.AdjacentEpochTries); d++ {
		if d <= epoch {
			out = append(out, epoch-d)
		}
	}
	return append(out, epoch+1)
}

// findInEpoch searches one epoch for tick n. It returns the exact tick if
// present and the closest tick seen while probing. All page failures are
// swallowed; the caller moves on to the next candidate epoch.
func (e *Engine) findInEpoch(ctx context.Context, epoch uint32, n uint64) (exact *model.Tick, nearest *model.Tick) {
	r, ok := e.store.GetRange(epoch)
	if !ok {
		ticks, err := e.page(ctx, epoch, 0)
		if err != nil || len(ticks) == 0 {
			return nil, nil
		}
		nearest = closestIn(ticks, n)
		if t := exactIn(ticks, n); t != nil {
			return t, nearest
		}
		r, ok = e.store.GetRange(epoch)
		if !ok {
			return nil, nearest
		}
	}
	if n < r.MinTick {
		// Below everything this epoch has shown so far; its first page
		// already starts above n, so the tick cannot be here.
		if first, ok := e.store.GetPage(cache.PageKey{Epoch: epoch, Page: 0}); ok && len(first) > 0 {
			return nil, closerTick(nearest, closestIn(first, n), n)
		}
	}

	// Targeted path: estimate the page from the offset inside the epoch.
	// Listings omit empty ticks, so the true page index never exceeds the
	// estimate; the estimate is a valid upper bound for the search below.
	est := 0
	if n > r.MinTick {
		est = int((n - r.MinTick) / uint64(e.cfg.PageSize))
	}

	probesLeft := e.cfg.BinarySearchMaxProbes
	probes := 0
	defer func() { metrics.EngineBinarySearchProbes.Observe(float64(probes)) }()

	fetch := func(p int) []model.Tick {
		if probesLeft <= 0 {
			return nil
		}
		probesLeft--
		probes++
		ticks, err := e.page(ctx, epoch, p)
		if err != nil {
			e.logger.Debug("page probe failed", "epoch", epoch, "page", p, "error", err)
			return nil
		}
		nearest = closerTick(nearest, closestIn(ticks, n), n)
		return ticks
	}

	ticks := fetch(est)
	if t := exactIn(ticks, n); t != nil {
		return t, nearest
	}

	// Walk a few adjacent pages in the indicated direction before falling
	// back to a full binary search.
	if len(ticks) > 0 {
		dir := 0
		if n < ticks[0].Number {
			dir = -1
		} else if n > ticks[len(ticks)-1].Number && len(ticks) == e.cfg.PageSize {
			dir = 1
		}
		p := est
		for step := 0; dir != 0 && step < e.cfg.AdjacentPageWalk; step++ {
			p += dir
			if p < 0 {
				break
			}
			walked := fetch(p)
			if t := exactIn(walked, n); t != nil {
				return t, nearest
			}
			if len(walked) == 0 {
				break
			}
			if dir < 0 && n > walked[len(walked)-1].Number {
				return nil, nearest // n falls in a gap between pages
			}
			if dir > 0 && n < walked[0].Number {
				return nil, nearest
			}
		}
	}

	// Binary search over [0, est]: compare n against each midpoint page's
	// observed bounds and narrow the window. Terminates when the window is
	// empty or the probe budget runs out, leaving nearest as the answer.
	low, high := 0, est
	for low <= high && probesLeft > 0 {
		mid := low + (high-low)/2
		ticks := fetch(mid)
		if len(ticks) == 0 {
			high = mid - 1
			continue
		}
		if t := exactIn(ticks, n); t != nil {
			return t, nearest
		}
		switch {
		case n < ticks[0].Number:
			high = mid - 1
		case n > ticks[len(ticks)-1].Number:
			low = mid + 1
		default:
			return nil, nearest // inside the page's bounds but absent
		}
	}
	return nil, nearest
}

// ResolveBlockByNumber returns the tick with the requested number, or the
// nearest tick actually observed upstream. ErrNotFound when the bounded
// search located nothing real.
func (e *Engine) ResolveBlockByNumber(ctx context.Context, n uint64) (*model.Tick, error) {
	var out model.Tick
	err := e.observe(ctx, "resolve_block_by_number", []attribute.KeyValue{
		attribute.Int64("tick", int64(n)),
	}, func(ctx context.Context) error {
		t, exact, err := e.locateTick(ctx, n)
		if err != nil {
			return err
		}
		if t.Unverified {
			return fmt.Errorf("%w: tick %d", ErrNotFound, n)
		}
		if !exact {
			e.logger.Info("serving nearest tick", "requested", n, "resolved", t.Number)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveBlockByTimestamp returns the newest tick with timestamp <= ts
// (epoch millis), scanning epochs from the current one backward. When the
// bounded scan finds nothing, the current latest-safe tick is returned as
// the documented fallback rather than a silent not-found.
func (e *Engine) ResolveBlockByTimestamp(ctx context.Context, ts int64) (*model.Tick, error) {
	var out model.Tick
	err := e.observe(ctx, "resolve_block_by_timestamp", []attribute.KeyValue{
		attribute.Int64("timestamp", ts),
	}, func(ctx context.Context) error {
		epoch, err := e.currentEpoch(ctx)
		if err != nil {
			return err
		}

		for i := 0; i <= e.cfg.TimestampEpochScanBound; i++ {
			if uint32(i) > epoch {
				break
			}
			candidate := epoch - uint32(i)
			best := e.newestAtOrBefore(ctx, candidate, ts)
			if best != nil {
				out = *best
				return nil
			}
		}

		metrics.EngineFallbacksTotal.WithLabelValues("timestamp_latest_safe").Inc()
		e.logger.Info("no tick at or before timestamp in scan bound; falling back to latest safe", "timestamp", ts)
		latest, err := e.ResolveLatestSafeBlock(ctx)
		if err != nil {
			return fmt.Errorf("%w: no tick at or before timestamp %d", ErrNotFound, ts)
		}
		out = *latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// newestAtOrBefore finds the newest tick in an epoch with timestamp <= ts.
// Timestamps increase with tick numbers, so pages are searched by doubling
// out to the last page at or before ts, then binary-narrowing.
func (e *Engine) newestAtOrBefore(ctx context.Context, epoch uint32, ts int64) *model.Tick {
	first, err := e.page(ctx, epoch, 0)
	if err != nil || len(first) == 0 {
		return nil
	}
	if first[0].Timestamp > ts {
		return nil // even the epoch's oldest tick is too new
	}

	best := lastAtOrBefore(first, ts)
	if best == nil {
		return nil
	}
	// ts falls inside page 0
	if first[len(first)-1].Timestamp > ts || len(first) < e.cfg.PageSize {
		return best
	}

	probesLeft := e.cfg.BinarySearchMaxProbes

	// Exponential probe out to the first page beyond ts.
	low, high, bound := 1, 1, -1
	for probesLeft > 0 {
		probesLeft--
		ticks, err := e.page(ctx, epoch, high)
		if err != nil || len(ticks) == 0 {
			bound = high
			break
		}
		if t := lastAtOrBefore(ticks, ts); t != nil {
			best = t
		}
		if ticks[len(ticks)-1].Timestamp > ts || len(ticks) < e.cfg.PageSize {
			bound = high
			break
		}
		low = high + 1
		high *= 2
	}
	if bound < 0 {
		return best // probe budget exhausted
	}

	// Binary-narrow between the last fully-older page and the bound.
	high = bound - 1
	for low <= high && probesLeft > 0 {
		probesLeft--
		mid := low + (high-low)/2
		ticks, err := e.page(ctx, epoch, mid)
		if err != nil || len(ticks) == 0 {
			high = mid - 1
			continue
		}
		if t := lastAtOrBefore(ticks, ts); t != nil {
			if best == nil || t.Number > best.Number {
				best = t
			}
		}
		if ticks[len(ticks)-1].Timestamp > ts {
			high = mid - 1
		} else {
			low = mid + 1
		}
	}
	return best
}

// lastAtOrBefore returns the newest tick on the page with timestamp <= ts.
// Pages are ascending, so it scans from the back.
func lastAtOrBefore(ticks []model.Tick, ts int64) *model.Tick {
	for i := len(ticks) - 1; i >= 0; i-- {
		if ticks[i].Timestamp <= ts {
			return &ticks[i]
		}
	}
	return nil
}

func exactIn(ticks []model.Tick, n uint64) *model.Tick {
	for i := range ticks {
		if ticks[i].Number == n {
			return &ticks[i]
		}
	}
	return nil
}

func closestIn(ticks []model.Tick, n uint64) *model.Tick {
	var best *model.Tick
	for i := range ticks {
		best = closerTick(best, &ticks[i], n)
	}
	return best
}

// closerTick picks whichever of a, b is nearer to n, preferring the older
// tick on a distance tie.
func closerTick(a, b *model.Tick, n uint64) *model.Tick {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	da, db := absDiff(a.Number, n), absDiff(b.Number, n)
	if db < da || (db == da && b.Number < a.Number) {
		return b
	}
	return a
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
