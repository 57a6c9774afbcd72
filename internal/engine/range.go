package engine

import (
	"context"
	"sort"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
)

// collectRange returns every tick with from <= number <= to, ascending.
// maxResults <= 0 means unbounded; correctness-critical callers pass 0
// because a missed tick can never be indexed later.
//
// A filtered result of zero ticks is a valid empty result. The engine
// never substitutes unrelated recent ticks for an empty range.
func (e *Engine) collectRange(ctx context.Context, from, to uint64, maxResults int) ([]model.Tick, error) {
	if from > to {
		return nil, nil
	}

	epochs, err := e.candidateEpochs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]model.Tick)
	for _, epoch := range epochs {
		e.collectFromEpoch(ctx, epoch, from, to, maxResults, seen)
		if maxResults > 0 && len(seen) >= maxResults {
			break
		}
	}

	out := make([]model.Tick, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// candidateEpochs determines which epochs could overlap [from, to]:
// cached overlapping ranges first; else the epochs containing from and to
// plus everything between; else an exhaustive scan over all known epochs.
// The exhaustive fallback is intentional: correctness outweighs cost here
// because ticks missed by the collector are unrecoverable downstream.
func (e *Engine) candidateEpochs(ctx context.Context, from, to uint64) ([]uint32, error) {
	var cached []uint32
	for _, r := range e.store.Ranges() {
		if r.MinTick <= to && r.MaxTick >= from {
			cached = append(cached, r.Epoch)
		}
	}
	if len(cached) > 0 {
		sort.Slice(cached, func(i, j int) bool { return cached[i] < cached[j] })
		return cached, nil
	}

	eFrom, errFrom := e.locateEpoch(ctx, from)
	eTo, errTo := e.locateEpoch(ctx, to)
	if errFrom == nil && errTo == nil {
		if eFrom > eTo {
			eFrom, eTo = eTo, eFrom
		}
		epochs := make([]uint32, 0, eTo-eFrom+1)
		for ep := eFrom; ep <= eTo; ep++ {
			epochs = append(epochs, ep)
		}
		return epochs, nil
	}

	metrics.EngineFallbacksTotal.WithLabelValues("range_exhaustive_scan").Inc()
	e.logger.Warn("epoch resolution failed; scanning all known epochs",
		"from", from, "to", to, "from_err", errFrom, "to_err", errTo)

	head, err := e.currentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	epochs := make([]uint32, 0, head+1)
	for ep := uint32(0); ep <= head; ep++ {
		epochs = append(epochs, ep)
	}
	return epochs, nil
}

// collectFromEpoch fetches only the pages whose index window could contain
// [from, to], not the whole epoch. Page failures are swallowed so the scan
// continues with whatever is reachable.
func (e *Engine) collectFromEpoch(ctx context.Context, epoch uint32, from, to uint64, maxResults int, seen map[uint64]model.Tick) {
	r, ok := e.store.GetRange(epoch)
	if !ok {
		if _, err := e.page(ctx, epoch, 0); err != nil {
			e.logger.Debug("epoch unavailable during range collection", "epoch", epoch, "error", err)
			return
		}
		r, ok = e.store.GetRange(epoch)
		if !ok {
			return
		}
	}
	if r.MinTick > to {
		return
	}

	// Offset estimate for the first relevant page. Listings omit empty
	// ticks, so the estimate can only overshoot; walk back until the page
	// starts at or below from.
	start := 0
	if from > r.MinTick {
		start = int((from - r.MinTick) / uint64(e.cfg.PageSize))
	}
	for start > 0 {
		ticks, err := e.page(ctx, epoch, start)
		if err != nil {
			e.logger.Debug("page fetch failed during walk-back", "epoch", epoch, "page", start, "error", err)
			start--
			continue
		}
		if len(ticks) == 0 || ticks[0].Number <= from {
			break
		}
		start--
	}

	for p := start; ; p++ {
		ticks, err := e.page(ctx, epoch, p)
		if err != nil {
			e.logger.Warn("page fetch failed during range collection", "epoch", epoch, "page", p, "error", err)
			return
		}
		if len(ticks) == 0 {
			e.store.MarkFullyScanned(epoch)
			return
		}
		for _, t := range ticks {
			if t.Number >= from && t.Number <= to {
				seen[t.Number] = t
				if maxResults > 0 && len(seen) >= maxResults {
					return
				}
			}
		}
		if ticks[0].Number > to {
			return
		}
		if len(ticks) < e.cfg.PageSize {
			e.store.MarkFullyScanned(epoch)
			return
		}
	}
}
