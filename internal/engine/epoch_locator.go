package engine

import (
	"context"

	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
)

// locateEpoch returns the epoch id most likely to contain tick n.
//
// Cached observed ranges are checked first (both bounds inclusive). On a
// miss, epochs are probed outward from the head (head, head-1, head+1,
// head-2, …): recent lookups dominate traffic, so epochs nearer the head
// are checked first. Each unprobed epoch gets its first listing page
// fetched to establish an observed range. When no probed range contains n,
// the epoch with the greatest observed MinTick <= n is the best guess;
// failing even that, the head epoch is returned as a last resort.
func (e *Engine) locateEpoch(ctx context.Context, n uint64) (uint32, error) {
	for _, r := range e.store.Ranges() {
		if r.Contains(n) {
			return r.Epoch, nil
		}
	}

	headEpoch, err := e.currentEpoch(ctx)
	if err != nil {
		return 0, err
	}

	for _, candidate := range probeSequence(headEpoch, e.cfg.EpochProbeBound) {
		r, ok := e.store.GetRange(candidate)
		if !ok {
			// Per-epoch probe failures are swallowed: the loop always
			// moves on to the next candidate.
			if _, pageErr := e.page(ctx, candidate, 0); pageErr != nil {
				e.logger.Debug("epoch probe failed", "epoch", candidate, "error", pageErr)
				continue
			}
			r, ok = e.store.GetRange(candidate)
			if !ok {
				continue // epoch listed no ticks at all
			}
		}
		if r.Contains(n) {
			return candidate, nil
		}
		// Ticks partition into consecutive epochs; once a probed epoch
		// starts below n and the next epoch starts above it, the lower
		// one must hold n even though its observed max has not reached
		// n yet.
		if r.MinTick <= n {
			if next, ok := e.store.GetRange(candidate + 1); ok && next.MinTick > n {
				e.store.WidenRange(candidate, n)
				return candidate, nil
			}
		}
	}

	if best, ok := e.bestGuessEpoch(n); ok {
		metrics.EngineFallbacksTotal.WithLabelValues("epoch_best_guess").Inc()
		return best, nil
	}

	metrics.EngineFallbacksTotal.WithLabelValues("epoch_head_fallback").Inc()
	e.logger.Warn("no epoch range contains tick; falling back to head epoch", "tick", n, "head_epoch", headEpoch)
	return headEpoch, nil
}

// bestGuessEpoch picks the cached epoch with the greatest MinTick <= n.
func (e *Engine) bestGuessEpoch(n uint64) (uint32, bool) {
	var best uint32
	var bestMin uint64
	found := false
	for _, r := range e.store.Ranges() {
		if r.MinTick <= n && (!found || r.MinTick > bestMin) {
			best = r.Epoch
			bestMin = r.MinTick
			found = true
		}
	}
	return best, found
}

// probeSequence yields head, head-1, head+1, head-2, head+2, … bounded so
// all historically known epochs below the head are covered.
func probeSequence(head uint32, bound int) []uint32 {
	seq := make([]uint32, 0, 2*bound+1)
	seq = append(seq, head)
	for d := 1; d <= bound; d++ {
		if uint32(d) <= head {
			seq = append(seq, head-uint32(d))
		}
		seq = append(seq, head+uint32(d))
	}
	return seq
}
