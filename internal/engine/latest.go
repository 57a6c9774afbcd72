package engine

import (
	"context"
	"fmt"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
)

// ResolveLatestSafeBlock computes the tick to report as "latest".
//
// The safety buffer trails the absolute head because the most recent ticks
// may not have had their transactions indexed upstream yet, which would
// break the "all events available" guarantee downstream. Before a
// candidate is returned, its transaction endpoint is probed: the selector
// never reports a tick whose transactions are currently unreachable, at
// the cost of lagging further behind the head under sustained upstream
// instability.
func (e *Engine) ResolveLatestSafeBlock(ctx context.Context) (*model.Tick, error) {
	var out model.Tick
	err := e.observe(ctx, "resolve_latest_safe_block", nil, func(ctx context.Context) error {
		head, err := e.headTick(ctx)
		if err != nil {
			return err
		}

		candidate := uint64(0)
		if head > e.cfg.SafetyBuffer {
			candidate = head - e.cfg.SafetyBuffer
		}

		// Probe the buffered candidate, then progressively older ticks,
		// most-recent-first and strictly older than the head, up to the
		// bounded candidate count.
		for i := 0; i <= e.cfg.LatestFallbackCandidates; i++ {
			if candidate < uint64(i) {
				break
			}
			n := candidate - uint64(i)
			if !e.verifyAvailability(ctx, n) {
				e.logger.Debug("latest candidate failed availability probe", "tick", n)
				continue
			}
			if i > 0 {
				metrics.EngineFallbacksTotal.WithLabelValues("latest_older_candidate").Inc()
			}

			t, exact, err := e.locateTick(ctx, n)
			if err != nil || !exact || t.Unverified {
				// Verified transactions but no locatable tick record:
				// treat like a failed candidate and keep walking back.
				e.logger.Debug("latest candidate verified but not locatable", "tick", n, "error", err)
				continue
			}
			out = t
			return nil
		}

		return fmt.Errorf("%w: no safe tick verified within %d candidates below %d",
			ErrUnavailable, e.cfg.LatestFallbackCandidates, candidate)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// verifyAvailability is a lightweight existence probe of a tick's
// transaction data, not a full transaction load. Success caches the list
// for the extractor to reuse.
func (e *Engine) verifyAvailability(ctx context.Context, n uint64) bool {
	_, err := e.transactions(ctx, n)
	return err == nil
}
