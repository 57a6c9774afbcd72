package engine

import (
	"context"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// eventTypeTable maps upstream qswap procedures to domain event types.
// Unrecognized procedures are dropped, not errored: ticks carry plenty of
// traffic that is not pool activity.
var eventTypeTable = map[string]model.EventType{
	"qswap_create_pool":             model.EventCreation,
	"qswap_swap_exact_qu_for_asset": model.EventSwap,
	"qswap_swap_exact_asset_for_qu": model.EventSwap,
	"qswap_swap_qu_for_exact_asset": model.EventSwap,
	"qswap_swap_asset_for_exact_qu": model.EventSwap,
	"qswap_add_liquidity":           model.EventJoin,
	"qswap_remove_liquidity":        model.EventExit,
}

// ListEventsInRange returns every event with from <= blockNumber <= to in
// (blockNumber, eventIndex) order. Missing data never fails the call: an
// unreachable tick contributes no events and the range without it is still
// returned; no ticks in range yields an empty sequence.
func (e *Engine) ListEventsInRange(ctx context.Context, from, to uint64) ([]model.Event, error) {
	events := []model.Event{}
	err := e.observe(ctx, "list_events_in_range", []attribute.KeyValue{
		attribute.Int64("from", int64(from)),
		attribute.Int64("to", int64(to)),
	}, func(ctx context.Context) error {
		ticks, err := e.collectRange(ctx, from, to, 0)
		if err != nil {
			return err
		}

		for _, tick := range ticks {
			txs, err := e.transactions(ctx, tick.Number)
			if err != nil {
				metrics.EngineFallbacksTotal.WithLabelValues("events_tick_skipped").Inc()
				e.logger.Warn("transactions unreachable; tick contributes no events",
					"tick", tick.Number, "error", err)
				continue
			}
			for _, tx := range txs {
				if ev, ok := eventFromTransaction(tick, tx); ok {
					events = append(events, ev)
				}
			}
		}

		model.SortEvents(events)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// eventFromTransaction maps one transaction to at most one event.
// EventIndex is the transaction index: with at most one event per
// transaction it stays unique within a block.
func eventFromTransaction(tick model.Tick, tx model.TransactionRecord) (model.Event, bool) {
	eventType, ok := eventTypeTable[tx.Type]
	if !ok {
		return model.Event{}, false
	}

	ev := model.Event{
		BlockNumber:    tick.Number,
		BlockTimestamp: tick.Timestamp,
		TxnID:          tx.ID,
		TxnIndex:       tx.Index,
		EventIndex:     tx.Index,
		Maker:          tx.Source,
		PairID:         tx.PairID,
		EventType:      eventType,
	}

	switch eventType {
	case model.EventSwap:
		ev.Amount0In = tx.Amount0In
		ev.Amount0Out = tx.Amount0Out
		ev.Amount1In = tx.Amount1In
		ev.Amount1Out = tx.Amount1Out
	case model.EventJoin, model.EventExit:
		ev.Amount0 = tx.Amount0
		ev.Amount1 = tx.Amount1
	}

	if tx.Reserve0 != "" || tx.Reserve1 != "" {
		ev.Reserves = &model.Reserves{Asset0: tx.Reserve0, Asset1: tx.Reserve1}
	}
	return ev, true
}
