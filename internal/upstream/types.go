package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
)

// APIError is a non-2xx archive response.
type APIError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s: http status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *APIError) StatusCode() int {
	return e.Status
}

// tickEnvelope covers the tick shapes seen across archive deployments.
// Older nodes report "number" and second-precision timestamps; newer ones
// report "tickNumber" and milliseconds. Normalization to model.Tick happens
// here and nowhere else.
type tickEnvelope struct {
	TickNumber  uint64 `json:"tickNumber"`
	Number      uint64 `json:"number"`
	Timestamp   int64  `json:"timestamp"`
	TimestampMs int64  `json:"timestampMs"`
	Epoch       uint32 `json:"epoch"`
}

func (e tickEnvelope) normalize(fallbackEpoch uint32, raw json.RawMessage) model.Tick {
	n := e.TickNumber
	if n == 0 {
		n = e.Number
	}
	ts := e.TimestampMs
	if ts == 0 {
		ts = e.Timestamp
		if ts != 0 && ts < 1e12 {
			ts *= 1000 // second precision
		}
	}
	epoch := e.Epoch
	if epoch == 0 {
		epoch = fallbackEpoch
	}
	return model.Tick{Number: n, Timestamp: ts, Epoch: epoch, Raw: raw}
}

// epochTicksResponse accepts {"ticks": [...]} and bare-array listings.
type epochTicksResponse struct {
	raw []json.RawMessage
}

func (r *epochTicksResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Ticks []json.RawMessage `json:"ticks"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Ticks != nil {
		r.raw = wrapped.Ticks
		return nil
	}
	return json.Unmarshal(data, &r.raw)
}

func (r *epochTicksResponse) normalize(epoch uint32) ([]model.Tick, error) {
	ticks := make([]model.Tick, 0, len(r.raw))
	for _, item := range r.raw {
		var env tickEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			return nil, fmt.Errorf("decode tick: %w", err)
		}
		t := env.normalize(epoch, item)
		if t.Number == 0 {
			continue // empty ticks are omitted from listings
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// txEnvelope covers the transaction shapes seen across archive deployments.
type txEnvelope struct {
	TxID      string `json:"txId"`
	Hash      string `json:"hash"`
	Index     *int   `json:"index"`
	Source    string `json:"source"`
	SourceID  string `json:"sourceId"`
	Procedure string `json:"procedure"`
	InputType string `json:"inputType"`
	PairID    string `json:"pairId"`
	Pool      string `json:"pool"`

	Amount0In  string `json:"amount0In"`
	Amount0Out string `json:"amount0Out"`
	Amount1In  string `json:"amount1In"`
	Amount1Out string `json:"amount1Out"`
	Amount0    string `json:"amount0"`
	Amount1    string `json:"amount1"`
	Reserve0   string `json:"reserve0"`
	Reserve1   string `json:"reserve1"`
}

func (e txEnvelope) normalize(tick uint64, position int, raw json.RawMessage) model.TransactionRecord {
	id := e.TxID
	if id == "" {
		id = e.Hash
	}
	source := e.Source
	if source == "" {
		source = e.SourceID
	}
	typ := e.Procedure
	if typ == "" {
		typ = e.InputType
	}
	pair := e.PairID
	if pair == "" {
		pair = e.Pool
	}
	index := position
	if e.Index != nil {
		index = *e.Index
	}
	return model.TransactionRecord{
		TickNumber: tick,
		Index:      index,
		ID:         id,
		Source:     source,
		Type:       typ,
		PairID:     pair,
		Amount0In:  e.Amount0In,
		Amount0Out: e.Amount0Out,
		Amount1In:  e.Amount1In,
		Amount1Out: e.Amount1Out,
		Amount0:    e.Amount0,
		Amount1:    e.Amount1,
		Reserve0:   e.Reserve0,
		Reserve1:   e.Reserve1,
		Raw:        raw,
	}
}

// transactionsResponse accepts {"transactions": [...]} and bare arrays.
type transactionsResponse struct {
	raw []json.RawMessage
}

func (r *transactionsResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Transactions != nil {
		r.raw = wrapped.Transactions
		return nil
	}
	return json.Unmarshal(data, &r.raw)
}

func (r *transactionsResponse) normalize(tick uint64) ([]model.TransactionRecord, error) {
	txs := make([]model.TransactionRecord, 0, len(r.raw))
	for i, item := range r.raw {
		var env txEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		txs = append(txs, env.normalize(tick, i, item))
	}
	return txs, nil
}

type headResponse struct {
	LatestTick uint64 `json:"latestTick"`
	// some deployments wrap the value
	Data struct {
		LatestTick uint64 `json:"latestTick"`
	} `json:"data"`
}

func (r headResponse) latest() uint64 {
	if r.LatestTick != 0 {
		return r.LatestTick
	}
	return r.Data.LatestTick
}

type statusResponse struct {
	LastProcessedTick struct {
		TickNumber uint64 `json:"tickNumber"`
		Epoch      uint32 `json:"epoch"`
	} `json:"lastProcessedTick"`
}

// assetResponse accepts {"asset": {...}} and flat shapes.
type assetResponse struct {
	Asset model.Asset
}

func (r *assetResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Asset *model.Asset `json:"asset"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Asset != nil {
		r.Asset = *wrapped.Asset
		return nil
	}
	return json.Unmarshal(data, &r.Asset)
}

// pairResponse accepts {"pair": {...}}, {"pool": {...}} and flat shapes.
type pairResponse struct {
	Pair model.Pair
}

func (r *pairResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Pair *model.Pair `json:"pair"`
		Pool *model.Pair `json:"pool"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Pair != nil {
			r.Pair = *wrapped.Pair
			return nil
		}
		if wrapped.Pool != nil {
			r.Pair = *wrapped.Pool
			return nil
		}
	}
	return json.Unmarshal(data, &r.Pair)
}
