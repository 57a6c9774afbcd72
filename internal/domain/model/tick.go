package model

import "encoding/json"

// Tick is the ledger's atomic position unit, analogous to a block.
// Identity is Number; a tick is immutable once observed.
type Tick struct {
	Number    uint64          `json:"tickNumber"`
	Timestamp int64           `json:"timestamp"` // epoch millis
	Epoch     uint32          `json:"epoch"`
	Raw       json.RawMessage `json:"-"`

	// Unverified marks a placeholder produced when no upstream data could
	// be located for the requested number. Placeholders are never treated
	// as real chain ticks by the latest-safe selector.
	Unverified bool `json:"-"`
}

// EpochRange holds the observed [MinTick, MaxTick] bounds of an epoch.
// Bounds reflect only the pages fetched so far and only ever widen;
// they are not the epoch's true bounds until FullyScanned is set.
type EpochRange struct {
	Epoch        uint32
	MinTick      uint64
	MaxTick      uint64
	FullyScanned bool
}

// Contains reports whether n falls inside the observed bounds.
// Both bounds are inclusive.
func (r EpochRange) Contains(n uint64) bool {
	return n >= r.MinTick && n <= r.MaxTick
}

// Widen extends the observed bounds to cover n.
func (r *EpochRange) Widen(n uint64) {
	if r.MinTick == 0 && r.MaxTick == 0 {
		r.MinTick, r.MaxTick = n, n
		return
	}
	if n < r.MinTick {
		r.MinTick = n
	}
	if n > r.MaxTick {
		r.MaxTick = n
	}
}

// TransactionRecord is a normalized per-tick transaction entry, keyed by
// (TickNumber, Index). All upstream shape variants are converted into this
// type at the upstream boundary before any other component sees them.
type TransactionRecord struct {
	TickNumber uint64
	Index      int
	ID         string // transaction hash
	Source     string // initiating identity
	Type       string // upstream procedure name, e.g. "qswap_swap_exact_qu_for_asset"

	PairID     string
	Amount0In  string
	Amount0Out string
	Amount1In  string
	Amount1Out string
	Amount0    string
	Amount1    string
	Reserve0   string
	Reserve1   string

	Raw json.RawMessage
}

// Status is the upstream head/status snapshot.
type Status struct {
	LatestTick   uint64
	CurrentEpoch uint32
}
