package model

import "sort"

type EventType string

const (
	EventCreation EventType = "creation"
	EventSwap     EventType = "swap"
	EventJoin     EventType = "join"
	EventExit     EventType = "exit"
)

// Event is a typed domain record derived from one ledger transaction.
// Ordering key is (BlockNumber asc, EventIndex asc); EventIndex is unique
// within a block.
type Event struct {
	BlockNumber    uint64    `json:"blockNumber"`
	BlockTimestamp int64     `json:"blockTimestamp"`
	TxnID          string    `json:"txnId"`
	TxnIndex       int       `json:"txnIndex"`
	EventIndex     int       `json:"eventIndex"`
	Maker          string    `json:"maker"`
	PairID         string    `json:"pairId"`
	EventType      EventType `json:"eventType"`

	// swap
	Amount0In  string `json:"asset0In,omitempty"`
	Amount0Out string `json:"asset0Out,omitempty"`
	Amount1In  string `json:"asset1In,omitempty"`
	Amount1Out string `json:"asset1Out,omitempty"`

	// join / exit
	Amount0 string `json:"amount0,omitempty"`
	Amount1 string `json:"amount1,omitempty"`

	Reserves *Reserves `json:"reserves,omitempty"`
}

type Reserves struct {
	Asset0 string `json:"asset0"`
	Asset1 string `json:"asset1"`
}

// Less orders events by (BlockNumber, EventIndex).
func (e Event) Less(other Event) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.EventIndex < other.EventIndex
}

// SortEvents sorts events in place by the canonical ordering key.
// The sort is stable so unexpected key ties keep their input order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})
}
