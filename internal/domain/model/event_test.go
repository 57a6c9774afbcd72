package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortEvents_BlockThenEventIndex(t *testing.T) {
	events := []Event{
		{BlockNumber: 1004, EventIndex: 0, TxnID: "d"},
		{BlockNumber: 1000, EventIndex: 1, TxnID: "b"},
		{BlockNumber: 1000, EventIndex: 0, TxnID: "a"},
		{BlockNumber: 1002, EventIndex: 0, TxnID: "c"},
	}

	SortEvents(events)

	got := make([]string, 0, len(events))
	for _, e := range events {
		got = append(got, e.TxnID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestSortEvents_StableOnTies(t *testing.T) {
	events := []Event{
		{BlockNumber: 1000, EventIndex: 0, TxnID: "first"},
		{BlockNumber: 1000, EventIndex: 0, TxnID: "second"},
	}

	SortEvents(events)

	assert.Equal(t, "first", events[0].TxnID)
	assert.Equal(t, "second", events[1].TxnID)
}

func TestEvent_Less(t *testing.T) {
	a := Event{BlockNumber: 1000, EventIndex: 5}
	b := Event{BlockNumber: 1001, EventIndex: 0}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))

	c := Event{BlockNumber: 1000, EventIndex: 6}
	assert.True(t, a.Less(c))
}
