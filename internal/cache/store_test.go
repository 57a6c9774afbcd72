package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_TickRoundTrip(t *testing.T) {
	s := NewStore(30 * time.Second)

	_, ok := s.GetTick(100)
	assert.False(t, ok)

	s.PutTick(model.Tick{Number: 100, Timestamp: 1700000000000, Epoch: 7})

	tick, ok := s.GetTick(100)
	require.True(t, ok)
	assert.Equal(t, uint64(100), tick.Number)
	assert.Equal(t, uint32(7), tick.Epoch)

	// tick put widens the epoch's observed range
	r, ok := s.GetRange(7)
	require.True(t, ok)
	assert.Equal(t, uint64(100), r.MinTick)
	assert.Equal(t, uint64(100), r.MaxTick)
}

func TestStore_UnverifiedTicksNotCached(t *testing.T) {
	s := NewStore(30 * time.Second)

	s.PutTick(model.Tick{Number: 5, Epoch: 1, Unverified: true})

	_, ok := s.GetTick(5)
	assert.False(t, ok)
	_, ok = s.GetRange(1)
	assert.False(t, ok)
}

func TestStore_PutPageCachesTicksAndWidensRange(t *testing.T) {
	s := NewStore(30 * time.Second)

	s.PutPage(PageKey{Epoch: 3, Page: 0}, []model.Tick{
		{Number: 300, Epoch: 3},
		{Number: 305, Epoch: 3},
		{Number: 310, Epoch: 3},
	})

	ticks, ok := s.GetPage(PageKey{Epoch: 3, Page: 0})
	require.True(t, ok)
	assert.Len(t, ticks, 3)

	_, ok = s.GetTick(305)
	assert.True(t, ok)

	r, ok := s.GetRange(3)
	require.True(t, ok)
	assert.Equal(t, uint64(300), r.MinTick)
	assert.Equal(t, uint64(310), r.MaxTick)
	assert.False(t, r.FullyScanned)

	// ranges only widen
	s.WidenRange(3, 299)
	s.WidenRange(3, 304)
	r, _ = s.GetRange(3)
	assert.Equal(t, uint64(299), r.MinTick)
	assert.Equal(t, uint64(310), r.MaxTick)
}

func TestStore_MarkFullyScanned(t *testing.T) {
	s := NewStore(30 * time.Second)

	// nothing observed: no range entry is conjured up
	s.MarkFullyScanned(9)
	_, ok := s.GetRange(9)
	assert.False(t, ok)

	s.WidenRange(9, 42)
	s.MarkFullyScanned(9)
	r, ok := s.GetRange(9)
	require.True(t, ok)
	assert.True(t, r.FullyScanned)
}

func TestStore_TransactionsDistinguishEmptyFromAbsent(t *testing.T) {
	s := NewStore(30 * time.Second)

	_, ok := s.GetTransactions(50)
	assert.False(t, ok)

	s.PutTransactions(50, nil)

	txs, ok := s.GetTransactions(50)
	require.True(t, ok, "cached-empty must be a hit")
	assert.Empty(t, txs)
}

func TestStore_StatusTTL(t *testing.T) {
	s := NewStore(30 * time.Second)

	now := time.Now()
	s.nowFn = func() time.Time { return now }

	_, ok := s.GetStatus()
	assert.False(t, ok)

	s.PutStatus(model.Status{LatestTick: 999, CurrentEpoch: 12})

	st, ok := s.GetStatus()
	require.True(t, ok)
	assert.Equal(t, uint64(999), st.LatestTick)

	now = now.Add(31 * time.Second)
	_, ok = s.GetStatus()
	assert.False(t, ok, "snapshot should be stale")
}

func TestStore_DoDeduplicatesConcurrentLoads(t *testing.T) {
	s := NewStore(30 * time.Second)

	var calls atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Do("same-key", func() (any, error) {
				calls.Add(1)
				<-release
				return "loaded", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let all goroutines pile onto the key before releasing the load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "only one load should execute")
	for _, v := range results {
		assert.Equal(t, "loaded", v)
	}
}

func TestStore_Ranges(t *testing.T) {
	s := NewStore(30 * time.Second)

	s.WidenRange(1, 100)
	s.WidenRange(2, 200)

	ranges := s.Ranges()
	assert.Len(t, ranges, 2)
}
