package cache

import (
	"sync"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// PageKey identifies one fetched page of an epoch tick listing.
type PageKey struct {
	Epoch uint32
	Page  int
}

// Store is the process-wide cache backing the resolution engine.
//
// Tick, epoch-listing, epoch-range, and transaction entries never expire:
// the ledger is append-only and immutable once surfaced, so a record fetched
// once is valid for the process lifetime. Only the head/status snapshot
// carries a TTL. Writes are idempotent last-write-wins puts keyed by stable
// identity, so concurrent requests can interleave freely.
type Store struct {
	mu        sync.RWMutex
	ticks     map[uint64]model.Tick
	txs       map[uint64][]model.TransactionRecord
	pages     map[PageKey][]model.Tick
	ranges    map[uint32]model.EpochRange
	status    *model.Status
	statusAt  time.Time
	statusTTL time.Duration
	nowFn     func() time.Time

	flight singleflight.Group
}

// NewStore creates an empty store. statusTTL bounds how long a head/status
// snapshot is served before a refresh is required.
func NewStore(statusTTL time.Duration) *Store {
	return &Store{
		ticks:     make(map[uint64]model.Tick),
		txs:       make(map[uint64][]model.TransactionRecord),
		pages:     make(map[PageKey][]model.Tick),
		ranges:    make(map[uint32]model.EpochRange),
		statusTTL: statusTTL,
		nowFn:     time.Now,
	}
}

// GetTick returns a cached tick by number.
func (s *Store) GetTick(n uint64) (model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[n]
	s.observe("tick", ok)
	return t, ok
}

// PutTick caches a tick and widens its epoch's observed range. Placeholder
// ticks are not cached: they carry no verified chain data.
func (s *Store) PutTick(t model.Tick) {
	if t.Unverified {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[t.Number] = t
	s.widenLocked(t.Epoch, t.Number)
}

// GetTransactions returns the cached transaction list for a tick. The bool
// distinguishes "cached as empty" from "never fetched".
func (s *Store) GetTransactions(tick uint64) ([]model.TransactionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs, ok := s.txs[tick]
	s.observe("transactions", ok)
	return txs, ok
}

// PutTransactions caches the transaction list for a tick.
func (s *Store) PutTransactions(tick uint64, txs []model.TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txs == nil {
		txs = []model.TransactionRecord{}
	}
	s.txs[tick] = txs
}

// GetPage returns a cached epoch listing page.
func (s *Store) GetPage(key PageKey) ([]model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticks, ok := s.pages[key]
	s.observe("page", ok)
	return ticks, ok
}

// PutPage caches an epoch listing page, caches its ticks, and widens the
// epoch's observed range to cover them.
func (s *Store) PutPage(key PageKey, ticks []model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[key] = ticks
	for _, t := range ticks {
		s.ticks[t.Number] = t
		s.widenLocked(key.Epoch, t.Number)
	}
}

// GetRange returns the observed range for an epoch.
func (s *Store) GetRange(epoch uint32) (model.EpochRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ranges[epoch]
	return r, ok
}

// Ranges returns a snapshot of all observed epoch ranges.
func (s *Store) Ranges() []model.EpochRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EpochRange, 0, len(s.ranges))
	for _, r := range s.ranges {
		out = append(out, r)
	}
	return out
}

// WidenRange extends the observed range of an epoch to cover n.
func (s *Store) WidenRange(epoch uint32, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widenLocked(epoch, n)
}

// MarkFullyScanned records that every page of an epoch has been fetched,
// making its observed bounds authoritative.
func (s *Store) MarkFullyScanned(epoch uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ranges[epoch]
	if !ok {
		return // nothing observed, nothing to make authoritative
	}
	r.FullyScanned = true
	s.ranges[epoch] = r
}

// GetStatus returns the head/status snapshot if it is still fresh.
func (s *Store) GetStatus() (*model.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil || s.nowFn().Sub(s.statusAt) > s.statusTTL {
		s.observe("status", false)
		return nil, false
	}
	s.observe("status", true)
	st := *s.status
	return &st, true
}

// PutStatus stores a fresh head/status snapshot.
func (s *Store) PutStatus(st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &st
	s.statusAt = s.nowFn()
}

// Do deduplicates concurrent identical loads: while one caller executes fn
// for a key, other callers of the same key wait and share its result.
func (s *Store) Do(key string, fn func() (any, error)) (any, error) {
	v, err, shared := s.flight.Do(key, fn)
	if shared {
		metrics.CacheSingleflightShared.Inc()
	}
	return v, err
}

func (s *Store) widenLocked(epoch uint32, n uint64) {
	r, ok := s.ranges[epoch]
	if !ok {
		r = model.EpochRange{Epoch: epoch}
	}
	r.Widen(n)
	s.ranges[epoch] = r
}

func (s *Store) observe(kind string, hit bool) {
	if hit {
		metrics.CacheHits.WithLabelValues(kind).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
	}
}
