package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	latest    *model.Tick
	latestErr error
	byNumber  map[uint64]*model.Tick
	byTs      *model.Tick
	events    []model.Event
	eventsErr error
	err       error
}

func (f *fakeResolver) ResolveLatestSafeBlock(ctx context.Context) (*model.Tick, error) {
	return f.latest, f.latestErr
}

func (f *fakeResolver) ResolveBlockByNumber(ctx context.Context, n uint64) (*model.Tick, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.byNumber[n]; ok {
		return t, nil
	}
	return nil, engine.ErrNotFound
}

func (f *fakeResolver) ResolveBlockByTimestamp(ctx context.Context, ts int64) (*model.Tick, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTs, nil
}

func (f *fakeResolver) ListEventsInRange(ctx context.Context, from, to uint64) ([]model.Event, error) {
	return f.events, f.eventsErr
}

type fakeDirectory struct {
	assetCalls int
	pairCalls  int
	asset      *model.Asset
	pair       *model.Pair
	err        error
}

func (f *fakeDirectory) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	f.assetCalls++
	return f.asset, f.err
}

func (f *fakeDirectory) GetPair(ctx context.Context, id string) (*model.Pair, error) {
	f.pairCalls++
	return f.pair, f.err
}

func newTestHandler(resolver *fakeResolver, directory *fakeDirectory) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(resolver, directory, 1000, logger).Handler()
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleLatestBlock(t *testing.T) {
	resolver := &fakeResolver{latest: &model.Tick{Number: 21180040, Timestamp: 1700000000000}}
	rec := doGet(t, newTestHandler(resolver, &fakeDirectory{}), "/latest-block")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Block blockView `json:"block"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(21180040), body.Block.BlockNumber)
	assert.Equal(t, int64(1700000000000), body.Block.BlockTimestamp)
}

func TestHandleLatestBlock_Unavailable(t *testing.T) {
	resolver := &fakeResolver{latestErr: fmt.Errorf("%w: everything failed", engine.ErrUnavailable)}
	rec := doGet(t, newTestHandler(resolver, &fakeDirectory{}), "/latest-block")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleBlock_ByNumber(t *testing.T) {
	resolver := &fakeResolver{byNumber: map[uint64]*model.Tick{
		1002: {Number: 1002, Timestamp: 1700000001000},
	}}
	h := newTestHandler(resolver, &fakeDirectory{})

	rec := doGet(t, h, "/block?number=1002")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, h, "/block?number=9999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBlock_ByTimestamp(t *testing.T) {
	resolver := &fakeResolver{byTs: &model.Tick{Number: 1002, Timestamp: 1700000001000}}
	h := newTestHandler(resolver, &fakeDirectory{})

	rec := doGet(t, h, "/block?timestamp=1700000001500")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Block blockView `json:"block"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(1002), body.Block.BlockNumber)
}

func TestHandleBlock_Validation(t *testing.T) {
	h := newTestHandler(&fakeResolver{}, &fakeDirectory{})

	tests := []struct {
		name   string
		target string
	}{
		{"no params", "/block"},
		{"malformed number", "/block?number=abc"},
		{"negative number", "/block?number=-5"},
		{"malformed timestamp", "/block?timestamp=later"},
		{"negative timestamp", "/block?timestamp=-100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, h, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleEvents(t *testing.T) {
	resolver := &fakeResolver{events: []model.Event{
		{BlockNumber: 1000, EventIndex: 0, EventType: model.EventSwap},
		{BlockNumber: 1004, EventIndex: 0, EventType: model.EventJoin},
	}}
	rec := doGet(t, newTestHandler(resolver, &fakeDirectory{}), "/events?fromBlock=1000&toBlock=1005")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, model.EventSwap, body.Events[0].EventType)
}

func TestHandleEvents_EmptyRange(t *testing.T) {
	resolver := &fakeResolver{events: []model.Event{}}
	rec := doGet(t, newTestHandler(resolver, &fakeDirectory{}), "/events?fromBlock=1005&toBlock=1010")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events": []}`, rec.Body.String())
}

func TestHandleEvents_Validation(t *testing.T) {
	h := newTestHandler(&fakeResolver{}, &fakeDirectory{})

	tests := []struct {
		name   string
		target string
	}{
		{"missing bounds", "/events"},
		{"missing toBlock", "/events?fromBlock=10"},
		{"inverted bounds", "/events?fromBlock=20&toBlock=10"},
		{"range too wide", "/events?fromBlock=0&toBlock=5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, h, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAsset_CachesLookups(t *testing.T) {
	directory := &fakeDirectory{asset: &model.Asset{ID: "QFT", Name: "QFortress", Symbol: "QFT"}}
	h := newTestHandler(&fakeResolver{}, directory)

	rec := doGet(t, h, "/asset?id=QFT")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doGet(t, h, "/asset?id=QFT")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, directory.assetCalls, "second lookup is served from cache")

	rec = doGet(t, h, "/asset")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePair(t *testing.T) {
	directory := &fakeDirectory{pair: &model.Pair{ID: "pool-1", Asset0ID: "QU", Asset1ID: "QFT"}}
	h := newTestHandler(&fakeResolver{}, directory)

	rec := doGet(t, h, "/pair?id=pool-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pair model.Pair `json:"pair"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "QU", body.Pair.Asset0ID)
}

func TestHandlePair_UpstreamError(t *testing.T) {
	directory := &fakeDirectory{err: fmt.Errorf("all endpoint variants failed")}
	rec := doGet(t, newTestHandler(&fakeResolver{}, directory), "/pair?id=pool-404")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	rec := doGet(t, newTestHandler(&fakeResolver{}, &fakeDirectory{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doGet(t, newTestHandler(&fakeResolver{}, &fakeDirectory{}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
