package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep() func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error { return nil }
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, nil, opts...)
	c.sleepFn = noSleep()
	return c
}

func TestGetHead_FlatAndWrapped(t *testing.T) {
	tests := []struct {
		name string
		body string
		want uint64
	}{
		{"flat", `{"latestTick": 21180050}`, 21180050},
		{"wrapped", `{"data": {"latestTick": 21180050}}`, 21180050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/latestTick", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			head, err := c.GetHead(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, head)
		})
	}
}

func TestGetHead_EmptyResponseIsError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	_, err := c.GetHead(context.Background())
	assert.Error(t, err)
}

func TestListEpochTicks_ShapeVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped millis", `{"ticks": [{"tickNumber": 21180000, "timestampMs": 1700000000000, "epoch": 145}]}`},
		{"bare array legacy fields", `[{"number": 21180000, "timestamp": 1700000000}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/epochs/145/ticks", r.URL.Path)
				assert.Equal(t, "0", r.URL.Query().Get("page"))
				assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
				w.Write([]byte(tt.body))
			}))
			ticks, err := c.ListEpochTicks(context.Background(), 145, 0, 100)
			require.NoError(t, err)
			require.Len(t, ticks, 1)
			assert.Equal(t, uint64(21180000), ticks[0].Number)
			assert.Equal(t, int64(1700000000000), ticks[0].Timestamp, "second-precision timestamps normalize to millis")
			assert.Equal(t, uint32(145), ticks[0].Epoch, "missing epoch falls back to the requested one")
		})
	}
}

func TestListTickTransactions_Normalization(t *testing.T) {
	body := `{"transactions": [
		{"txId": "tx-a", "source": "MAKER1", "procedure": "qswap_swap_exact_qu_for_asset", "pairId": "pool-1"},
		{"hash": "tx-b", "sourceId": "MAKER2", "inputType": "qswap_add_liquidity", "pool": "pool-1", "index": 5}
	]}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/ticks/21180000/transactions", r.URL.Path)
		w.Write([]byte(body))
	}))

	txs, err := c.ListTickTransactions(context.Background(), 21180000)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "tx-a", txs[0].ID)
	assert.Equal(t, "MAKER1", txs[0].Source)
	assert.Equal(t, "qswap_swap_exact_qu_for_asset", txs[0].Type)
	assert.Equal(t, "pool-1", txs[0].PairID)
	assert.Equal(t, 0, txs[0].Index, "position fallback when index is absent")

	assert.Equal(t, "tx-b", txs[1].ID)
	assert.Equal(t, "MAKER2", txs[1].Source)
	assert.Equal(t, "qswap_add_liquidity", txs[1].Type)
	assert.Equal(t, 5, txs[1].Index, "explicit index wins over position")
}

func TestGet_RateLimitRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"latestTick": 7}`))
	}))

	head, err := c.GetHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), head)
	assert.Equal(t, int64(3), calls.Load())
}

func TestGet_RateLimitExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}), WithRetry(3, time.Millisecond, time.Millisecond))

	_, err := c.GetHead(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestGet_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.GetHead(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "only rate-limit responses are retried")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestGet_NotFoundSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "tick not found"}`))
	}))

	_, err := c.ListTickTransactions(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "tick not found")
}

func TestGetAsset_FallsThroughVariants(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/v1/assets/QFT/issued" {
			w.Write([]byte(`{"asset": {"name": "QFortress", "symbol": "QFT"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	asset, err := c.GetAsset(context.Background(), "QFT")
	require.NoError(t, err)
	assert.Equal(t, "QFT", asset.ID, "id backfilled from the lookup key")
	assert.Equal(t, "QFortress", asset.Name)
	assert.Equal(t, []string{"/v1/qswap/assets/QFT", "/v1/assets/QFT/issued"}, paths)
}

func TestGetAsset_AllVariantsFail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetAsset(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoint variants failed")
}

func TestGetPair_WrappedPoolShape(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pool": {"id": "pool-1", "asset0Id": "QU", "asset1Id": "QFT"}}`))
	}))

	pair, err := c.GetPair(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "pool-1", pair.ID)
	assert.Equal(t, "QU", pair.Asset0ID)
	assert.Equal(t, "QFT", pair.Asset1ID)
}

func TestGetStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		w.Write([]byte(`{"lastProcessedTick": {"tickNumber": 21180050, "epoch": 145}}`))
	}))

	st, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(21180050), st.LatestTick)
	assert.Equal(t, uint32(145), st.CurrentEpoch)
}
