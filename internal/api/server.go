// Package api is the thin translation layer between the resolution engine
// and HTTP consumers. Field renames (tick->block, transaction->event) happen
// here and nowhere else; no algorithmic content lives in this package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/cache"
	"github.com/aleishio/qubic-dextools-adapter/internal/domain/model"
	"github.com/aleishio/qubic-dextools-adapter/internal/engine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const assetCacheTTL = 10 * time.Minute

// Resolver is the engine surface the API serves.
type Resolver interface {
	ResolveLatestSafeBlock(ctx context.Context) (*model.Tick, error)
	ResolveBlockByNumber(ctx context.Context, n uint64) (*model.Tick, error)
	ResolveBlockByTimestamp(ctx context.Context, ts int64) (*model.Tick, error)
	ListEventsInRange(ctx context.Context, from, to uint64) ([]model.Event, error)
}

// Directory serves the auxiliary asset/pair lookups.
type Directory interface {
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	GetPair(ctx context.Context, id string) (*model.Pair, error)
}

type Server struct {
	resolver   Resolver
	directory  Directory
	logger     *slog.Logger
	rangeCap   uint64
	assetCache *cache.LRU[string, model.Asset]
	pairCache  *cache.LRU[string, model.Pair]
}

// NewServer creates the API server. rangeCap caps the [fromBlock, toBlock]
// window before a request reaches the range collector.
func NewServer(resolver Resolver, directory Directory, rangeCap uint64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		resolver:   resolver,
		directory:  directory,
		logger:     logger.With("component", "api"),
		rangeCap:   rangeCap,
		assetCache: cache.NewLRU[string, model.Asset](1024, assetCacheTTL),
		pairCache:  cache.NewLRU[string, model.Pair](1024, assetCacheTTL),
	}
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler(mw ...Middleware) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /latest-block", s.handleLatestBlock)
	mux.HandleFunc("GET /block", s.handleBlock)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /asset", s.handleAsset)
	mux.HandleFunc("GET /pair", s.handlePair)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// blockView is the outward block shape derived from a tick.
type blockView struct {
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"blockTimestamp"`
}

func blockFromTick(t *model.Tick) blockView {
	return blockView{BlockNumber: t.Number, BlockTimestamp: t.Timestamp}
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	t, err := s.resolver.ResolveLatestSafeBlock(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"block": blockFromTick(t)})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	numberParam := q.Get("number")
	timestampParam := q.Get("timestamp")

	var (
		t   *model.Tick
		err error
	)
	switch {
	case numberParam != "":
		n, perr := strconv.ParseUint(numberParam, 10, 64)
		if perr != nil {
			s.writeBadRequest(w, "number must be a non-negative integer")
			return
		}
		t, err = s.resolver.ResolveBlockByNumber(r.Context(), n)
	case timestampParam != "":
		ts, perr := strconv.ParseInt(timestampParam, 10, 64)
		if perr != nil || ts < 0 {
			s.writeBadRequest(w, "timestamp must be a non-negative integer (epoch millis)")
			return
		}
		t, err = s.resolver.ResolveBlockByTimestamp(r.Context(), ts)
	default:
		s.writeBadRequest(w, "either number or timestamp is required")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"block": blockFromTick(t)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := strconv.ParseUint(q.Get("fromBlock"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "fromBlock must be a non-negative integer")
		return
	}
	to, err := strconv.ParseUint(q.Get("toBlock"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "toBlock must be a non-negative integer")
		return
	}
	if from > to {
		s.writeBadRequest(w, "fromBlock must not exceed toBlock")
		return
	}
	if to-from+1 > s.rangeCap {
		s.writeBadRequest(w, fmt.Sprintf("range wider than %d blocks", s.rangeCap))
		return
	}

	events, err := s.resolver.ListEventsInRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeBadRequest(w, "id is required")
		return
	}
	if asset, ok := s.assetCache.Get(id); ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"asset": asset})
		return
	}
	asset, err := s.directory.GetAsset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.assetCache.Put(id, *asset)
	s.writeJSON(w, http.StatusOK, map[string]any{"asset": asset})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeBadRequest(w, "id is required")
		return
	}
	if pair, ok := s.pairCache.Get(id); ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"pair": pair})
		return
	}
	pair, err := s.directory.GetPair(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.pairCache.Put(id, *pair)
	s.writeJSON(w, http.StatusOK, map[string]any{"pair": pair})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, engine.ErrUnavailable):
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream unavailable"})
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream error"})
	}
}
