package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Middleware func(http.Handler) http.Handler

// staleLimiterTTL is how long a per-client limiter can sit idle before the
// sweep drops it.
const staleLimiterTTL = 10 * time.Minute

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Observability tags each request with a correlation id, logs it, and
// records route metrics.
func Observability(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set("X-Request-Id", requestID)

			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.code)).Inc()
			metrics.APIRequestLatency.WithLabelValues(route).Observe(elapsed.Seconds())
			logger.Info("request served",
				"request_id", requestID,
				"method", r.Method,
				"path", route,
				"query", r.URL.RawQuery,
				"code", rec.code,
				"duration", elapsed,
			)
		})
	}
}

// RateLimit applies a per-client token bucket keyed by remote IP.
type rateLimiters struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	nowFn     func() time.Time
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func RateLimit(rps float64, burst int) Middleware {
	l := &rateLimiters{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		nowFn:   time.Now,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				metrics.APIRateLimited.Inc()
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *rateLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if now.Sub(l.lastSweep) > staleLimiterTTL {
		for key, e := range l.entries {
			if now.Sub(e.lastSeen) > staleLimiterTTL {
				delete(l.entries, key)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
