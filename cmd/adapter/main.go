package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aleishio/qubic-dextools-adapter/internal/api"
	"github.com/aleishio/qubic-dextools-adapter/internal/cache"
	"github.com/aleishio/qubic-dextools-adapter/internal/circuitbreaker"
	"github.com/aleishio/qubic-dextools-adapter/internal/config"
	"github.com/aleishio/qubic-dextools-adapter/internal/engine"
	"github.com/aleishio/qubic-dextools-adapter/internal/tracing"
	"github.com/aleishio/qubic-dextools-adapter/internal/upstream"
	"golang.org/x/sync/errgroup"
)

const serviceName = "qubic-dextools-adapter"

func main() {
	if err := run(); err != nil {
		slog.Error("adapter exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	endpoints := upstream.DefaultEndpoints()
	if cfg.Upstream.EndpointsFile != "" {
		endpoints, err = upstream.LoadEndpoints(cfg.Upstream.EndpointsFile)
		if err != nil {
			return fmt.Errorf("load endpoints: %w", err)
		}
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("upstream breaker state change", "from", from.String(), "to", to.String())
		},
	})

	client := upstream.NewClient(cfg.Upstream.BaseURL, logger,
		upstream.WithEndpoints(endpoints),
		upstream.WithLimiter(upstream.NewLimiter(cfg.Upstream.RateLimitRPS, cfg.Upstream.RateLimitBurst)),
		upstream.WithBreaker(breaker),
		upstream.WithRetry(cfg.Upstream.RetryMaxAttempts, cfg.Upstream.BackoffInitial, cfg.Upstream.BackoffMax),
		upstream.WithCallTimeout(cfg.Upstream.CallTimeout),
	)

	store := cache.NewStore(cfg.Engine.StatusTTL)
	eng := engine.New(client, store, logger, engine.Config{
		PageSize:                 cfg.Engine.PageSize,
		SafetyBuffer:             cfg.Engine.SafetyBuffer,
		AdjacentPageWalk:         cfg.Engine.AdjacentPageWalk,
		BinarySearchMaxProbes:    cfg.Engine.BinarySearchMaxProbes,
		AdjacentEpochTries:       cfg.Engine.AdjacentEpochTries,
		LatestFallbackCandidates: cfg.Engine.LatestFallbackCandidates,
		TimestampEpochScanBound:  cfg.Engine.TimestampEpochScanBound,
		EpochProbeBound:          cfg.Engine.EpochProbeBound,
	})

	apiServer := api.NewServer(eng, client, cfg.Server.EventsRangeCap, logger)
	handler := apiServer.Handler(
		api.Observability(logger),
		api.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("adapter listening",
			"addr", httpServer.Addr,
			"upstream", cfg.Upstream.BaseURL,
			"safety_buffer", cfg.Engine.SafetyBuffer,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
