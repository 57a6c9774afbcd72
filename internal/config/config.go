package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Upstream UpstreamConfig
	Engine   EngineConfig
	Server   ServerConfig
	Tracing  TracingConfig
	Log      LogConfig
}

type UpstreamConfig struct {
	BaseURL          string
	CallTimeout      time.Duration
	RetryMaxAttempts int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	EndpointsFile    string // optional YAML overlay of path templates
}

type EngineConfig struct {
	PageSize                 int
	SafetyBuffer             uint64
	AdjacentPageWalk         int
	BinarySearchMaxProbes    int
	AdjacentEpochTries       int
	LatestFallbackCandidates int
	TimestampEpochScanBound  int
	EpochProbeBound          int
	StatusTTL                time.Duration
}

type ServerConfig struct {
	Port           int
	EventsRangeCap uint64 // widest [fromBlock, toBlock] window accepted
	RateLimitRPS   float64
	RateLimitBurst int
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Upstream: UpstreamConfig{
			BaseURL:          getEnv("UPSTREAM_BASE_URL", "https://rpc.qubic.org"),
			CallTimeout:      time.Duration(getEnvInt("UPSTREAM_CALL_TIMEOUT_SEC", 10)) * time.Second,
			RetryMaxAttempts: getEnvInt("UPSTREAM_RETRY_MAX_ATTEMPTS", 4),
			BackoffInitial:   time.Duration(getEnvInt("UPSTREAM_BACKOFF_INITIAL_MS", 200)) * time.Millisecond,
			BackoffMax:       time.Duration(getEnvInt("UPSTREAM_BACKOFF_MAX_MS", 3000)) * time.Millisecond,
			RateLimitRPS:     getEnvFloat("UPSTREAM_RATE_LIMIT_RPS", 20),
			RateLimitBurst:   getEnvInt("UPSTREAM_RATE_LIMIT_BURST", 40),
			EndpointsFile:    getEnv("UPSTREAM_ENDPOINTS_FILE", ""),
		},
		Engine: EngineConfig{
			PageSize:                 getEnvInt("ENGINE_PAGE_SIZE", 100),
			SafetyBuffer:             uint64(getEnvInt("ENGINE_SAFETY_BUFFER", 10)),
			AdjacentPageWalk:         getEnvInt("ENGINE_ADJACENT_PAGE_WALK", 3),
			BinarySearchMaxProbes:    getEnvInt("ENGINE_BINARY_SEARCH_MAX_PROBES", 18),
			AdjacentEpochTries:       getEnvInt("ENGINE_ADJACENT_EPOCH_TRIES", 2),
			LatestFallbackCandidates: getEnvInt("ENGINE_LATEST_FALLBACK_CANDIDATES", 10),
			TimestampEpochScanBound:  getEnvInt("ENGINE_TIMESTAMP_EPOCH_SCAN_BOUND", 5),
			EpochProbeBound:          getEnvInt("ENGINE_EPOCH_PROBE_BOUND", 128),
			StatusTTL:                time.Duration(getEnvInt("ENGINE_STATUS_TTL_SEC", 30)) * time.Second,
		},
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			EventsRangeCap: uint64(getEnvInt("SERVER_EVENTS_RANGE_CAP", 1000)),
			RateLimitRPS:   getEnvFloat("SERVER_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("SERVER_RATE_LIMIT_BURST", 20),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if c.Engine.PageSize <= 0 {
		return fmt.Errorf("ENGINE_PAGE_SIZE must be positive")
	}
	if c.Server.EventsRangeCap == 0 {
		return fmt.Errorf("SERVER_EVENTS_RANGE_CAP must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
