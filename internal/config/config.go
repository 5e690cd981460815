package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the TapCanvas AI engine.
type Config struct {
	Port      int
	Version   string
	Telemetry TelemetryConfig
	Assist    AssistConfig
	Plans     PlanConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AssistConfig struct {
	// MaxAttempts bounds the "at least one action" retry loop.
	MaxAttempts int
	// RequestTimeout applies to each upstream model call.
	RequestTimeout time.Duration
	// ThinkingDelay paces thinking-trace emissions; zero disables pacing.
	ThinkingDelay time.Duration
}

type PlanConfig struct {
	// TerminalTTL is how long completed/aborted plans stay addressable
	// before the janitor evicts them.
	TerminalTTL time.Duration
	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("TAPCANVAS_PORT", 8090),
		Version: envStr("TAPCANVAS_VERSION", "0.4.0"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "tapcanvas-ai-engine"),
		},
		Assist: AssistConfig{
			MaxAttempts:    envInt("TAPCANVAS_ASSIST_MAX_ATTEMPTS", 3),
			RequestTimeout: envDur("TAPCANVAS_ASSIST_TIMEOUT", 120*time.Second),
			ThinkingDelay:  envDur("TAPCANVAS_THINKING_DELAY", 0),
		},
		Plans: PlanConfig{
			TerminalTTL:   envDur("TAPCANVAS_PLAN_TTL", time.Hour),
			SweepInterval: envDur("TAPCANVAS_PLAN_SWEEP_INTERVAL", 5*time.Minute),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
