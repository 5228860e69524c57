// Package config loads the soak simulator's settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/playback"
)

// Config holds the simulator settings. Command-line flags override it.
type Config struct {
	Log        LogConfig
	Metrics    MetricsConfig
	Simulation SimulationConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics and pprof. Empty disables the
	// HTTP server.
	Addr string
}

type SimulationConfig struct {
	Duration        time.Duration
	Tick            time.Duration
	Algorithm       string
	Controller      string
	TargetLatencyMs int64
	MaxDriftMs      int64
	CatchupRate     float64
	CountryCode     string
	NetworkType     string
	// Realtime paces the simulation with the wall clock instead of running
	// as fast as possible.
	Realtime bool
	Seed     int64
}

// Load reads LIVEBWE_* variables, falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("LIVEBWE_LOG_LEVEL", "info"),
			Format: getEnv("LIVEBWE_LOG_FORMAT", "console"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("LIVEBWE_METRICS_ADDR", ""),
		},
		Simulation: SimulationConfig{
			Duration:        getEnvDuration("LIVEBWE_DURATION", 10*time.Minute),
			Tick:            getEnvDuration("LIVEBWE_TICK", 100*time.Millisecond),
			Algorithm:       getEnv("LIVEBWE_ALGORITHM", bwe.AlgorithmDefault),
			Controller:      getEnv("LIVEBWE_CONTROLLER", playback.KindHysteresis),
			TargetLatencyMs: getEnvInt64("LIVEBWE_TARGET_LATENCY_MS", 3000),
			MaxDriftMs:      getEnvInt64("LIVEBWE_MAX_DRIFT_MS", -1),
			CatchupRate:     getEnvFloat("LIVEBWE_CATCHUP_RATE", 1.3),
			CountryCode:     getEnv("LIVEBWE_COUNTRY", ""),
			NetworkType:     getEnv("LIVEBWE_NETWORK_TYPE", "wifi"),
			Realtime:        getEnvBool("LIVEBWE_REALTIME", false),
			Seed:            getEnvInt64("LIVEBWE_SEED", 1),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the simulation settings.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", s.Duration)
	}
	if s.Tick <= 0 || s.Tick > s.Duration {
		return fmt.Errorf("tick must be within (0, %v], got %v", s.Duration, s.Tick)
	}
	if s.Algorithm != bwe.AlgorithmDefault && s.Algorithm != bwe.AlgorithmLowLatency {
		return fmt.Errorf("unknown algorithm %q", s.Algorithm)
	}
	if s.Controller != playback.KindHysteresis && s.Controller != playback.KindProportional {
		return fmt.Errorf("unknown controller %q", s.Controller)
	}
	if _, err := bwe.ParseNetworkType(s.NetworkType); err != nil {
		return err
	}
	return nil
}

// ControllerOptions translates the settings into controller options. A
// negative MaxDriftMs keeps the controller's default drift.
func (s SimulationConfig) ControllerOptions() []playback.Option {
	opts := []playback.Option{
		playback.WithTargetLatency(s.TargetLatencyMs),
		playback.WithCatchupPlaybackRate(float32(s.CatchupRate)),
	}
	if s.MaxDriftMs >= 0 {
		opts = append(opts, playback.WithMaxDrift(s.MaxDriftMs))
	}
	return opts
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}
