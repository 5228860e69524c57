// Command soak runs a simulated live session against the bandwidth meter and
// a playback rate controller, and checks that the estimate stays sane and the
// latency settles at its target.
//
// Usage:
//
//	go run ./cmd/soak --duration 1h --algorithm lowlatency --controller proportional
//	go run ./cmd/soak --metrics-addr :6060 --realtime
//
// Settings are read from LIVEBWE_* environment variables (and a .env file
// when present); flags take precedence. With --metrics-addr the command
// serves /metrics and /debug/pprof/ while it runs:
//
//	curl http://localhost:6060/debug/pprof/heap > heap.pprof
//	go tool pprof heap.pprof
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof endpoints
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thesyncim/livebwe/internal/config"
	"github.com/thesyncim/livebwe/internal/logging"
	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/playback"
	"github.com/thesyncim/livebwe/pkg/telemetry"
)

const metricsNamespace = "livebwe"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var linkJitter float64

	cmd := &cobra.Command{
		Use:          "soak",
		Short:        "Simulate a live session against the bandwidth meter and playback controller",
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.Duration("duration", 0, "simulated session length (e.g. 10m, 24h)")
	flags.Duration("tick", 0, "controller update interval")
	flags.String("algorithm", "", "bandwidth algorithm: default or lowlatency")
	flags.String("controller", "", "playback controller: hysteresis or proportional")
	flags.Int64("target-latency", 0, "target live latency in milliseconds")
	flags.Int64("max-drift", 0, "allowed latency drift in milliseconds")
	flags.Float64("catchup-rate", 0, "catch-up playback speed")
	flags.String("country", "", "ISO 3166-1 alpha-2 country code for initial estimates")
	flags.String("network-type", "", "network type for initial estimates")
	flags.Bool("realtime", false, "pace the simulation with the wall clock")
	flags.Int64("seed", 0, "link random walk seed")
	flags.Float64Var(&linkJitter, "link-jitter", 0.15, "relative link rate change every 5s")
	flags.String("metrics-addr", "", "serve /metrics and pprof on this address")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load(".env")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := run(ctx, cfg, linkJitter)
		if err != nil {
			return err
		}
		printSummary(cmd, result)
		if !result.Passed() {
			return errors.New("soak failed")
		}
		return nil
	}
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	sim := &cfg.Simulation
	var err error

	if flags.Changed("duration") {
		if sim.Duration, err = flags.GetDuration("duration"); err != nil {
			return err
		}
	}
	if flags.Changed("tick") {
		if sim.Tick, err = flags.GetDuration("tick"); err != nil {
			return err
		}
	}
	if flags.Changed("algorithm") {
		if sim.Algorithm, err = flags.GetString("algorithm"); err != nil {
			return err
		}
	}
	if flags.Changed("controller") {
		if sim.Controller, err = flags.GetString("controller"); err != nil {
			return err
		}
	}
	if flags.Changed("target-latency") {
		if sim.TargetLatencyMs, err = flags.GetInt64("target-latency"); err != nil {
			return err
		}
	}
	if flags.Changed("max-drift") {
		if sim.MaxDriftMs, err = flags.GetInt64("max-drift"); err != nil {
			return err
		}
	}
	if flags.Changed("catchup-rate") {
		if sim.CatchupRate, err = flags.GetFloat64("catchup-rate"); err != nil {
			return err
		}
	}
	if flags.Changed("country") {
		if sim.CountryCode, err = flags.GetString("country"); err != nil {
			return err
		}
	}
	if flags.Changed("network-type") {
		if sim.NetworkType, err = flags.GetString("network-type"); err != nil {
			return err
		}
	}
	if flags.Changed("realtime") {
		if sim.Realtime, err = flags.GetBool("realtime"); err != nil {
			return err
		}
	}
	if flags.Changed("seed") {
		if sim.Seed, err = flags.GetInt64("seed"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics-addr") {
		if cfg.Metrics.Addr, err = flags.GetString("metrics-addr"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		if cfg.Log.Level, err = flags.GetString("log-level"); err != nil {
			return err
		}
	}
	if flags.Changed("log-format") {
		if cfg.Log.Format, err = flags.GetString("log-format"); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, linkJitter float64) (Result, error) {
	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync() //nolint:errcheck

	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session", sessionID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	meterMetrics, err := telemetry.NewMeterCollector(reg, metricsNamespace)
	if err != nil {
		return Result{}, fmt.Errorf("registering meter metrics: %w", err)
	}

	var recorderErr error
	sim, err := NewSimulation(cfg.Simulation, linkJitter, simulationDeps{
		log:           logger,
		loggerFactory: logging.NewLoggerFactory(logger),
		listeners:     []bwe.EventListener{meterMetrics},
		wrapSpeed: func(next playback.SpeedHandler) playback.SpeedHandler {
			recorder, err := telemetry.NewSpeedRecorder(reg, metricsNamespace, next)
			if err != nil {
				recorderErr = err
				return next
			}
			return recorder
		},
		sessionID: sessionID,
	})
	if err != nil {
		return Result{}, err
	}
	if recorderErr != nil {
		return Result{}, fmt.Errorf("registering playback metrics: %w", recorderErr)
	}

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	logger.Info("starting soak",
		zap.Duration("duration", cfg.Simulation.Duration),
		zap.String("algorithm", cfg.Simulation.Algorithm),
		zap.String("controller", cfg.Simulation.Controller),
		zap.Int64("target_latency_ms", cfg.Simulation.TargetLatencyMs),
		zap.Bool("realtime", cfg.Simulation.Realtime),
	)
	result, err := sim.Run(ctx)
	if err != nil {
		return result, err
	}
	logger.Info("soak finished",
		zap.Int64("final_estimate_bps", result.FinalEstimate),
		zap.Int64("final_latency_ms", result.FinalLatencyMs),
		zap.Bool("passed", result.Passed()),
	)
	return result, nil
}

// newMetricsServer serves the registry on /metrics and the default mux's
// pprof handlers under /debug/pprof/.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func printSummary(cmd *cobra.Command, r Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "Soak Test Complete\n")
	fmt.Fprintf(out, "==================\n")
	fmt.Fprintf(out, "Session:           %s\n", r.SessionID)
	fmt.Fprintf(out, "Simulated time:    %v\n", r.Duration.Round(time.Second))
	fmt.Fprintf(out, "Segments:          %d\n", r.Segments)
	fmt.Fprintf(out, "Transferred:       %.2f MB\n", float64(r.BytesTransferred)/(1024*1024))
	fmt.Fprintf(out, "Final estimate:    %.2f Mbps (link %.2f Mbps)\n", mbps(r.FinalEstimate), mbps(r.FinalLinkRate))
	fmt.Fprintf(out, "Estimate range:    %.2f - %.2f Mbps\n", mbps(r.MinEstimate), mbps(r.MaxEstimate))
	fmt.Fprintf(out, "Final latency:     %d ms (target %d ms, band ±%d ms)\n", r.FinalLatencyMs, r.TargetLatencyMs, r.BandMs)
	fmt.Fprintf(out, "Time in band:      %.1f%%\n", 100*r.InBandRatio)
	fmt.Fprintf(out, "Stalls:            %d\n", r.Stalls)
	fmt.Fprintf(out, "Speed changes:     %d\n", r.SpeedChanges)
	fmt.Fprintf(out, "\n")

	fmt.Fprintf(out, "Pass Criteria:\n")
	fmt.Fprintf(out, "  - Final estimate > 0:     %s\n", checkMark(r.FinalEstimate > 0))
	errMs := r.FinalLatencyMs - r.TargetLatencyMs
	fmt.Fprintf(out, "  - Latency within band:    %s\n", checkMark(errMs <= r.BandMs && errMs >= -r.BandMs))
	for _, f := range r.Failures {
		fmt.Fprintf(out, "  ! %s\n", f)
	}
}

func mbps(bps int64) float64 {
	return float64(bps) / 1e6
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
