// Package main provides the agentcore CLI.
//
// agentcore drives a single agent session from the command line and prints
// every event it emits as one JSON object per line.
//
//	agentcore exec "list the files in this repo"
//	agentcore git create sdd/feature
//	agentcore compact --resume ~/.agentcore/sessions/2026/10/14/rollout-....jsonl
//	agentcore review --base develop-main
//	agentcore config schema > agentcore.schema.json
//
// Configuration is read from the file named by --config and from AGENTCORE_*
// environment variables. AGENTCORE_API_KEY holds the provider key.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/martinemde/agentcore/config"
	"github.com/martinemde/agentcore/telemetry"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

const originator = "agentcore_cli"

// globalFlags holds the flags shared by every subcommand.
type globalFlags struct {
	configPath  string
	cwd         string
	logLevel    string
	metricsAddr string
}

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "Run a coding agent session",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.cwd, "cwd", "", "Working directory for the session")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		buildExecCmd(flags),
		buildGitCmd(flags),
		buildCompactCmd(flags),
		buildReviewCmd(flags),
		buildConfigCmd(),
	)
	return rootCmd
}

// app is the process-wide state a command runs with.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	stop    func()
}

// setup loads the configuration, applies flag overrides, and starts the
// metrics endpoint when one is configured.
func setup(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.cwd != "" {
		cfg.Cwd = flags.cwd
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(reg),
		stop:    func() {},
	}
	if cfg.MetricsAddr != "" {
		rt.stop = serveMetrics(cfg.MetricsAddr, reg, logger)
	}
	return rt, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
