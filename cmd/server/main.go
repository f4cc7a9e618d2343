package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bwallxyz/voicemod/internal/capture"
	"github.com/bwallxyz/voicemod/internal/codec"
	"github.com/bwallxyz/voicemod/internal/config"
	"github.com/bwallxyz/voicemod/internal/dispatch"
	"github.com/bwallxyz/voicemod/internal/media"
	"github.com/bwallxyz/voicemod/internal/metrics"
	"github.com/bwallxyz/voicemod/internal/server"
	"github.com/bwallxyz/voicemod/internal/sink"
	"github.com/bwallxyz/voicemod/internal/store"
	"github.com/bwallxyz/voicemod/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicemod"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("media_port", cfg.Media.Port),
		slog.String("media_codec", cfg.Media.Codec),
		slog.Int("input_sample_rate", cfg.Audio.InputSampleRate),
		slog.Int("provider_sample_rate", cfg.Audio.ProviderSampleRate),
		slog.Int("silence_threshold_ms", cfg.Capture.SilenceThresholdMs),
		slog.Int("stall_timeout_ms", cfg.Capture.StallTimeoutMs),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("storage_enabled", cfg.Storage.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Open transcript storage. A storage failure degrades the service to
	// provider-only dispatch rather than aborting startup.
	var db *store.Store
	if cfg.Storage.Enabled {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			logger.Warn("Failed to open transcript storage, running provider-only",
				slog.String("path", cfg.Storage.Path),
				slog.String("error", err.Error()),
			)
			db = nil
		} else {
			logger.Info("Transcript storage opened", slog.String("path", cfg.Storage.Path))
		}
	}

	// Initialize transcription client
	client, err := transcription.NewClient(transcription.Config{
		Endpoint:       cfg.Transcription.Endpoint,
		APIKey:         cfg.Transcription.APIKey,
		Model:          cfg.Transcription.Model,
		Timeout:        cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent:  cfg.Transcription.MaxConcurrent,
		ResponseFormat: cfg.Transcription.ResponseFormat,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription client initialized",
		slog.String("endpoint", cfg.Transcription.Endpoint),
		slog.Int("max_concurrent", cfg.Transcription.MaxConcurrent),
	)

	// Initialize media transport
	transport := media.NewTransport(cfg.Media, logger)

	// Initialize websocket hub and transcript sinks
	hub := sink.NewHub(logger, appMetrics)
	sinks := sink.Multi{sink.NewLogSink(logger), hub}

	// Initialize session registry and dispatcher. The dispatcher needs the
	// registry for liveness checks, the registry needs the dispatcher for
	// pipelines; the registry is created first with the dispatcher wired in
	// via the pipeline config afterwards.
	pipelineCfg := capture.PipelineConfig{
		SilenceThreshold:    cfg.Capture.GetSilenceThreshold(),
		StallTimeout:        cfg.Capture.GetStallTimeout(),
		WatchdogInterval:    cfg.Capture.GetWatchdogInterval(),
		MinUtteranceBytes:   cfg.Capture.MinUtteranceBytes,
		RecoveryCooldown:    cfg.Capture.GetRecoveryCooldown(),
		MaxRecoveryAttempts: cfg.Capture.MaxRecoveryAttempts,
		InputSampleRate:     cfg.Audio.InputSampleRate,
		ProviderSampleRate:  cfg.Audio.ProviderSampleRate,
		NewDecoder:          decoderFactory(cfg),
	}

	liveness := &registryLiveness{}
	dispatcher := dispatch.NewDispatcher(client, db, sinks, liveness, logger, appMetrics)
	registry := capture.NewRegistry(pipelineCfg, transport, dispatcher, logger, appMetrics)
	liveness.registry = registry

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, registry, dispatcher, client, db, hub, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start media transport
	if err := transport.Start(); err != nil {
		logger.Error("Failed to start media transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("media_address", fmt.Sprintf("%s:%d", cfg.Media.BindAddress, cfg.Media.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop media transport (stop accepting new frames)
	if err := transport.Stop(); err != nil {
		logger.Error("Error stopping media transport", slog.String("error", err.Error()))
	}

	// Stop all capture sessions, flushing pending utterances into the
	// dispatcher, then drain the dispatcher itself.
	registry.Stop()
	dispatcher.Close()
	client.Close()
	hub.Close()

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("Error closing transcript storage", slog.String("error", err.Error()))
		}
	}

	// Get final statistics
	transportStats := transport.GetStats()
	dispatchStats := dispatcher.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("packets_received", transportStats.PacketsReceived),
		slog.Uint64("frames_routed", transportStats.FramesRouted),
		slog.Uint64("parse_errors", transportStats.ParseErrors),
		slog.Int64("utterances_dispatched", dispatchStats.Dispatched),
		slog.Int64("transcripts_posted", dispatchStats.SinkPosts),
	)

	logger.Info("Service stopped")
}

// decoderFactory returns the per-pipeline decoder constructor for the
// configured media codec
func decoderFactory(cfg *config.Config) func() (codec.Decoder, error) {
	if cfg.Media.Codec == "opus" {
		rate := cfg.Audio.InputSampleRate
		return func() (codec.Decoder, error) {
			return codec.NewOpusDecoder(rate)
		}
	}
	return func() (codec.Decoder, error) {
		return codec.NewPCMDecoder(), nil
	}
}

// registryLiveness adapts the session registry to the dispatcher's
// liveness check. The indirection breaks the construction-order cycle
// between the two.
type registryLiveness struct {
	registry *capture.Registry
}

func (l *registryLiveness) SessionActive(sessionID string) bool {
	if l.registry == nil {
		return false
	}
	return l.registry.SessionActive(sessionID)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
