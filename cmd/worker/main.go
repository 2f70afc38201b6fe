package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/beewatch/beewatch/internal/config"
	"github.com/beewatch/beewatch/internal/database"
	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/pipeline"
	"github.com/beewatch/beewatch/internal/provider/resilience"
	"github.com/beewatch/beewatch/internal/telemetry"
	"github.com/beewatch/beewatch/internal/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "beewatch-worker",
	Short: "Run the BeeWatch dataset extraction worker",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		work(configPath)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a beewatch.yaml file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func work(configPath string) {
	const serviceName = "beewatch-worker"

	_ = godotenv.Load() //nolint:errcheck // optional file

	cfg, err := config.Load(configPath)
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, err := config.NewLogger(cfg.Log, os.Stdout, serviceName, Version)
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("failed to create logger")
	}
	log.Info().Str("build_time", BuildTime).Msg("starting BeeWatch worker")

	if cfg.PubSub.ProjectID == "" {
		log.Fatal().Msg("pubsub.project_id is required")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, pipeline.Telemetry(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	p, err := pipeline.Build(cfg, pipeline.Options{Logger: log, Registry: resilience.NewRegistry()})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	schema := dataset.SchemaFor(p.Thresholds)
	var store dataset.DB
	if cfg.Dataset.Store {
		pool, err := database.Connect(ctx, pipeline.Database(cfg.Database))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := dataset.NewStore(dataset.StoreConfig{DB: pool, Schema: schema}).EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create dataset table")
		}
		store = pool
	}

	extractCfg := worker.DefaultExtractConfig()
	extractCfg.Timeout = cfg.Dataset.Timeout

	job, err := worker.NewExtractJob(worker.ExtractJobConfig{
		Config:     extractCfg,
		Logger:     log,
		Provider:   p.Provider,
		Thresholds: p.Thresholds,
		Assembler:  p.Assembler,
		NewSink:    pipeline.SinkFactory(cfg.Dataset, schema, store),
		Pause:      cfg.Dataset.Pause,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create extract job")
	}

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.PubSub.ProjectID,
		SubscriptionName: cfg.PubSub.Subscription,
		ExtractJob:       job,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if err := handler.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}()

	// Worker also exposes health endpoint for Cloud Run
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // best effort
			"status":  "healthy",
			"version": Version,
			"jobs":    job.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start receiving jobs
	go func() {
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pubsub receive stopped")
			cancel()
		}
	}()

	// Wait for interrupt signal or a failed receiver
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
