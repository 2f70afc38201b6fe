// Package main provides the entrypoint for the BeeWatch API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/beewatch/beewatch/internal/api"
	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/auth"
	"github.com/beewatch/beewatch/internal/config"
	"github.com/beewatch/beewatch/internal/database"
	"github.com/beewatch/beewatch/internal/featureflags"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/pipeline"
	"github.com/beewatch/beewatch/internal/provider/resilience"
	"github.com/beewatch/beewatch/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "beewatch-api",
	Short: "Serve the BeeWatch hex-grid API",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		serve(configPath)
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

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func serve(configPath string) {
	const serviceName = "beewatch-api"

	// A missing .env is fine outside local development
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

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Str("mode", cfg.Grid.Mode).
		Msg("starting BeeWatch API")

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, pipeline.Telemetry(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	gridMetrics, err := grid.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize grid metrics")
		os.Exit(1)
	}

	// Connect to database when enabled
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		dbConfig := pipeline.Database(cfg.Database)
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	}

	// Initialize feature flags repository and service
	var ffRepo featureflags.Repository = featureflags.NewInMemoryRepository()
	if pool != nil {
		pgRepo := featureflags.NewPostgresRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create feature flags table")
		}
		ffRepo = pgRepo
	}
	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: ffRepo,
		Logger:     log,
		CacheTTL:   cfg.Flags.CacheTTL,
	})
	log.Info().Msg("feature flags service initialized")

	// Build the feature and classification pipeline
	registry := resilience.NewRegistry()
	p, err := pipeline.Build(cfg, pipeline.Options{
		Logger:   log,
		Registry: registry,
		Flags:    ffService,
		Metrics:  gridMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	log.Info().
		Str("provider", p.Grid.ProviderName()).
		Str("classifier", p.Grid.ClassifierName()).
		Int("max_radius", cfg.Grid.MaxRadius).
		Msg("grid pipeline initialized")

	routerCfg := api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            httpMetrics,
		Grid:               p.Grid,
		FeatureFlagService: ffService,
		Registry:           registry,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RequireTLS:         cfg.Server.RequireTLS,
		StaticDir:          cfg.Server.StaticDir,
		MaxRadius:          cfg.Grid.MaxRadius,
		GridRateLimit:      rateLimit(cfg.Server.RateLimit.GridCells, cfg.Server.RateLimit),
		AdminRateLimit:     rateLimit(cfg.Server.RateLimit.Admin, cfg.Server.RateLimit),
		StandardRateLimit:  rateLimit(cfg.Server.RateLimit.Standard, cfg.Server.RateLimit),
	}
	if pool != nil {
		routerCfg.Database = pool
	}

	// Admin endpoints are only mounted with a signing key
	if cfg.Admin.SigningKey != "" {
		routerCfg.TokenValidator = auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Admin.SigningKey,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
			Expiry:     cfg.Admin.TokenExpiry,
		})
	} else {
		log.Warn().Msg("admin signing key not configured - admin endpoints disabled")
	}

	router := api.NewRouter(routerCfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func rateLimit(limit int, cfg config.RateLimitConfig) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestLimit: limit, WindowLength: cfg.Window}
}
