// Package api provides the HTTP API for BeeWatch.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/api/handler"
	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/featureflags"
	"github.com/beewatch/beewatch/internal/provider/resilience"
)

// GridService generates grids and describes the pipeline producing them.
type GridService interface {
	handler.GridGenerator
	handler.Pipeline
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Grid               GridService
	FeatureFlagService *featureflags.Service
	Registry           *resilience.Registry
	Database           handler.Pinger

	// TokenValidator guards the admin endpoints. They are not mounted when nil.
	TokenValidator middleware.TokenValidator

	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string

	RequireTLS bool

	// StaticDir is served at / when set.
	StaticDir string

	// Rate limits. Zero values use the middleware defaults.
	GridRateLimit     middleware.RateLimitConfig
	AdminRateLimit    middleware.RateLimitConfig
	StandardRateLimit middleware.RateLimitConfig

	// MaxRadius caps the cell cost charged for a single grid request.
	MaxRadius int
}

func orDefault(cfg, def middleware.RateLimitConfig) middleware.RateLimitConfig {
	if cfg.RequestLimit <= 0 || cfg.WindowLength <= 0 {
		return def
	}
	return cfg
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "beewatch-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", middleware.HeaderGridMode, middleware.HeaderGridClassifier},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy

	var flags handler.DegradationFlags
	if cfg.FeatureFlagService != nil {
		flags = cfg.FeatureFlagService
	}
	opsCfg := handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Flags:     flags,
		Registry:  cfg.Registry,
		Database:  cfg.Database,
	}
	if cfg.Grid != nil {
		opsCfg.Pipeline = cfg.Grid
	}
	opsHandler := handler.NewOpsHandler(opsCfg)

	gridRateLimit := middleware.GridCellLimit(
		orDefault(cfg.GridRateLimit, middleware.GridCellRateLimit),
		handler.DefaultRadius,
		cfg.MaxRadius,
	)
	standardRateLimit := middleware.RateLimitByIP(orDefault(cfg.StandardRateLimit, middleware.StandardRateLimit))

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		if cfg.Grid != nil {
			hexGridHandler := handler.NewHexGridHandler(cfg.Grid, cfg.Logger)
			r.With(gridRateLimit).Get("/api/generate_hexgrid", hexGridHandler.GenerateHexGrid)
			r.With(gridRateLimit).Get("/v1/hexgrid", hexGridHandler.GenerateHexGrid)
		}

		r.Route("/v1/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		if cfg.TokenValidator != nil && cfg.FeatureFlagService != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

			r.Route("/v1/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(cfg.TokenValidator))
				r.Use(middleware.RateLimitByOperator(orDefault(cfg.AdminRateLimit, middleware.AdminRateLimit)))
				r.Use(middleware.RequireJSON)

				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
					r.Delete("/{key}", featureFlagsHandler.ResetFeatureFlag)
				})
			})
		}
	})

	if cfg.StaticDir != "" {
		r.With(middleware.MapSecurityHeaders).Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}
