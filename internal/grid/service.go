package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

const tracerName = "github.com/beewatch/beewatch/internal/grid"

// DefaultMaxRadius is the largest accepted radius, in rings, when none is configured.
const DefaultMaxRadius = 25

// Backend pairs a feature provider with the classifier that labels its cells.
type Backend struct {
	Provider   feature.Provider
	Classifier classify.Classifier
}

func (b *Backend) validate(name string) error {
	if b == nil {
		return nil
	}
	if b.Provider == nil || b.Classifier == nil {
		return fmt.Errorf("%s backend needs a provider and a classifier", name)
	}
	return nil
}

// Flags is the runtime switch set consulted per request.
type Flags interface {
	ForceSimulated(ctx context.Context) bool
	RulesOnly(ctx context.Context) bool
	SimulatedFallback(ctx context.Context) bool
	MaxRadius(ctx context.Context, limit int) int
}

// ServiceConfig holds configuration for the grid service.
type ServiceConfig struct {
	Tiler hexgrid.Tiler

	// Primary serves requests by default. It may be live or simulated.
	Primary Backend

	// Simulated serves simulated requests and the fallback when Primary is live.
	// Optional.
	Simulated *Backend

	// Rules replaces the primary classifier when rules-only classification is switched on.
	// Default: soil moisture thresholds
	Rules classify.Classifier

	Flags     Flags
	Assembler *Assembler

	// MaxRadius bounds Request.Radius.
	// Default: 25
	MaxRadius int

	Logger  zerolog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Service generates classified grids.
type Service struct {
	tiler     hexgrid.Tiler
	primary   Backend
	simulated *Backend
	rules     classify.Classifier
	flags     Flags
	assembler *Assembler
	maxRadius int
	logger    zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewService creates a new grid service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Tiler == nil {
		return nil, errors.New("grid service needs a tiler")
	}
	if err := cfg.Primary.validate("primary"); err != nil {
		return nil, err
	}
	if err := cfg.Simulated.validate("simulated"); err != nil {
		return nil, err
	}
	if cfg.Simulated != nil && cfg.Simulated.Provider.Mode() != feature.ModeSimulated {
		return nil, errors.New("simulated backend reports live mode")
	}
	if cfg.Rules == nil {
		cfg.Rules = classify.NewRuleBased(classify.SoilMoistureRules())
	}
	if cfg.Assembler == nil {
		cfg.Assembler = NewAssembler(AssemblerConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.MaxRadius <= 0 {
		cfg.MaxRadius = DefaultMaxRadius
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		tiler:     cfg.Tiler,
		primary:   cfg.Primary,
		simulated: cfg.Simulated,
		rules:     cfg.Rules,
		flags:     cfg.Flags,
		assembler: cfg.Assembler,
		maxRadius: cfg.MaxRadius,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

// Mode returns the mode requests are served in by default.
func (s *Service) Mode() feature.Mode {
	return s.primary.Provider.Mode()
}

// ProviderName returns the name of the primary provider.
func (s *Service) ProviderName() string {
	return s.primary.Provider.Name()
}

// ClassifierName returns the name of the primary classifier.
func (s *Service) ClassifierName() string {
	return s.primary.Classifier.Name()
}

// MaxRadius returns the radius limit in effect for ctx.
func (s *Service) MaxRadius(ctx context.Context) int {
	if s.flags == nil {
		return s.maxRadius
	}
	return s.flags.MaxRadius(ctx, s.maxRadius)
}

// Generate validates req, tiles the area, resolves the window and assembles the grid.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "grid.Generate",
		trace.WithAttributes(
			attribute.Float64("grid.center.lat", req.Center.Lat),
			attribute.Float64("grid.center.lon", req.Center.Lon),
			attribute.Int("grid.resolution", req.Resolution),
			attribute.Int("grid.radius", req.Radius),
		),
	)
	defer span.End()

	result, err := s.generate(ctx, req)

	mode := string(s.Mode())
	if result != nil {
		mode = string(result.Mode)
		span.SetAttributes(
			attribute.String("grid.mode", mode),
			attribute.String("grid.window", result.Window.String()),
			attribute.Int("grid.cells.requested", result.Summary.Requested),
			attribute.Int("grid.cells.assembled", result.Summary.Assembled),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.recordGenerate(ctx, mode, time.Since(start), err)

	return result, err
}

func (s *Service) generate(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	backend, err := s.backendFor(ctx, req.Mode)
	if err != nil {
		return nil, err
	}

	cells, err := s.tiler.Tile(req.Center, req.Resolution, req.Radius)
	if err != nil {
		return nil, err
	}

	result, window, err := s.run(ctx, backend, cells, req.Window)
	if err == nil || !s.canFallBack(ctx, backend, err) {
		return result, err
	}

	s.logger.Warn().
		Err(err).
		Str("provider", backend.Provider.Name()).
		Int("cells", len(cells)).
		Msg("live provider unavailable, serving simulated grid")
	s.metrics.recordFallback(ctx, fallbackReason(err))

	// A window the live provider already resolved is kept for the simulated run.
	fallbackWindow := req.Window
	if !window.Start.IsZero() {
		fallbackWindow = &window
	}
	result, _, err = s.run(ctx, *s.simulated, cells, fallbackWindow)
	return result, err
}

func (s *Service) validate(ctx context.Context, req Request) error {
	if err := req.Center.Validate(); err != nil {
		return err
	}
	if err := hexgrid.ValidateResolution(req.Resolution); err != nil {
		return err
	}
	if limit := s.MaxRadius(ctx); req.Radius < 0 || req.Radius > limit {
		return fmt.Errorf("%w: radius %d outside [0, %d]", hexgrid.ErrInvalidParameter, req.Radius, limit)
	}
	if req.Window != nil && !req.Window.Start.Before(req.Window.End) {
		return fmt.Errorf("%w: empty window %s", hexgrid.ErrInvalidParameter, req.Window)
	}
	return nil
}

// backendFor picks the backend for a requested mode. A request may narrow a live
// server to simulated data but never widen a simulated server to live data.
func (s *Service) backendFor(ctx context.Context, mode feature.Mode) (Backend, error) {
	forced := s.flags != nil && s.flags.ForceSimulated(ctx)
	primaryMode := s.primary.Provider.Mode()

	if mode == feature.ModeLive && primaryMode != feature.ModeLive {
		return Backend{}, fmt.Errorf("%w: live mode is not available", hexgrid.ErrInvalidParameter)
	}

	if mode == feature.ModeSimulated || forced {
		if primaryMode == feature.ModeSimulated {
			return s.primary, nil
		}
		if s.simulated == nil {
			return Backend{}, fmt.Errorf("%w: simulated mode is not available", hexgrid.ErrInvalidParameter)
		}
		return *s.simulated, nil
	}

	backend := s.primary
	if s.flags != nil && s.flags.RulesOnly(ctx) {
		backend.Classifier = s.rules
	}
	return backend, nil
}

func (s *Service) run(ctx context.Context, backend Backend, cells []hexgrid.CellID, explicit *feature.TimeWindow) (*Result, feature.TimeWindow, error) {
	window, err := s.resolveWindow(ctx, backend.Provider, explicit)
	if err != nil {
		return nil, feature.TimeWindow{}, err
	}

	records, summary, err := s.assembler.Assemble(ctx, cells, window, backend.Provider, backend.Classifier, PolicyServing)
	if err != nil {
		return nil, window, err
	}

	if summary.Assembled == 0 && summary.Incomplete == 0 && summary.Unavailable > 0 {
		return nil, window, fmt.Errorf("%w: %d of %d cells unavailable from %s with %s",
			ErrUpstreamData, summary.Unavailable, summary.Requested, backend.Provider.Name(), backend.Classifier.Name())
	}

	return &Result{
		Mode:       backend.Provider.Mode(),
		Window:     window,
		Records:    records,
		Summary:    summary,
		Provider:   backend.Provider.Name(),
		Classifier: backend.Classifier.Name(),
	}, window, nil
}

func (s *Service) resolveWindow(ctx context.Context, provider feature.Provider, explicit *feature.TimeWindow) (feature.TimeWindow, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if finder, ok := provider.(feature.WindowFinder); ok {
		return finder.DiscoverWindow(ctx, s.now())
	}
	return feature.CandidateWindows(s.now())[0], nil
}

func (s *Service) canFallBack(ctx context.Context, used Backend, err error) bool {
	if s.simulated == nil || used.Provider.Mode() != feature.ModeLive {
		return false
	}
	if !errors.Is(err, feature.ErrProviderUnavailable) && !errors.Is(err, ErrUpstreamData) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return s.flags == nil || s.flags.SimulatedFallback(ctx)
}

func fallbackReason(err error) string {
	if errors.Is(err, ErrUpstreamData) {
		return "cells_unavailable"
	}
	return "window_discovery"
}
