package earthengine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"

	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// Computer evaluates Earth Engine expressions.
type Computer interface {
	Compute(ctx context.Context, expr Expression, out any) error
}

// ProviderConfig holds configuration for the live provider.
type ProviderConfig struct {
	Client Computer

	// Layers to query (default: DefaultLayers).
	Layers *Layers

	Logger zerolog.Logger
}

// Provider fetches per-cell features from Earth Engine.
type Provider struct {
	client Computer
	layers Layers
	logger zerolog.Logger

	// Resolved band per collection and window start.
	mu    sync.Mutex
	bands map[string]string
}

// NewProvider creates a live feature provider.
func NewProvider(cfg ProviderConfig) *Provider {
	layers := DefaultLayers()
	if cfg.Layers != nil {
		layers = *cfg.Layers
	}
	return &Provider{
		client: cfg.Client,
		layers: layers,
		logger: cfg.Logger,
		bands:  make(map[string]string),
	}
}

// Name implements feature.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// Layers returns the layers the provider queries.
func (p *Provider) Layers() Layers {
	return p.layers
}

// Mode implements feature.Provider.
func (p *Provider) Mode() feature.Mode {
	return feature.ModeLive
}

// Fetch implements feature.Provider. Layers whose aggregate is absent, or whose
// query Earth Engine cannot evaluate, are left nil.
func (p *Provider) Fetch(ctx context.Context, cell hexgrid.CellID, footprint *geom.Polygon, window feature.TimeWindow) (feature.RawFeatures, error) {
	var raw feature.RawFeatures
	targets := []**float64{&raw.NDVI, &raw.LST, &raw.SoilMoisture}

	for i, layer := range p.layers.All() {
		v, err := p.aggregate(ctx, layer, footprint, window)
		if err != nil {
			if errors.Is(err, ErrEvaluation) {
				p.logger.Debug().
					Err(err).
					Str("cell", cell.String()).
					Str("layer", layer.Feature).
					Msg("layer not evaluable for cell")
				continue
			}
			return feature.RawFeatures{}, fmt.Errorf("fetch %s for %s: %w", layer.Feature, cell, err)
		}
		*targets[i] = v
	}

	return raw, nil
}

func (p *Provider) aggregate(ctx context.Context, layer Layer, footprint *geom.Polygon, window feature.TimeWindow) (*float64, error) {
	band, err := p.resolveBand(ctx, layer, window)
	if err != nil {
		return nil, err
	}

	expr, err := MeanExpression(layer, band, window, footprint)
	if err != nil {
		return nil, err
	}

	var result map[string]*float64
	if err := p.client.Compute(ctx, expr, &result); err != nil {
		return nil, err
	}
	return result[band], nil
}

// resolveBand picks Band, or FallbackBand when the window's images only carry the fallback.
func (p *Provider) resolveBand(ctx context.Context, layer Layer, window feature.TimeWindow) (string, error) {
	if layer.FallbackBand == "" {
		return layer.Band, nil
	}

	key := layer.Collection + "@" + window.StartDate()
	p.mu.Lock()
	band, ok := p.bands[key]
	p.mu.Unlock()
	if ok {
		return band, nil
	}

	var names []string
	err := p.client.Compute(ctx, BandNamesExpression(layer, window), &names)
	switch {
	case errors.Is(err, ErrEvaluation):
		// Empty collections cannot report bands; the mean query will come back absent.
		return layer.Band, nil
	case err != nil:
		return "", err
	}

	band = layer.Band
	if !slices.Contains(names, layer.Band) && slices.Contains(names, layer.FallbackBand) {
		band = layer.FallbackBand
		p.logger.Info().
			Str("collection", layer.Collection).
			Str("band", band).
			Str("window", window.String()).
			Msg("using fallback band")
	}

	p.mu.Lock()
	p.bands[key] = band
	p.mu.Unlock()
	return band, nil
}

// DiscoverWindow implements feature.WindowFinder. It returns the most recent candidate
// window in which every layer has at least one image.
func (p *Provider) DiscoverWindow(ctx context.Context, now time.Time) (feature.TimeWindow, error) {
	for _, window := range feature.CandidateWindows(now) {
		ok, err := p.hasObservations(ctx, window)
		if err != nil {
			return feature.TimeWindow{}, err
		}
		if ok {
			p.logger.Debug().Str("window", window.String()).Msg("discovered composite window")
			return window, nil
		}
	}
	return feature.TimeWindow{}, fmt.Errorf("%w: searched %s back from %s",
		feature.ErrNoDataAvailable, feature.MaxLookback, now.UTC().Format(feature.DateLayout))
}

func (p *Provider) hasObservations(ctx context.Context, window feature.TimeWindow) (bool, error) {
	for _, layer := range p.layers.All() {
		var count int
		err := p.client.Compute(ctx, CountExpression(layer, window), &count)
		if errors.Is(err, ErrEvaluation) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if count == 0 {
			return false, nil
		}
	}
	return true, nil
}
