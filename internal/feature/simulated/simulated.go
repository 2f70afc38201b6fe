// Package simulated provides synthetic features and labels for demos and offline runs.
package simulated

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// ProviderName identifies this provider.
const ProviderName = "simulated"

// Ranges of the synthetic features in physical units.
const (
	MinNDVI     = 0.5
	MaxNDVI     = 0.9
	MinLST      = 295.0
	MaxLST      = 305.0
	MinMoisture = 0.2
	MaxMoisture = 0.5
)

// Label shares drawn by the Classifier.
const (
	HealthyShare  = 0.6
	ModerateShare = 0.3
)

// newRand returns a PCG source seeded with seed, or from the clock when seed is zero.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Provider draws uniform features and emits them in provider-native encoding.
type Provider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider creates a simulated provider. A zero seed is time-based.
func NewProvider(seed uint64) *Provider {
	return &Provider{rng: newRand(seed)}
}

// Name implements feature.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// Mode implements feature.Provider.
func (p *Provider) Mode() feature.Mode {
	return feature.ModeSimulated
}

// Fetch implements feature.Provider. It never fails and never returns absent features.
func (p *Provider) Fetch(ctx context.Context, _ hexgrid.CellID, _ *geom.Polygon, _ feature.TimeWindow) (feature.RawFeatures, error) {
	if err := ctx.Err(); err != nil {
		return feature.RawFeatures{}, err
	}

	p.mu.Lock()
	vec := feature.Vector{
		NDVI:         round(p.uniform(MinNDVI, MaxNDVI), 3),
		LST:          round(p.uniform(MinLST, MaxLST), 2),
		SoilMoisture: round(p.uniform(MinMoisture, MaxMoisture), 3),
	}
	p.mu.Unlock()

	return feature.Encode(vec), nil
}

// DiscoverWindow implements feature.WindowFinder with the most recent candidate window.
func (p *Provider) DiscoverWindow(_ context.Context, now time.Time) (feature.TimeWindow, error) {
	return feature.CandidateWindows(now)[0], nil
}

func (p *Provider) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}

// Classifier draws labels Healthy, Moderate and Critical with 60/30/10 shares,
// independently of the features. It is paired with Provider.
type Classifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewClassifier creates a simulated classifier. A zero seed is time-based.
func NewClassifier(seed uint64) *Classifier {
	return &Classifier{rng: newRand(seed)}
}

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, _ feature.Vector) (classify.Category, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	r := c.rng.Float64()
	c.mu.Unlock()

	switch {
	case r < HealthyShare:
		return classify.Healthy, nil
	case r < HealthyShare+ModerateShare:
		return classify.Moderate, nil
	default:
		return classify.Critical, nil
	}
}

// Name implements classify.Classifier.
func (c *Classifier) Name() string {
	return ProviderName
}
