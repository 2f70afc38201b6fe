package grid_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

var lima = hexgrid.Coordinate{Lat: -12.0464, Lon: -77.0428}

// stubProvider serves healthy features unless fetch overrides them per cell.
type stubProvider struct {
	mode      feature.Mode
	fetch     func(ctx context.Context, cell hexgrid.CellID) (feature.RawFeatures, error)
	window    feature.TimeWindow
	windowErr error

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Mode() feature.Mode {
	if p.mode == "" {
		return feature.ModeLive
	}
	return p.mode
}

func (p *stubProvider) Fetch(ctx context.Context, cell hexgrid.CellID, footprint *geom.Polygon, _ feature.TimeWindow) (feature.RawFeatures, error) {
	p.calls.Add(1)
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if footprint == nil || footprint.NumLinearRings() == 0 {
		return feature.RawFeatures{}, errors.New("missing footprint")
	}
	if p.fetch != nil {
		return p.fetch(ctx, cell)
	}
	return healthyRaw(), nil
}

func (p *stubProvider) DiscoverWindow(_ context.Context, _ time.Time) (feature.TimeWindow, error) {
	return p.window, p.windowErr
}

func healthyRaw() feature.RawFeatures {
	return feature.Encode(feature.Vector{NDVI: 0.7, LST: 300, SoilMoisture: 0.3})
}

func testWindow(t *testing.T) feature.TimeWindow {
	t.Helper()
	w, err := feature.ParseTimeWindow("2024-03-01", "2024-03-09")
	require.NoError(t, err)
	return w
}

func testCells(t *testing.T, radius int) []hexgrid.CellID {
	t.Helper()
	cells, err := hexgrid.NewRingTiler().Tile(lima, hexgrid.DefaultResolution, radius)
	require.NoError(t, err)
	return cells
}

func newAssembler(workers int) *grid.Assembler {
	return grid.NewAssembler(grid.AssemblerConfig{
		Workers:     workers,
		CellTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
}

func rules() classify.Classifier {
	return classify.NewRuleBased(classify.SoilMoistureRules())
}

func TestAssemble_PreservesTilerOrder(t *testing.T) {
	cells := testCells(t, 2)
	provider := &stubProvider{}

	records, summary, err := newAssembler(4).Assemble(context.Background(), cells, testWindow(t), provider, rules(), grid.PolicyServing)
	require.NoError(t, err)
	require.Len(t, records, len(cells))
	for i, rec := range records {
		assert.Equal(t, cells[i], rec.CellID)
		require.NotNil(t, rec.Category)
		assert.Equal(t, classify.Healthy, *rec.Category)
		assert.Equal(t, classify.ColorHealthy, rec.Color)
		assert.InDelta(t, 0.7, *rec.Features.NDVI, 1e-9)
		assert.InDelta(t, 300.0, *rec.Features.LST, 1e-9)
	}
	assert.Equal(t, grid.Summary{Requested: 19, Assembled: 19}, summary)
}

func TestAssemble_IncompleteCellsByPolicy(t *testing.T) {
	cells := testCells(t, 1)
	incomplete := cells[3]
	provider := &stubProvider{fetch: func(_ context.Context, cell hexgrid.CellID) (feature.RawFeatures, error) {
		raw := healthyRaw()
		if cell == incomplete {
			raw.LST = nil
		}
		return raw, nil
	}}

	served, summary, err := newAssembler(2).Assemble(context.Background(), cells, testWindow(t), provider, rules(), grid.PolicyServing)
	require.NoError(t, err)
	assert.Len(t, served, 6)
	assert.Equal(t, 1, summary.Incomplete)
	for _, rec := range served {
		assert.NotEqual(t, incomplete, rec.CellID)
	}

	kept, _, err := newAssembler(2).Assemble(context.Background(), cells, testWindow(t), provider, rules(), grid.PolicyDataset)
	require.NoError(t, err)
	require.Len(t, kept, 7)
	rec := kept[3]
	assert.Equal(t, incomplete, rec.CellID)
	assert.Nil(t, rec.Category)
	assert.Empty(t, rec.Color)
	assert.Nil(t, rec.Features.LST)
	require.NotNil(t, rec.Features.NDVI)
	assert.InDelta(t, 0.7, *rec.Features.NDVI, 1e-9)
}

func TestAssemble_FailedCellsAreDropped(t *testing.T) {
	cells := testCells(t, 1)
	provider := &stubProvider{fetch: func(_ context.Context, cell hexgrid.CellID) (feature.RawFeatures, error) {
		switch cell {
		case cells[0]:
			return feature.RawFeatures{}, errors.New("boom")
		case cells[1]:
			return feature.RawFeatures{}, feature.ErrProviderUnavailable
		case cells[2]:
			panic("provider bug")
		}
		return healthyRaw(), nil
	}}

	for _, policy := range []grid.Policy{grid.PolicyServing, grid.PolicyDataset} {
		records, summary, err := newAssembler(3).Assemble(context.Background(), cells, testWindow(t), provider, rules(), policy)
		require.NoError(t, err)
		assert.Len(t, records, 4, policy.String())
		assert.Equal(t, 2, summary.Failed, policy.String())
		assert.Equal(t, 1, summary.Unavailable, policy.String())
	}
}

func TestAssemble_ClassifierErrorDropsCell(t *testing.T) {
	cells := testCells(t, 0)
	records, summary, err := newAssembler(1).Assemble(context.Background(), cells, testWindow(t), &stubProvider{}, failingClassifier{}, grid.PolicyServing)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, summary.Failed)
}

func TestAssemble_SchemaMismatchFailsCall(t *testing.T) {
	cells := testCells(t, 4)
	predictor := &shortPredictor{}

	records, _, err := newAssembler(1).Assemble(context.Background(), cells, testWindow(t), &stubProvider{}, shortModel(t, predictor), grid.PolicyServing)

	require.ErrorIs(t, err, classify.ErrSchemaMismatch)
	assert.Nil(t, records)
	assert.Less(t, predictor.calls.Load(), int32(len(cells)), "remaining cells are not scheduled")
}

func TestAssemble_PredictorOutageIsUnavailable(t *testing.T) {
	cells := testCells(t, 1)
	down := failingClassifier{err: fmt.Errorf("%w: connection refused", classify.ErrPredictorUnavailable)}

	records, summary, err := newAssembler(2).Assemble(context.Background(), cells, testWindow(t), &stubProvider{}, down, grid.PolicyServing)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, len(cells), summary.Unavailable)
	assert.Zero(t, summary.Failed)
}

func TestAssemble_BoundsConcurrency(t *testing.T) {
	cells := testCells(t, 3)
	provider := &stubProvider{fetch: func(_ context.Context, _ hexgrid.CellID) (feature.RawFeatures, error) {
		time.Sleep(5 * time.Millisecond)
		return healthyRaw(), nil
	}}

	records, _, err := newAssembler(3).Assemble(context.Background(), cells, testWindow(t), provider, rules(), grid.PolicyServing)
	require.NoError(t, err)
	assert.Len(t, records, len(cells))
	assert.LessOrEqual(t, provider.peak.Load(), int32(3))
	assert.Equal(t, int32(len(cells)), provider.calls.Load())
}

func TestAssemble_CellTimeout(t *testing.T) {
	cells := testCells(t, 1)
	slow := cells[0]
	provider := &stubProvider{fetch: func(ctx context.Context, cell hexgrid.CellID) (feature.RawFeatures, error) {
		if cell == slow {
			<-ctx.Done()
			return feature.RawFeatures{}, ctx.Err()
		}
		return healthyRaw(), nil
	}}

	assembler := grid.NewAssembler(grid.AssemblerConfig{Workers: 7, CellTimeout: 50 * time.Millisecond, Logger: zerolog.Nop()})

	started := time.Now()
	records, summary, err := assembler.Assemble(context.Background(), cells, testWindow(t), provider, rules(), grid.PolicyServing)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Len(t, records, 6)
	assert.Equal(t, 1, summary.Failed)
}

func TestAssemble_CancellationReturnsContextError(t *testing.T) {
	cells := testCells(t, 4)
	ctx, cancel := context.WithCancel(context.Background())

	var served atomic.Int32
	provider := &stubProvider{fetch: func(ctx context.Context, _ hexgrid.CellID) (feature.RawFeatures, error) {
		if served.Add(1) == 5 {
			cancel()
		}
		if err := ctx.Err(); err != nil {
			return feature.RawFeatures{}, err
		}
		return healthyRaw(), nil
	}}

	records, _, err := newAssembler(1).Assemble(ctx, cells, testWindow(t), provider, rules(), grid.PolicyServing)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, records)
	assert.Less(t, provider.calls.Load(), int32(len(cells)))
}

func TestAssemble_EmptyCellSet(t *testing.T) {
	records, summary, err := newAssembler(2).Assemble(context.Background(), nil, testWindow(t), &stubProvider{}, rules(), grid.PolicyServing)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, grid.Summary{}, summary)
}

type failingClassifier struct{ err error }

func (c failingClassifier) Classify(context.Context, feature.Vector) (classify.Category, error) {
	if c.err != nil {
		return 0, c.err
	}
	return 0, errors.New("model offline")
}

// shortPredictor returns one score fewer than there are categories.
type shortPredictor struct{ calls atomic.Int32 }

func (p *shortPredictor) Predict(context.Context, []float64) ([]float64, error) {
	p.calls.Add(1)
	return []float64{0.4, 0.6}, nil
}

func shortModel(t *testing.T, p classify.Predictor) classify.Classifier {
	t.Helper()
	m, err := classify.NewModelClassifier(p, &classify.StandardScaler{
		Version:  "v2",
		Features: feature.Order,
		Mean:     []float64{0, 0, 0},
		Scale:    []float64{1, 1, 1},
	})
	require.NoError(t, err)
	return m
}

func (failingClassifier) Name() string { return "failing" }
