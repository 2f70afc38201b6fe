package earthengine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/feature/earthengine"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// call describes one evaluated expression.
type call struct {
	Function   string
	Collection string
	Start      string
	Band       string
}

// fakeComputer answers expressions from a handler and records every call.
type fakeComputer struct {
	mu      sync.Mutex
	calls   []call
	handler func(c call) (any, error)
}

func (f *fakeComputer) Compute(_ context.Context, expr earthengine.Expression, out any) error {
	root := expr.Values[expr.Result]
	c := call{Function: root.FunctionInvocationValue.FunctionName}
	inspect(root, &c)

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	result, err := f.handler(c)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeComputer) count(function string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Function == function {
			n++
		}
	}
	return n
}

func inspect(v earthengine.Value, c *call) {
	inv := v.FunctionInvocationValue
	if inv == nil {
		return
	}
	switch inv.FunctionName {
	case "ImageCollection.load":
		c.Collection, _ = inv.Arguments["id"].ConstantValue.(string)
	case "DateRange":
		c.Start, _ = inv.Arguments["start"].ConstantValue.(string)
	case "Image.select":
		if bands, ok := inv.Arguments["bandSelectors"].ConstantValue.([]string); ok && len(bands) > 0 {
			c.Band = bands[0]
		}
	}
	for _, arg := range inv.Arguments {
		inspect(arg, c)
	}
}

func testCell(t *testing.T) (hexgrid.CellID, feature.TimeWindow) {
	t.Helper()
	cell, err := hexgrid.CellAt(hexgrid.Coordinate{Lat: -12.0464, Lon: -77.0428}, 8)
	require.NoError(t, err)
	window, err := feature.ParseTimeWindow("2025-05-01", "2025-05-09")
	require.NoError(t, err)
	return cell, window
}

func TestProvider_FetchAllLayers(t *testing.T) {
	fc := &fakeComputer{handler: func(c call) (any, error) {
		switch c.Function {
		case "Image.bandNames":
			return []string{"sm_surface", "sm_rootzone"}, nil
		case "Image.reduceRegion":
			values := map[string]float64{"NDVI": 6000, "LST_Day_1km": 15250, "sm_rootzone": 0.3}
			return map[string]float64{c.Band: values[c.Band]}, nil
		}
		return nil, fmt.Errorf("unexpected %s", c.Function)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	cell, window := testCell(t)
	footprint, err := hexgrid.Boundary(cell)
	require.NoError(t, err)

	raw, err := p.Fetch(context.Background(), cell, footprint, window)
	require.NoError(t, err)

	vec, err := feature.Normalize(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec.NDVI, 1e-9)
	assert.InDelta(t, 305.0, vec.LST, 1e-9)
	assert.InDelta(t, 0.3, vec.SoilMoisture, 1e-9)
	assert.Equal(t, feature.ModeLive, p.Mode())
}

func TestProvider_AbsentAggregateIsNil(t *testing.T) {
	fc := &fakeComputer{handler: func(c call) (any, error) {
		switch c.Function {
		case "Image.bandNames":
			return []string{"sm_rootzone"}, nil
		case "Image.reduceRegion":
			if c.Band == "sm_rootzone" {
				return map[string]any{c.Band: nil}, nil
			}
			return map[string]float64{c.Band: 1}, nil
		}
		return nil, fmt.Errorf("unexpected %s", c.Function)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	cell, window := testCell(t)
	footprint, err := hexgrid.Boundary(cell)
	require.NoError(t, err)

	raw, err := p.Fetch(context.Background(), cell, footprint, window)
	require.NoError(t, err)
	assert.NotNil(t, raw.NDVI)
	assert.NotNil(t, raw.LST)
	assert.Nil(t, raw.SoilMoisture)

	_, err = feature.Normalize(raw)
	assert.ErrorIs(t, err, feature.ErrIncomplete)
}

func TestProvider_EvaluationErrorLeavesLayerAbsent(t *testing.T) {
	fc := &fakeComputer{handler: func(c call) (any, error) {
		switch c.Function {
		case "Image.bandNames":
			return nil, fmt.Errorf("%w: Collection.first: Empty collection", earthengine.ErrEvaluation)
		case "Image.reduceRegion":
			if c.Collection == "NASA/SMAP/SPL4SMGP/008" {
				return nil, fmt.Errorf("%w: empty composite", earthengine.ErrEvaluation)
			}
			return map[string]float64{c.Band: 1}, nil
		}
		return nil, fmt.Errorf("unexpected %s", c.Function)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	cell, window := testCell(t)
	footprint, err := hexgrid.Boundary(cell)
	require.NoError(t, err)

	raw, err := p.Fetch(context.Background(), cell, footprint, window)
	require.NoError(t, err)
	assert.Nil(t, raw.SoilMoisture)
	assert.NotNil(t, raw.NDVI)
}

func TestProvider_FallbackBandIsResolvedOncePerWindow(t *testing.T) {
	fc := &fakeComputer{handler: func(c call) (any, error) {
		switch c.Function {
		case "Image.bandNames":
			return []string{"sm_surface"}, nil
		case "Image.reduceRegion":
			return map[string]float64{c.Band: 0.25}, nil
		}
		return nil, fmt.Errorf("unexpected %s", c.Function)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	cell, window := testCell(t)
	footprint, err := hexgrid.Boundary(cell)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		raw, err := p.Fetch(context.Background(), cell, footprint, window)
		require.NoError(t, err)
		require.NotNil(t, raw.SoilMoisture)
		assert.InDelta(t, 0.25, *raw.SoilMoisture, 1e-12)
	}

	assert.Equal(t, 1, fc.count("Image.bandNames"))
	for _, c := range fc.calls {
		if c.Function == "Image.reduceRegion" && c.Collection == "NASA/SMAP/SPL4SMGP/008" {
			assert.Equal(t, "sm_surface", c.Band)
		}
	}
}

func TestProvider_UnavailablePropagates(t *testing.T) {
	fc := &fakeComputer{handler: func(call) (any, error) {
		return nil, fmt.Errorf("%w: status 503", feature.ErrProviderUnavailable)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	cell, window := testCell(t)
	footprint, err := hexgrid.Boundary(cell)
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), cell, footprint, window)
	assert.ErrorIs(t, err, feature.ErrProviderUnavailable)
}

func TestProvider_DiscoverWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

	fc := &fakeComputer{handler: func(c call) (any, error) {
		// Only composites starting on or before June 1st are published.
		if c.Start > "2025-06-01" {
			return 0, nil
		}
		if c.Collection == "NASA/SMAP/SPL4SMGP/008" && c.Start == "2025-05-30" {
			return 0, nil
		}
		return 4, nil
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	window, err := p.DiscoverWindow(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-22", window.StartDate())
	assert.Equal(t, "2025-05-30", window.EndDate())
}

func TestProvider_DiscoverWindowNoData(t *testing.T) {
	fc := &fakeComputer{handler: func(call) (any, error) { return 0, nil }}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	_, err := p.DiscoverWindow(context.Background(), time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, feature.ErrNoDataAvailable)

	// One size query per window until the first empty layer.
	assert.Equal(t, len(feature.CandidateWindows(time.Now())), fc.count("Collection.size"))
}

func TestProvider_DiscoverWindowUnavailable(t *testing.T) {
	fc := &fakeComputer{handler: func(call) (any, error) {
		return nil, fmt.Errorf("%w: token", feature.ErrProviderUnavailable)
	}}
	p := earthengine.NewProvider(earthengine.ProviderConfig{Client: fc, Logger: zerolog.New(io.Discard)})

	_, err := p.DiscoverWindow(context.Background(), time.Now())
	assert.ErrorIs(t, err, feature.ErrProviderUnavailable)
	assert.Equal(t, 1, fc.count("Collection.size"))
}
