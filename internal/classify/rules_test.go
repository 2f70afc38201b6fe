package classify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
)

func TestRuleBased_SoilMoistureTable(t *testing.T) {
	rules := classify.NewRuleBased(classify.SoilMoistureRules())

	tests := []struct {
		name string
		vec  feature.Vector
		want classify.Category
	}{
		{"healthy", feature.Vector{NDVI: 0.7, LST: 300, SoilMoisture: 0.3}, classify.Healthy},
		{"healthy just past every bound", feature.Vector{NDVI: 0.61, LST: 304.9, SoilMoisture: 0.21}, classify.Healthy},
		{"boundary values are not healthy", feature.Vector{NDVI: 0.6, LST: 305, SoilMoisture: 0.2}, classify.Moderate},
		{"hot but green", feature.Vector{NDVI: 0.8, LST: 307, SoilMoisture: 0.4}, classify.Moderate},
		{"moderate moisture only", feature.Vector{NDVI: 0.9, LST: 300, SoilMoisture: 0.15}, classify.Moderate},
		{"moderate ndvi only", feature.Vector{NDVI: 0.5, LST: 320, SoilMoisture: 0.05}, classify.Moderate},
		{"critical", feature.Vector{NDVI: 0.3, LST: 312, SoilMoisture: 0.05}, classify.Critical},
		{"critical at upper lst bound", feature.Vector{NDVI: 0.2, LST: 310, SoilMoisture: 0.1}, classify.Critical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.Classify(context.Background(), tt.vec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleBased_ZeroTableDefaultsToSoilMoisture(t *testing.T) {
	rules := classify.NewRuleBased(classify.Thresholds{})

	assert.Equal(t, "rules:soil_moisture", rules.Name())
}

func TestETRules_DistinctFromSoilMoisture(t *testing.T) {
	vec := feature.Vector{NDVI: 0.7, LST: 300, SoilMoisture: 0.8}

	assert.Equal(t, classify.Healthy, classify.SoilMoistureRules().Label(vec))
	assert.Equal(t, classify.Moderate, classify.ETRules().Label(vec))
	assert.Equal(t, classify.Healthy, classify.ETRules().Label(feature.Vector{NDVI: 0.7, LST: 300, SoilMoisture: 1.2}))
}

func TestCategory_Colors(t *testing.T) {
	assert.Equal(t, "#28a745", classify.Healthy.Color())
	assert.Equal(t, "#ffc107", classify.Moderate.Color())
	assert.Equal(t, "#dc3545", classify.Critical.Color())
	assert.Equal(t, "Moderate", classify.Moderate.String())
}

func TestCategoryFromIndex(t *testing.T) {
	c, err := classify.CategoryFromIndex(2)
	require.NoError(t, err)
	assert.Equal(t, classify.Critical, c)

	_, err = classify.CategoryFromIndex(3)
	assert.ErrorIs(t, err, classify.ErrUnknownCategory)
}
