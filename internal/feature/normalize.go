package feature

import (
	"fmt"
	"strings"
)

// Provider-native encodings of the remote sensing layers.
const (
	// NDVIScale divides the integer-coded NDVI band into [-1, 1].
	NDVIScale = 10000.0

	// LSTScale converts the LST band into Kelvin.
	LSTScale = 0.02
)

// Scale converts each present raw feature to its physical unit and leaves absent ones nil.
func Scale(raw RawFeatures) Values {
	var v Values
	if raw.NDVI != nil {
		v.NDVI = Float(*raw.NDVI / NDVIScale)
	}
	if raw.LST != nil {
		v.LST = Float(*raw.LST * LSTScale)
	}
	if raw.SoilMoisture != nil {
		v.SoilMoisture = Float(*raw.SoilMoisture)
	}
	return v
}

// Normalize converts raw features into a complete vector.
// Returns ErrIncomplete naming the missing features if any entry is absent.
func Normalize(raw RawFeatures) (Vector, error) {
	values := Scale(raw)
	vec, ok := values.Vector()
	if !ok {
		return Vector{}, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(values.Missing(), ", "))
	}
	return vec, nil
}

// Encode is the inverse of Normalize and produces provider-native values.
func Encode(v Vector) RawFeatures {
	return RawFeatures{
		NDVI:         Float(v.NDVI * NDVIScale),
		LST:          Float(v.LST / LSTScale),
		SoilMoisture: Float(v.SoilMoisture),
	}
}
