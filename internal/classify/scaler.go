package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// StandardScaler standardizes features as (x - mean) / scale.
// It is serialized alongside the model that was trained on its output.
type StandardScaler struct {
	Version  string    `json:"version"`
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// LoadScaler reads a scaler from a JSON file.
func LoadScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}

	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if err := s.Validate(s.Features); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that the scaler covers exactly the given features in order.
func (s *StandardScaler) Validate(features []string) error {
	if !slices.Equal(s.Features, features) {
		return fmt.Errorf("%w: scaler features %v, expected %v", ErrSchemaMismatch, s.Features, features)
	}
	if len(s.Mean) != len(features) || len(s.Scale) != len(features) {
		return fmt.Errorf("%w: scaler has %d means and %d scales for %d features",
			ErrSchemaMismatch, len(s.Mean), len(s.Scale), len(features))
	}
	return nil
}

// Transform returns the standardized copy of x. A zero scale leaves the centered value unscaled.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d inputs, scaler expects %d", ErrSchemaMismatch, len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}
