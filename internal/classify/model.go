package classify

import (
	"context"
	"fmt"
	"math"

	"github.com/beewatch/beewatch/internal/feature"
)

// Predictor produces one score per category for a scaled input vector.
type Predictor interface {
	Predict(ctx context.Context, x []float64) ([]float64, error)
}

// Shaped is implemented by predictors that know their input and output sizes.
type Shaped interface {
	InputSize() int
	OutputSize() int
}

// ModelClassifier classifies with a trained model behind a Predictor.
type ModelClassifier struct {
	predictor Predictor
	scaler    *StandardScaler
	name      string
}

// NewModelClassifier creates a model classifier.
// Returns ErrSchemaMismatch when the scaler or predictor shape disagrees with the feature order.
func NewModelClassifier(predictor Predictor, scaler *StandardScaler) (*ModelClassifier, error) {
	if predictor == nil || scaler == nil {
		return nil, fmt.Errorf("%w: predictor and scaler are required", ErrSchemaMismatch)
	}
	if err := scaler.Validate(feature.Order); err != nil {
		return nil, err
	}
	if shaped, ok := predictor.(Shaped); ok {
		if shaped.InputSize() != len(feature.Order) {
			return nil, fmt.Errorf("%w: model expects %d inputs, have %d features",
				ErrSchemaMismatch, shaped.InputSize(), len(feature.Order))
		}
		if shaped.OutputSize() != NumCategories {
			return nil, fmt.Errorf("%w: model produces %d scores, have %d categories",
				ErrSchemaMismatch, shaped.OutputSize(), NumCategories)
		}
	}

	name := "model"
	if scaler.Version != "" {
		name += ":" + scaler.Version
	}
	return &ModelClassifier{predictor: predictor, scaler: scaler, name: name}, nil
}

// Classify implements Classifier.
func (m *ModelClassifier) Classify(ctx context.Context, v feature.Vector) (Category, error) {
	x, err := m.scaler.Transform(v.Slice())
	if err != nil {
		return 0, err
	}

	scores, err := m.predictor.Predict(ctx, x)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	if len(scores) != NumCategories {
		return 0, fmt.Errorf("%w: got %d scores", ErrSchemaMismatch, len(scores))
	}

	return CategoryFromIndex(ArgMax(scores))
}

// Name implements Classifier.
func (m *ModelClassifier) Name() string {
	return m.name
}

// ArgMax returns the index of the highest score. Ties resolve to the lowest index; NaN never wins.
func ArgMax(scores []float64) int {
	best := -1
	bestScore := math.Inf(-1)
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if best == -1 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	if best == -1 {
		return 0
	}
	return best
}
