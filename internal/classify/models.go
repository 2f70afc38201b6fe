// Package classify maps normalized feature vectors to vegetation risk categories.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/beewatch/beewatch/internal/feature"
)

// Predefined errors for classification.
var (
	// ErrSchemaMismatch is returned when a model, scaler and feature order disagree.
	ErrSchemaMismatch = errors.New("model schema mismatch")

	// ErrPredictorUnavailable is returned when a remote model cannot be reached or fails server-side.
	ErrPredictorUnavailable = errors.New("model predictor unavailable")

	// ErrUnknownCategory is returned for out-of-range category indexes.
	ErrUnknownCategory = errors.New("unknown category")
)

// Category is the risk class of a cell. Values are the model output indexes.
type Category int

const (
	Healthy Category = iota
	Moderate
	Critical
)

// NumCategories is the number of scores a model must produce.
const NumCategories = 3

// Display colors per category.
const (
	ColorHealthy  = "#28a745"
	ColorModerate = "#ffc107"
	ColorCritical = "#dc3545"
)

// CategoryFromIndex converts a model output index to a Category.
func CategoryFromIndex(i int) (Category, error) {
	if i < 0 || i >= NumCategories {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownCategory, i)
	}
	return Category(i), nil
}

// Color returns the display color of the category.
func (c Category) Color() string {
	switch c {
	case Healthy:
		return ColorHealthy
	case Moderate:
		return ColorModerate
	default:
		return ColorCritical
	}
}

func (c Category) String() string {
	switch c {
	case Healthy:
		return "Healthy"
	case Moderate:
		return "Moderate"
	case Critical:
		return "Critical"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Classifier assigns a category to a complete feature vector.
type Classifier interface {
	Classify(ctx context.Context, v feature.Vector) (Category, error)
	Name() string
}
