package featureflags

import (
	"context"
	"errors"
)

// ErrFlagNotFound is returned when no override is stored for a key.
var ErrFlagNotFound = errors.New("feature flag not found")

// Repository stores flag overrides. Keys without an override fall back to Defaults.
type Repository interface {
	// List returns every stored override.
	List(ctx context.Context) ([]*Flag, error)

	// Get returns the override for key or ErrFlagNotFound.
	Get(ctx context.Context, key string) (*Flag, error)

	// Upsert stores overrides in one transaction.
	Upsert(ctx context.Context, flags ...*Flag) error

	// Delete removes the override for key or returns ErrFlagNotFound.
	Delete(ctx context.Context, key string) error
}
