package featureflags

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository keeps overrides in process memory. It backs deployments
// without a database and tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	overrides map[string]*Flag
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository returns a repository seeded with overrides.
func NewInMemoryRepository(overrides ...*Flag) *InMemoryRepository {
	r := &InMemoryRepository{overrides: make(map[string]*Flag, len(overrides))}
	for _, f := range overrides {
		r.overrides[f.Key] = f.clone()
	}
	return r
}

// List returns the overrides ordered by key.
func (r *InMemoryRepository) List(_ context.Context) ([]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Flag, 0, len(r.overrides))
	for _, f := range r.overrides {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns the override for key.
func (r *InMemoryRepository) Get(_ context.Context, key string) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.overrides[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return f.clone(), nil
}

// Upsert stores copies of flags.
func (r *InMemoryRepository) Upsert(_ context.Context, flags ...*Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range flags {
		c := f.clone()
		c.Default = false
		r.overrides[f.Key] = c
	}
	return nil
}

// Delete removes the override for key.
func (r *InMemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.overrides[key]; !ok {
		return ErrFlagNotFound
	}
	delete(r.overrides, key)
	return nil
}
