package featureflags

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a loaded snapshot is served before reloading.
const DefaultCacheTTL = time.Minute

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL bounds how stale a served value may be.
	// Default: 1 minute
	CacheTTL time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// Service evaluates flags from a snapshot of the repository merged over Defaults.
// When a reload fails the previous snapshot keeps being served.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	snapshot map[string]*Flag
	expires  time.Time
}

// NewService creates a flag service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		ttl:    ttl,
		now:    now,
	}
}

// Flags returns every known flag ordered by key.
func (s *Service) Flags(ctx context.Context) []*Flag {
	snap := s.load(ctx)
	out := make([]*Flag, 0, len(snap))
	for _, f := range snap {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Flag returns the current value of key, or nil when key is neither stored nor known.
func (s *Service) Flag(ctx context.Context, key string) *Flag {
	f, ok := s.load(ctx)[key]
	if !ok {
		return nil
	}
	return f.clone()
}

// Set validates and stores flags. Nothing is written when any flag is invalid.
func (s *Service) Set(ctx context.Context, flags ...*Flag) error {
	for _, f := range flags {
		if err := Validate(f.Key, f.Value); err != nil {
			return err
		}
	}

	at := s.now()
	stamped := make([]*Flag, len(flags))
	for i, f := range flags {
		stamped[i] = &Flag{Key: f.Key, Value: f.Value, UpdatedAt: at}
	}
	if err := s.repo.Upsert(ctx, stamped...); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

// Reset removes the stored override of key so its default applies again.
func (s *Service) Reset(ctx context.Context, key string) error {
	if _, ok := KindOf(key); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, key)
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

// InvalidateCache drops the snapshot so the next read reloads the repository.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires = time.Time{}
}

// IsEnabled reports whether the bool flag key is true.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.Flag(ctx, key).BoolValue(false)
}

// load returns the current snapshot, reloading it once expired.
func (s *Service) load(ctx context.Context) map[string]*Flag {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.snapshot != nil && now.Before(s.expires) {
		return s.snapshot
	}
	s.expires = now.Add(s.ttl)

	stored, err := s.repo.List(ctx)
	if err != nil {
		if s.snapshot == nil {
			s.logger.Warn().Err(err).Msg("feature flags unavailable, serving defaults")
			s.snapshot = Defaults(now)
		} else {
			s.logger.Warn().Err(err).Msg("feature flag reload failed, serving previous values")
		}
		return s.snapshot
	}

	snap := Defaults(now)
	for _, f := range stored {
		c := f.clone()
		c.Default = false
		snap[f.Key] = c
	}
	s.snapshot = snap
	return snap
}

// The accessors below are safe on a nil Service and return the defaults.

// ForceSimulated reports whether grids must be served from the simulated provider.
func (s *Service) ForceSimulated(ctx context.Context) bool {
	if s == nil {
		return false
	}
	return s.IsEnabled(ctx, FlagForceSimulatedMode)
}

// RulesOnly reports whether the rule-based classifier replaces the trained model.
func (s *Service) RulesOnly(ctx context.Context) bool {
	if s == nil {
		return false
	}
	return s.IsEnabled(ctx, FlagRulesOnlyClassification)
}

// SimulatedFallback reports whether live outages fall back to simulated data.
func (s *Service) SimulatedFallback(ctx context.Context) bool {
	if s == nil {
		return true
	}
	return s.Flag(ctx, FlagSimulatedFallback).BoolValue(true)
}

// MaxRadius returns the flag when it is positive and below limit, limit otherwise.
func (s *Service) MaxRadius(ctx context.Context, limit int) int {
	if s == nil {
		return limit
	}
	if v := s.Flag(ctx, FlagMaxRadius).IntValue(0); v > 0 && v < limit {
		return v
	}
	return limit
}
