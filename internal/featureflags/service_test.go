package featureflags_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewatch/beewatch/internal/featureflags"
)

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// flakyRepository counts List calls and fails them on demand.
type flakyRepository struct {
	*featureflags.InMemoryRepository
	fail  bool
	lists int
}

func (r *flakyRepository) List(ctx context.Context) ([]*featureflags.Flag, error) {
	r.lists++
	if r.fail {
		return nil, errors.New("connection refused")
	}
	return r.InMemoryRepository.List(ctx)
}

func newService(t *testing.T, repo featureflags.Repository) (*featureflags.Service, *clock, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	c := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.New(&logs),
		CacheTTL:   30 * time.Second,
		Now:        c.Now,
	})
	return svc, c, &logs
}

func TestService_Defaults(t *testing.T) {
	svc, _, _ := newService(t, featureflags.NewInMemoryRepository())
	ctx := context.Background()

	flags := svc.Flags(ctx)
	require.Len(t, flags, 4)

	var keys []string
	for _, f := range flags {
		keys = append(keys, f.Key)
		assert.True(t, f.Default, f.Key)
	}
	assert.Equal(t, featureflags.Keys(), keys)

	assert.False(t, svc.ForceSimulated(ctx))
	assert.False(t, svc.RulesOnly(ctx))
	assert.True(t, svc.SimulatedFallback(ctx))
	assert.Equal(t, 25, svc.MaxRadius(ctx, 25))
	assert.Nil(t, svc.Flag(ctx, "dark_mode"))
}

func TestService_SetOverridesDefault(t *testing.T) {
	svc, c, _ := newService(t, featureflags.NewInMemoryRepository())
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx,
		&featureflags.Flag{Key: featureflags.FlagRulesOnlyClassification, Value: true},
		&featureflags.Flag{Key: featureflags.FlagSimulatedFallback, Value: false},
	))

	assert.True(t, svc.RulesOnly(ctx))
	assert.False(t, svc.SimulatedFallback(ctx))

	f := svc.Flag(ctx, featureflags.FlagRulesOnlyClassification)
	require.NotNil(t, f)
	assert.False(t, f.Default)
	assert.Equal(t, c.Now(), f.UpdatedAt)
}

func TestService_SetRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		flag  *featureflags.Flag
		isErr error
	}{
		{"unknown key", &featureflags.Flag{Key: "dark_mode", Value: true}, featureflags.ErrUnknownFlag},
		{"bool as string", &featureflags.Flag{Key: featureflags.FlagForceSimulatedMode, Value: "yes"}, featureflags.ErrInvalidValue},
		{"bool as number", &featureflags.Flag{Key: featureflags.FlagRulesOnlyClassification, Value: float64(1)}, featureflags.ErrInvalidValue},
		{"negative radius", &featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: float64(-1)}, featureflags.ErrInvalidValue},
		{"fractional radius", &featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: 2.5}, featureflags.ErrInvalidValue},
		{"radius as bool", &featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: true}, featureflags.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := featureflags.NewInMemoryRepository()
			svc, _, _ := newService(t, repo)
			ctx := context.Background()

			err := svc.Set(ctx,
				&featureflags.Flag{Key: featureflags.FlagSimulatedFallback, Value: false},
				tt.flag,
			)
			require.ErrorIs(t, err, tt.isErr)

			stored, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, stored, "a rejected batch writes nothing")
		})
	}
}

func TestService_SnapshotExpires(t *testing.T) {
	repo := &flakyRepository{InMemoryRepository: featureflags.NewInMemoryRepository()}
	svc, c, _ := newService(t, repo)
	ctx := context.Background()

	assert.False(t, svc.ForceSimulated(ctx))
	assert.False(t, svc.RulesOnly(ctx))
	assert.Equal(t, 1, repo.lists, "reads within the TTL share one load")

	// Written behind the service's back, e.g. by another replica.
	require.NoError(t, repo.Upsert(ctx, &featureflags.Flag{Key: featureflags.FlagForceSimulatedMode, Value: true}))

	c.Advance(29 * time.Second)
	assert.False(t, svc.ForceSimulated(ctx))

	c.Advance(time.Second)
	assert.True(t, svc.ForceSimulated(ctx))
	assert.Equal(t, 2, repo.lists)
}

func TestService_KeepsSnapshotWhenReloadFails(t *testing.T) {
	repo := &flakyRepository{InMemoryRepository: featureflags.NewInMemoryRepository(
		&featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: float64(6)},
	)}
	svc, c, logs := newService(t, repo)
	ctx := context.Background()

	assert.Equal(t, 6, svc.MaxRadius(ctx, 25))

	repo.fail = true
	c.Advance(time.Minute)
	assert.Equal(t, 6, svc.MaxRadius(ctx, 25))
	assert.Contains(t, logs.String(), "serving previous values")

	// The failed reload is not retried until the TTL passes again.
	assert.Equal(t, 6, svc.MaxRadius(ctx, 25))
	assert.Equal(t, 2, repo.lists)

	repo.fail = false
	c.Advance(time.Minute)
	assert.Equal(t, 6, svc.MaxRadius(ctx, 25))
	assert.Equal(t, 3, repo.lists)
}

func TestService_DefaultsWhenRepositoryNeverLoads(t *testing.T) {
	repo := &flakyRepository{InMemoryRepository: featureflags.NewInMemoryRepository(), fail: true}
	svc, _, logs := newService(t, repo)

	assert.True(t, svc.SimulatedFallback(context.Background()))
	assert.Contains(t, logs.String(), "serving defaults")
}

func TestService_InvalidateCache(t *testing.T) {
	repo := &flakyRepository{InMemoryRepository: featureflags.NewInMemoryRepository()}
	svc, _, _ := newService(t, repo)
	ctx := context.Background()

	assert.False(t, svc.RulesOnly(ctx))
	require.NoError(t, repo.Upsert(ctx, &featureflags.Flag{Key: featureflags.FlagRulesOnlyClassification, Value: true}))
	assert.False(t, svc.RulesOnly(ctx))

	svc.InvalidateCache()
	assert.True(t, svc.RulesOnly(ctx))
}

func TestService_Reset(t *testing.T) {
	svc, _, _ := newService(t, featureflags.NewInMemoryRepository(
		&featureflags.Flag{Key: featureflags.FlagForceSimulatedMode, Value: true},
	))
	ctx := context.Background()

	require.True(t, svc.ForceSimulated(ctx))
	require.NoError(t, svc.Reset(ctx, featureflags.FlagForceSimulatedMode))
	assert.False(t, svc.ForceSimulated(ctx))
	assert.True(t, svc.Flag(ctx, featureflags.FlagForceSimulatedMode).Default)

	assert.ErrorIs(t, svc.Reset(ctx, featureflags.FlagForceSimulatedMode), featureflags.ErrFlagNotFound)
	assert.ErrorIs(t, svc.Reset(ctx, "dark_mode"), featureflags.ErrUnknownFlag)
}

func TestService_MaxRadius(t *testing.T) {
	tests := []struct {
		name  string
		value any
		limit int
		want  int
	}{
		{"zero keeps limit", float64(0), 25, 25},
		{"lowers limit", float64(10), 25, 10},
		{"never raises limit", float64(40), 25, 25},
		{"equal to limit", 25, 25, 25},
		{"go int", 3, 25, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newService(t, featureflags.NewInMemoryRepository(
				&featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: tt.value},
			))
			assert.Equal(t, tt.want, svc.MaxRadius(context.Background(), tt.limit))
		})
	}
}

func TestService_NilIsSafe(t *testing.T) {
	var svc *featureflags.Service
	ctx := context.Background()

	assert.False(t, svc.ForceSimulated(ctx))
	assert.False(t, svc.RulesOnly(ctx))
	assert.True(t, svc.SimulatedFallback(ctx))
	assert.Equal(t, 12, svc.MaxRadius(ctx, 12))
}

func TestFlag_Values(t *testing.T) {
	var nilFlag *featureflags.Flag
	assert.True(t, nilFlag.BoolValue(true))
	assert.Equal(t, 7, nilFlag.IntValue(7))

	f := &featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: float64(9)}
	assert.Equal(t, 9, f.IntValue(0))
	assert.False(t, f.BoolValue(false), "numbers are not bools")

	f = &featureflags.Flag{Key: featureflags.FlagForceSimulatedMode, Value: true}
	assert.True(t, f.BoolValue(false))
	assert.Equal(t, 4, f.IntValue(4))
}

func TestInMemoryRepository(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, featureflags.FlagMaxRadius)
	assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)

	seed := &featureflags.Flag{Key: featureflags.FlagMaxRadius, Value: float64(8)}
	require.NoError(t, repo.Upsert(ctx, seed))
	seed.Value = float64(99)

	got, err := repo.Get(ctx, featureflags.FlagMaxRadius)
	require.NoError(t, err)
	assert.Equal(t, 8, got.IntValue(0), "the repository stores copies")

	require.NoError(t, repo.Delete(ctx, featureflags.FlagMaxRadius))
	assert.ErrorIs(t, repo.Delete(ctx, featureflags.FlagMaxRadius), featureflags.ErrFlagNotFound)
}
