// Package featureflags holds runtime switches that degrade or constrain the grid
// pipeline without a redeploy.
package featureflags

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagForceSimulatedMode serves every grid from the simulated provider.
	FlagForceSimulatedMode = "force_simulated_mode"

	// FlagRulesOnlyClassification bypasses the trained model and labels cells by thresholds.
	FlagRulesOnlyClassification = "rules_only_classification"

	// FlagMaxRadius lowers the largest accepted grid radius. Zero keeps the configured limit.
	FlagMaxRadius = "max_radius"

	// FlagSimulatedFallback re-runs requests in simulated mode when the live provider is down.
	FlagSimulatedFallback = "simulated_fallback"
)

var (
	// ErrUnknownFlag is returned when writing a key that is not a known flag.
	ErrUnknownFlag = errors.New("unknown feature flag")

	// ErrInvalidValue is returned when a value does not fit the flag's kind.
	ErrInvalidValue = errors.New("invalid feature flag value")
)

// Kind is the value type a flag accepts.
type Kind string

// Flag kinds.
const (
	KindBool  Kind = "bool"
	KindCount Kind = "count"
)

// definition describes a known flag and its fallback value.
type definition struct {
	kind     Kind
	fallback any
}

var definitions = map[string]definition{
	FlagForceSimulatedMode:      {kind: KindBool, fallback: false},
	FlagRulesOnlyClassification: {kind: KindBool, fallback: false},
	FlagSimulatedFallback:       {kind: KindBool, fallback: true},
	FlagMaxRadius:               {kind: KindCount, fallback: float64(0)},
}

// Flag is one stored or default switch value.
type Flag struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Default is set when no override is stored for the key.
	Default bool `json:"default"`
}

// FlagUpdate is one entry of an update request.
type FlagUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FlagUpdateRequest is the body of an admin flag update.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// Keys lists the known flags in order.
func Keys() []string {
	keys := make([]string, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KindOf returns the kind of a known flag.
func KindOf(key string) (Kind, bool) {
	d, ok := definitions[key]
	return d.kind, ok
}

// Validate checks that value fits the kind of the flag named key.
// Counts accept any non-negative whole number.
func Validate(key string, value any) error {
	d, ok := definitions[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, key)
	}
	switch d.kind {
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s expects true or false, got %v", ErrInvalidValue, key, value)
		}
	case KindCount:
		n, ok := number(value)
		if !ok || n < 0 || n != math.Trunc(n) {
			return fmt.Errorf("%w: %s expects a non-negative whole number, got %v", ErrInvalidValue, key, value)
		}
	}
	return nil
}

// Defaults returns the fallback value of every known flag stamped with at.
func Defaults(at time.Time) map[string]*Flag {
	out := make(map[string]*Flag, len(definitions))
	for key, d := range definitions {
		out[key] = &Flag{Key: key, Value: d.fallback, UpdatedAt: at, Default: true}
	}
	return out
}

// BoolValue returns the value as a bool, or fallback when the flag is nil or not a bool.
func (f *Flag) BoolValue(fallback bool) bool {
	if f == nil {
		return fallback
	}
	if v, ok := f.Value.(bool); ok {
		return v
	}
	return fallback
}

// IntValue returns the value as an int, or fallback when the flag is nil or not a number.
func (f *Flag) IntValue(fallback int) int {
	if f == nil {
		return fallback
	}
	if n, ok := number(f.Value); ok {
		return int(n)
	}
	return fallback
}

func (f *Flag) clone() *Flag {
	c := *f
	return &c
}

// number accepts the numeric types produced by JSON decoding and Go callers.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
