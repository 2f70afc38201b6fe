// Package feature defines per-cell environmental features, their providers and normalization.
package feature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/beewatch/beewatch/internal/hexgrid"
)

// Predefined errors for feature acquisition.
var (
	// ErrProviderUnavailable is returned on transport, auth or provider-side failures.
	ErrProviderUnavailable = errors.New("feature provider unavailable")

	// ErrNoDataAvailable is returned when no composite window has observations for every layer.
	ErrNoDataAvailable = errors.New("no data available in searched time range")

	// ErrIncomplete is returned when a feature vector is missing at least one entry.
	ErrIncomplete = errors.New("incomplete feature vector")
)

// Mode identifies where features come from.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// ParseMode parses a mode string. The empty string is accepted and returned as is.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLive, ModeSimulated:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", hexgrid.ErrInvalidParameter, s)
	}
}

// Feature names in canonical vector order.
const (
	NameNDVI         = "ndvi"
	NameLST          = "lst"
	NameSoilMoisture = "soil_moisture"

	// NameET fills the moisture slot when the evapotranspiration table is selected.
	NameET = "et"
)

// Order is the canonical order of features inside a Vector.
var Order = []string{NameNDVI, NameLST, NameSoilMoisture}

// DateLayout is the calendar date format used for window bounds.
const DateLayout = "2006-01-02"

// TimeWindow is the half-open interval [Start, End) of UTC calendar days.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow creates a window truncated to UTC days. End must be after Start.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: day(start), End: day(end)}
	if !w.End.After(w.Start) {
		return TimeWindow{}, fmt.Errorf("%w: window end %s must be after start %s",
			hexgrid.ErrInvalidParameter, w.End.Format(DateLayout), w.Start.Format(DateLayout))
	}
	return w, nil
}

// ParseTimeWindow parses a window from two YYYY-MM-DD dates.
func ParseTimeWindow(start, end string) (TimeWindow, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("%w: start date %q: %v", hexgrid.ErrInvalidParameter, start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("%w: end date %q: %v", hexgrid.ErrInvalidParameter, end, err)
	}
	return NewTimeWindow(s, e)
}

// StartDate returns Start formatted as YYYY-MM-DD.
func (w TimeWindow) StartDate() string {
	return w.Start.Format(DateLayout)
}

// EndDate returns End formatted as YYYY-MM-DD.
func (w TimeWindow) EndDate() string {
	return w.End.Format(DateLayout)
}

func (w TimeWindow) String() string {
	return "[" + w.StartDate() + ", " + w.EndDate() + ")"
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RawFeatures holds provider-native feature values. A nil entry means the aggregate was absent.
type RawFeatures struct {
	NDVI         *float64
	LST          *float64
	SoilMoisture *float64
}

// IsEmpty reports whether every feature is absent.
func (r RawFeatures) IsEmpty() bool {
	return r.NDVI == nil && r.LST == nil && r.SoilMoisture == nil
}

// Values holds normalized features where any entry may be absent.
type Values struct {
	NDVI         *float64 `json:"ndvi"`
	LST          *float64 `json:"lst"`
	SoilMoisture *float64 `json:"soil_moisture"`
}

// Missing returns the names of absent features in canonical order.
func (v Values) Missing() []string {
	var missing []string
	if v.NDVI == nil {
		missing = append(missing, NameNDVI)
	}
	if v.LST == nil {
		missing = append(missing, NameLST)
	}
	if v.SoilMoisture == nil {
		missing = append(missing, NameSoilMoisture)
	}
	return missing
}

// IsEmpty reports whether every feature is absent.
func (v Values) IsEmpty() bool {
	return len(v.Missing()) == len(Order)
}

// Vector returns the complete vector, or false if any feature is absent.
func (v Values) Vector() (Vector, bool) {
	if v.NDVI == nil || v.LST == nil || v.SoilMoisture == nil {
		return Vector{}, false
	}
	return Vector{NDVI: *v.NDVI, LST: *v.LST, SoilMoisture: *v.SoilMoisture}, true
}

// Vector is a complete normalized feature vector.
type Vector struct {
	NDVI         float64 `json:"ndvi"`
	LST          float64 `json:"lst"`
	SoilMoisture float64 `json:"soil_moisture"`
}

// Slice returns the vector in canonical order.
func (v Vector) Slice() []float64 {
	return []float64{v.NDVI, v.LST, v.SoilMoisture}
}

// Values returns the vector with every entry present.
func (v Vector) Values() Values {
	return Values{NDVI: Float(v.NDVI), LST: Float(v.LST), SoilMoisture: Float(v.SoilMoisture)}
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// Provider fetches raw features for a single cell over a time window.
// Absent aggregates are reported as nil entries; only provider failures return an error.
type Provider interface {
	Fetch(ctx context.Context, cell hexgrid.CellID, footprint *geom.Polygon, window TimeWindow) (RawFeatures, error)
	Name() string
	Mode() Mode
}

// WindowFinder discovers the most recent window with observations for every layer.
type WindowFinder interface {
	DiscoverWindow(ctx context.Context, now time.Time) (TimeWindow, error)
}
