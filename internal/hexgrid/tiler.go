package hexgrid

import (
	"fmt"
	"math"
	"slices"

	"github.com/uber/h3-go/v4"
)

// Tiler produces the set of cells covering an area around a center point.
type Tiler interface {
	Tile(center Coordinate, resolution, radius int) ([]CellID, error)
}

// RingTiler tiles the full grid disk of radius rings around the center cell.
type RingTiler struct{}

// NewRingTiler creates a RingTiler.
func NewRingTiler() *RingTiler {
	return &RingTiler{}
}

// Tile returns the sorted, deduplicated grid disk of radius rings around center.
func (t *RingTiler) Tile(center Coordinate, resolution, radius int) ([]CellID, error) {
	if radius < 0 {
		return nil, fmt.Errorf("%w: radius %d must not be negative", ErrInvalidParameter, radius)
	}
	origin, err := cellAt(center, resolution)
	if err != nil {
		return nil, err
	}

	return canonical(h3.GridDisk(origin, radius)), nil
}

// LatticeConfig holds configuration for the LatticeTiler.
type LatticeConfig struct {
	// Step is the lattice spacing in degrees.
	// Default: 0.01
	Step float64

	// MaxSamples caps the number of lattice points per call.
	// Default: 250000
	MaxSamples int
}

// LatticeTiler samples a regular lattice inside a bounding box and snaps each point to its cell.
type LatticeTiler struct {
	step       float64
	maxSamples int
}

// NewLatticeTiler creates a LatticeTiler.
func NewLatticeTiler(cfg LatticeConfig) *LatticeTiler {
	if cfg.Step <= 0 {
		cfg.Step = 0.01
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 250000
	}
	return &LatticeTiler{step: cfg.Step, maxSamples: cfg.MaxSamples}
}

// Tile covers a square box of radius lattice steps on each side of center.
func (t *LatticeTiler) Tile(center Coordinate, resolution, radius int) ([]CellID, error) {
	if radius < 0 {
		return nil, fmt.Errorf("%w: radius %d must not be negative", ErrInvalidParameter, radius)
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radius == 0 {
		id, err := CellAt(center, resolution)
		if err != nil {
			return nil, err
		}
		return []CellID{id}, nil
	}
	return t.TileBounds(BoundsAround(center, radius, t.step), resolution)
}

// TileBounds returns the sorted, deduplicated cells hit by the lattice inside box.
// The effective spacing never exceeds one cell edge so the covering has no holes.
func (t *LatticeTiler) TileBounds(box BoundingBox, resolution int) ([]CellID, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	edge, err := EdgeLengthKm(resolution)
	if err != nil {
		return nil, err
	}

	step := math.Min(t.step, edge/kmPerDegree)
	// Index rows and cols land exactly on the max edge.
	rows := int(math.Floor((box.MaxLat-box.MinLat)/step+1e-9)) + 1
	cols := int(math.Floor((box.MaxLon-box.MinLon)/step+1e-9)) + 1
	if rows+1 > t.maxSamples/(cols+1) {
		return nil, fmt.Errorf("%w: lattice of %dx%d points exceeds %d samples", ErrInvalidParameter, rows+1, cols+1, t.maxSamples)
	}

	cells := make([]h3.Cell, 0, rows*cols/4+1)
	seen := make(map[h3.Cell]struct{})
	for i := 0; i <= rows; i++ {
		lat := math.Min(box.MinLat+float64(i)*step, box.MaxLat)
		for j := 0; j <= cols; j++ {
			lon := math.Min(box.MinLon+float64(j)*step, box.MaxLon)
			c := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cells = append(cells, c)
		}
	}

	return canonical(cells), nil
}

const kmPerDegree = 111.32

// BoundsAround builds the box of halfSteps lattice steps on each side of center, clamped to valid ranges.
func BoundsAround(center Coordinate, halfSteps int, step float64) BoundingBox {
	d := float64(halfSteps) * step
	return BoundingBox{
		MinLat: math.Max(center.Lat-d, -90),
		MinLon: math.Max(center.Lon-d, -180),
		MaxLat: math.Min(center.Lat+d, 90),
		MaxLon: math.Min(center.Lon+d, 180),
	}
}

func canonical(cells []h3.Cell) []CellID {
	ids := make([]CellID, 0, len(cells))
	for _, c := range cells {
		if c == 0 {
			continue
		}
		ids = append(ids, fromH3(c))
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
