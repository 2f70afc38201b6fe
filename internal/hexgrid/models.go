// Package hexgrid tiles geographic areas into H3 hexagonal cells.
package hexgrid

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned for out-of-range coordinates, resolutions, radii or bounds.
var ErrInvalidParameter = errors.New("invalid parameter")

// Resolution limits of the H3 grid.
const (
	MinResolution     = 0
	MaxResolution     = 15
	DefaultResolution = 8
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lat != c.Lat {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidParameter, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 || c.Lon != c.Lon {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidParameter, c.Lon)
	}
	return nil
}

// CellID is the canonical lowercase hexadecimal H3 index of a cell.
type CellID string

func (id CellID) String() string {
	return string(id)
}

// BoundingBox is an axis-aligned latitude/longitude box.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Validate checks corner ranges and that min < max on both axes.
func (b BoundingBox) Validate() error {
	if err := (Coordinate{Lat: b.MinLat, Lon: b.MinLon}).Validate(); err != nil {
		return err
	}
	if err := (Coordinate{Lat: b.MaxLat, Lon: b.MaxLon}).Validate(); err != nil {
		return err
	}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: bounding box min must be below max", ErrInvalidParameter)
	}
	return nil
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}
}

// DiskSize returns the number of cells in a full grid disk of the given radius.
// Disks that touch one of the twelve pentagons contain fewer cells.
func DiskSize(radius int) int {
	return 3*radius*(radius+1) + 1
}

// ValidateResolution checks that res is a valid H3 resolution.
func ValidateResolution(res int) error {
	if res < MinResolution || res > MaxResolution {
		return fmt.Errorf("%w: resolution %d out of range [%d, %d]", ErrInvalidParameter, res, MinResolution, MaxResolution)
	}
	return nil
}
