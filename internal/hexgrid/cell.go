package hexgrid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/uber/h3-go/v4"
)

// SRID of the polygons produced by Boundary.
const SRID = 4326

// edgeLengthKm is the average hexagon edge length per resolution.
var edgeLengthKm = [MaxResolution + 1]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

// EdgeLengthKm returns the average hexagon edge length at res.
func EdgeLengthKm(res int) (float64, error) {
	if err := ValidateResolution(res); err != nil {
		return 0, err
	}
	return edgeLengthKm[res], nil
}

// CellAt returns the cell containing c at resolution res.
func CellAt(c Coordinate, res int) (CellID, error) {
	cell, err := cellAt(c, res)
	if err != nil {
		return "", err
	}
	return fromH3(cell), nil
}

func cellAt(c Coordinate, res int) (h3.Cell, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if err := ValidateResolution(res); err != nil {
		return 0, err
	}
	return h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lon), res), nil
}

// ParseCellID validates s as an H3 cell index and returns its canonical form.
func ParseCellID(s string) (CellID, error) {
	cell, err := toH3(CellID(s))
	if err != nil {
		return "", err
	}
	return fromH3(cell), nil
}

// Resolution returns the resolution encoded in the cell index.
func Resolution(id CellID) (int, error) {
	cell, err := toH3(id)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

// Center returns the centroid of the cell.
func Center(id CellID) (Coordinate, error) {
	cell, err := toH3(id)
	if err != nil {
		return Coordinate{}, err
	}
	ll := cell.LatLng()
	return Coordinate{Lat: ll.Lat, Lon: ll.Lng}, nil
}

// Boundary returns the cell footprint as a closed polygon in lon/lat (XY) order.
func Boundary(id CellID) (*geom.Polygon, error) {
	cell, err := toH3(id)
	if err != nil {
		return nil, err
	}

	boundary := cell.Boundary()
	ring := make([]geom.Coord, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, geom.Coord{ll.Lng, ll.Lat})
	}
	ring = append(ring, ring[0])

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return nil, fmt.Errorf("build polygon for %s: %w", id, err)
	}
	return poly.SetSRID(SRID), nil
}

func toH3(id CellID) (h3.Cell, error) {
	s := strings.ToLower(strings.TrimSpace(string(id)))
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cell id %q is not a hexadecimal index", ErrInvalidParameter, string(id))
	}
	cell := h3.Cell(v)
	if !cell.IsValid() {
		return 0, fmt.Errorf("%w: cell id %q is not a valid H3 cell", ErrInvalidParameter, string(id))
	}
	return cell, nil
}

func fromH3(c h3.Cell) CellID {
	return CellID(c.String())
}
