// Package grid assembles classified hex-grid risk maps.
package grid

import (
	"errors"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// ErrUpstreamData is returned when every cell of a non-empty grid failed at the provider.
var ErrUpstreamData = errors.New("upstream feature data unavailable")

// Request describes one grid to generate.
type Request struct {
	Center     hexgrid.Coordinate
	Resolution int
	Radius     int

	// Window selects the composite period explicitly. Nil discovers the latest one.
	Window *feature.TimeWindow

	// Mode narrows the request to simulated data. Empty uses the server default.
	Mode feature.Mode
}

// CellRecord is one assembled cell.
// In serving results Features is complete and Category is set. Dataset results may
// carry absent features and a nil Category.
type CellRecord struct {
	CellID   hexgrid.CellID
	Features feature.Values
	Category *classify.Category
	Color    string
}

// Policy selects how incomplete cells are handled.
type Policy int

const (
	// PolicyServing drops cells that are incomplete or failed to classify.
	PolicyServing Policy = iota

	// PolicyDataset keeps incomplete cells with a nil Category.
	PolicyDataset
)

func (p Policy) String() string {
	if p == PolicyDataset {
		return "dataset"
	}
	return "serving"
}

// Summary tallies cell outcomes of one assembly.
type Summary struct {
	Requested   int
	Assembled   int
	Incomplete  int
	Failed      int
	Unavailable int
}

// Result is a generated grid.
type Result struct {
	Mode       feature.Mode
	Window     feature.TimeWindow
	Records    []CellRecord
	Summary    Summary
	Provider   string
	Classifier string
}
