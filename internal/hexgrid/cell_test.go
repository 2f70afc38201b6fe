package hexgrid_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewatch/beewatch/internal/hexgrid"
)

func TestBoundary_ClosedRingInLonLatOrder(t *testing.T) {
	id, err := hexgrid.CellAt(lima, 8)
	require.NoError(t, err)

	poly, err := hexgrid.Boundary(id)
	require.NoError(t, err)
	assert.Equal(t, hexgrid.SRID, poly.SRID())

	ring := poly.Coords()[0]
	require.Len(t, ring, 7)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	for _, c := range ring {
		assert.InDelta(t, lima.Lon, c.X(), 0.05)
		assert.InDelta(t, lima.Lat, c.Y(), 0.05)
	}
}

func TestCenter_InsideOwnCell(t *testing.T) {
	id, err := hexgrid.CellAt(lima, 7)
	require.NoError(t, err)

	center, err := hexgrid.Center(id)
	require.NoError(t, err)

	again, err := hexgrid.CellAt(center, 7)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestParseCellID(t *testing.T) {
	id, err := hexgrid.CellAt(lima, 8)
	require.NoError(t, err)

	parsed, err := hexgrid.ParseCellID(strings.ToUpper(string(id)))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "zz", "0", "ffffffffffffffff"} {
		_, err := hexgrid.ParseCellID(bad)
		assert.ErrorIs(t, err, hexgrid.ErrInvalidParameter, "input %q", bad)
	}
}

func TestCoordinate_Validate(t *testing.T) {
	assert.NoError(t, hexgrid.Coordinate{Lat: 90, Lon: -180}.Validate())
	assert.ErrorIs(t, hexgrid.Coordinate{Lat: -90.1, Lon: 0}.Validate(), hexgrid.ErrInvalidParameter)
}
