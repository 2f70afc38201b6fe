// Package dataset builds labeled training rows from assembled grids.
package dataset

import (
	"context"
	"errors"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("dataset sink closed")

// Row is one labeled cell of one window. Nil fields are absent values.
type Row struct {
	CellID       hexgrid.CellID
	NDVI         *float64
	LST          *float64
	SoilMoisture *float64
	Label        *int
	StartDate    string
	EndDate      string
}

// Schema names the dataset columns. Only the moisture column differs between variants.
type Schema struct {
	Name           string
	MoistureColumn string
}

// SoilMoistureSchema is the canonical dataset layout.
func SoilMoistureSchema() Schema {
	return Schema{Name: "soil_moisture", MoistureColumn: feature.NameSoilMoisture}
}

// ETSchema is the evapotranspiration variant layout.
func ETSchema() Schema {
	return Schema{Name: "et", MoistureColumn: feature.NameET}
}

// SchemaFor returns the layout matching a threshold table.
func SchemaFor(t classify.Thresholds) Schema {
	if t.Name == classify.ETRules().Name {
		return ETSchema()
	}
	return SoilMoistureSchema()
}

// Header returns the column names in file order.
func (s Schema) Header() []string {
	moisture := s.MoistureColumn
	if moisture == "" {
		moisture = SoilMoistureSchema().MoistureColumn
	}
	return []string{"h3_id", "ndvi", "lst", moisture, "label", "start_date", "end_date"}
}

// RowFromRecord converts an assembled cell into a row of window w.
func RowFromRecord(rec grid.CellRecord, w feature.TimeWindow) Row {
	row := Row{
		CellID:       rec.CellID,
		NDVI:         rec.Features.NDVI,
		LST:          rec.Features.LST,
		SoilMoisture: rec.Features.SoilMoisture,
		StartDate:    w.StartDate(),
		EndDate:      w.EndDate(),
	}
	if rec.Category != nil {
		label := int(*rec.Category)
		row.Label = &label
	}
	return row
}

// Sink receives dataset rows.
type Sink interface {
	Write(ctx context.Context, rows []Row) error
	Close() error
}
