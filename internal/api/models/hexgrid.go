package models

import (
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
)

// HexGridResponse is the body of a generated grid.
type HexGridResponse struct {
	Mode    string     `json:"mode"`
	Window  Window     `json:"window"`
	HexData []HexCell  `json:"hex_data"`
	Summary *GridStats `json:"summary,omitempty"`
}

// Window is a composite period as YYYY-MM-DD dates, end exclusive.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HexCell is one classified cell.
type HexCell struct {
	H3ID     string       `json:"h3_id"`
	Features CellFeatures `json:"features"`
	Label    int          `json:"label"`
	Color    string       `json:"color"`
}

// CellFeatures holds the normalized features of a cell.
type CellFeatures struct {
	NDVI         float64 `json:"ndvi"`
	LST          float64 `json:"lst"`
	SoilMoisture float64 `json:"soil_moisture"`
}

// GridStats counts the outcome of every requested cell. Only assembled cells are in hex_data.
type GridStats struct {
	Requested   int `json:"requested"`
	Assembled   int `json:"assembled"`
	Incomplete  int `json:"incomplete"`
	Failed      int `json:"failed"`
	Unavailable int `json:"unavailable"`
}

// NewHexGridResponse converts a serving result into its response body.
// Serving results only hold complete, classified records.
func NewHexGridResponse(res *grid.Result, withSummary bool) HexGridResponse {
	resp := HexGridResponse{
		Mode: string(res.Mode),
		Window: Window{
			Start: res.Window.StartDate(),
			End:   res.Window.EndDate(),
		},
		HexData: make([]HexCell, 0, len(res.Records)),
	}

	for _, rec := range res.Records {
		vec, ok := rec.Features.Vector()
		if !ok || rec.Category == nil {
			continue
		}
		resp.HexData = append(resp.HexData, HexCell{
			H3ID:     rec.CellID.String(),
			Features: cellFeatures(vec),
			Label:    int(*rec.Category),
			Color:    rec.Color,
		})
	}

	if withSummary {
		resp.Summary = &GridStats{
			Requested:   res.Summary.Requested,
			Assembled:   res.Summary.Assembled,
			Incomplete:  res.Summary.Incomplete,
			Failed:      res.Summary.Failed,
			Unavailable: res.Summary.Unavailable,
		}
	}
	return resp
}

func cellFeatures(v feature.Vector) CellFeatures {
	return CellFeatures{NDVI: v.NDVI, LST: v.LST, SoilMoisture: v.SoilMoisture}
}
