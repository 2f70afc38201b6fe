package earthengine

import "github.com/beewatch/beewatch/internal/feature"

// Layer is one remote sensing product aggregated per cell.
type Layer struct {
	// Feature is the feature name the layer fills.
	Feature string

	// Collection is the Earth Engine image collection id.
	Collection string

	// Band is the band averaged over the cell.
	Band string

	// FallbackBand is used when a window's images lack Band. Empty disables the lookup.
	FallbackBand string

	// Scale is the reduction scale in meters.
	Scale float64

	// Composite reduces the window's images to one image: CompositeMean (default) or CompositeMedian.
	Composite string
}

// Composite reducers.
const (
	CompositeMean   = "mean"
	CompositeMedian = "median"
)

func (l Layer) compositeFunction() string {
	if l.Composite == CompositeMedian {
		return "reduce.median"
	}
	return "reduce.mean"
}

// Layers groups the three layers of a feature vector. SoilMoisture fills the
// moisture slot, which carries evapotranspiration for ETLayers.
type Layers struct {
	NDVI         Layer
	LST          Layer
	SoilMoisture Layer
}

// DefaultLayers returns the MODIS and SMAP products.
func DefaultLayers() Layers {
	return Layers{
		NDVI: Layer{
			Feature:    feature.NameNDVI,
			Collection: "MODIS/061/MOD13A2",
			Band:       "NDVI",
			Scale:      1000,
		},
		LST: Layer{
			Feature:    feature.NameLST,
			Collection: "MODIS/061/MOD11A2",
			Band:       "LST_Day_1km",
			Scale:      1000,
		},
		SoilMoisture: Layer{
			Feature:      feature.NameSoilMoisture,
			Collection:   "NASA/SMAP/SPL4SMGP/008",
			Band:         "sm_rootzone",
			FallbackBand: "sm_surface",
			Scale:        9000,
		},
	}
}

// ETLayers returns the MODIS products with ECOSTRESS evapotranspiration in the moisture slot.
func ETLayers() Layers {
	l := DefaultLayers()
	l.SoilMoisture = Layer{
		Feature:    feature.NameET,
		Collection: "NASA/JPL/ECOSTRESS/ET/PTJPL_R/001",
		Band:       "ET_PT_JPL",
		Scale:      70,
		Composite:  CompositeMedian,
	}
	return l
}

// All returns the layers in canonical feature order.
func (l Layers) All() []Layer {
	return []Layer{l.NDVI, l.LST, l.SoilMoisture}
}
