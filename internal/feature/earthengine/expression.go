package earthengine

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/beewatch/beewatch/internal/feature"
)

// Expression is an Earth Engine computation graph as accepted by value:compute.
type Expression struct {
	Result string           `json:"result"`
	Values map[string]Value `json:"values"`
}

// Value is a node of the computation graph.
type Value struct {
	ConstantValue           any         `json:"constantValue,omitempty"`
	FunctionInvocationValue *Invocation `json:"functionInvocationValue,omitempty"`
}

// Invocation calls a server-side algorithm with named arguments.
type Invocation struct {
	FunctionName string           `json:"functionName"`
	Arguments    map[string]Value `json:"arguments"`
}

func newExpression(root Value) Expression {
	return Expression{Result: "0", Values: map[string]Value{"0": root}}
}

func constant(v any) Value {
	return Value{ConstantValue: v}
}

func invoke(fn string, args map[string]Value) Value {
	if args == nil {
		args = map[string]Value{}
	}
	return Value{FunctionInvocationValue: &Invocation{FunctionName: fn, Arguments: args}}
}

// filteredCollection selects the images of layer whose start time falls in window.
func filteredCollection(layer Layer, window feature.TimeWindow) Value {
	return invoke("Collection.filter", map[string]Value{
		"collection": invoke("ImageCollection.load", map[string]Value{
			"id": constant(layer.Collection),
		}),
		"filter": invoke("Filter.dateRangeContains", map[string]Value{
			"leftValue": invoke("DateRange", map[string]Value{
				"start": constant(window.StartDate()),
				"end":   constant(window.EndDate()),
			}),
			"rightField": constant("system:time_start"),
		}),
	})
}

// CountExpression counts the images of layer inside window.
func CountExpression(layer Layer, window feature.TimeWindow) Expression {
	return newExpression(invoke("Collection.size", map[string]Value{
		"collection": filteredCollection(layer, window),
	}))
}

// BandNamesExpression lists the bands of the first image of layer inside window.
func BandNamesExpression(layer Layer, window feature.TimeWindow) Expression {
	return newExpression(invoke("Image.bandNames", map[string]Value{
		"image": invoke("Collection.first", map[string]Value{
			"collection": filteredCollection(layer, window),
		}),
	}))
}

// MeanExpression averages band of the window's composite over footprint.
// It evaluates to a dictionary keyed by band whose value is null when no pixel intersects.
func MeanExpression(layer Layer, band string, window feature.TimeWindow, footprint *geom.Polygon) (Expression, error) {
	coords, err := polygonCoordinates(footprint)
	if err != nil {
		return Expression{}, err
	}

	composite := invoke(layer.compositeFunction(), map[string]Value{
		"collection": filteredCollection(layer, window),
	})
	selected := invoke("Image.select", map[string]Value{
		"input":         composite,
		"bandSelectors": constant([]string{band}),
	})

	return newExpression(invoke("Image.reduceRegion", map[string]Value{
		"image":   selected,
		"reducer": invoke("Reducer.mean", nil),
		"geometry": invoke("GeometryConstructors.Polygon", map[string]Value{
			"coordinates": constant(coords),
			"evenOdd":     constant(true),
		}),
		"scale":     constant(layer.Scale),
		"maxPixels": constant(1e9),
	})), nil
}

func polygonCoordinates(p *geom.Polygon) (json.RawMessage, error) {
	if p == nil || p.NumLinearRings() == 0 {
		return nil, fmt.Errorf("empty footprint")
	}
	g, err := geojson.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode footprint: %w", err)
	}
	if g.Coordinates == nil {
		return nil, fmt.Errorf("encode footprint: no coordinates")
	}
	return *g.Coordinates, nil
}
