package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/api/response"
	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// Query parameter defaults of grid requests.
const (
	DefaultRadius     = 10
	DefaultResolution = 8
)

// GridGenerator generates classified grids.
type GridGenerator interface {
	Generate(ctx context.Context, req grid.Request) (*grid.Result, error)
}

// HexGridHandler handles grid generation endpoints.
type HexGridHandler struct {
	grids  GridGenerator
	logger zerolog.Logger
}

// NewHexGridHandler creates a new HexGridHandler.
func NewHexGridHandler(grids GridGenerator, logger zerolog.Logger) *HexGridHandler {
	return &HexGridHandler{grids: grids, logger: logger}
}

// GenerateHexGrid handles GET /api/generate_hexgrid and GET /v1/hexgrid.
func (h *HexGridHandler) GenerateHexGrid(w http.ResponseWriter, r *http.Request) {
	req, withSummary, fieldErrs := parseGridQuery(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid grid request", fieldErrs)
		return
	}

	res, err := h.grids.Generate(r.Context(), req)
	if err != nil {
		h.writeGenerateError(w, r, err)
		return
	}

	w.Header().Set(middleware.HeaderGridMode, string(res.Mode))
	w.Header().Set(middleware.HeaderGridClassifier, res.Classifier)
	response.JSON(w, r, http.StatusOK, models.NewHexGridResponse(res, withSummary))
}

func (h *HexGridHandler) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hexgrid.ErrInvalidParameter):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, feature.ErrNoDataAvailable):
		response.UpstreamUnavailable(w, r, models.ProblemTypeNoData, err.Error())
	case errors.Is(err, grid.ErrUpstreamData):
		response.UpstreamUnavailable(w, r, models.ProblemTypeUpstreamData, err.Error())
	case errors.Is(err, feature.ErrProviderUnavailable):
		response.UpstreamUnavailable(w, r, models.ProblemTypeProviderUnavailable, err.Error())
	case errors.Is(err, classify.ErrSchemaMismatch):
		h.logger.Error().Err(err).Msg("classifier does not match the feature schema")
		response.Problem(w, r, models.KindClassifierMisconfigured, "classifier does not match the feature schema")
	case r.Context().Err() != nil:
		h.logger.Debug().Err(err).Msg("grid request abandoned by client")
	default:
		h.logger.Error().Err(err).Msg("grid generation failed")
		response.InternalError(w, r, "grid generation failed")
	}
}

func parseGridQuery(r *http.Request) (grid.Request, bool, []models.FieldError) {
	q := r.URL.Query()
	var errs []models.FieldError

	lat, err := requiredFloat(q.Get("lat"))
	if err != nil {
		errs = append(errs, models.FieldError{Field: "lat", Message: err.Error()})
	}
	lon, err := requiredFloat(q.Get("lon"))
	if err != nil {
		errs = append(errs, models.FieldError{Field: "lon", Message: err.Error()})
	}

	radius, err := optionalInt(q.Get("radius"), DefaultRadius)
	if err != nil {
		errs = append(errs, models.FieldError{Field: "radius", Message: err.Error()})
	}
	resolution, err := optionalInt(q.Get("resolution"), DefaultResolution)
	if err != nil {
		errs = append(errs, models.FieldError{Field: "resolution", Message: err.Error()})
	}

	mode, err := feature.ParseMode(q.Get("mode"))
	if err != nil {
		errs = append(errs, models.FieldError{Field: "mode", Message: "must be live or simulated"})
	}

	var window *feature.TimeWindow
	start, end := q.Get("start"), q.Get("end")
	switch {
	case start == "" && end == "":
	case start == "" || end == "":
		errs = append(errs, models.FieldError{Field: "start", Message: "start and end must be given together"})
	default:
		w, err := feature.ParseTimeWindow(start, end)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "end", Message: err.Error()})
		} else {
			window = &w
		}
	}

	withSummary, _ := strconv.ParseBool(q.Get("summary"))

	return grid.Request{
		Center:     hexgrid.Coordinate{Lat: lat, Lon: lon},
		Resolution: resolution,
		Radius:     radius,
		Window:     window,
		Mode:       mode,
	}, withSummary, errs
}

var (
	errRequired  = errors.New("required")
	errNotNumber = errors.New("must be a number")
)

func requiredFloat(s string) (float64, error) {
	if s == "" {
		return 0, errRequired
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errNotNumber
	}
	return v, nil
}

func optionalInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return v, nil
}
