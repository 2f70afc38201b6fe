package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/api/response"
	"github.com/beewatch/beewatch/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	flags := h.service.Flags(r.Context())

	list := models.FeatureFlagList{Items: make([]models.FeatureFlag, 0, len(flags))}
	for _, f := range flags {
		kind, _ := featureflags.KindOf(f.Key)
		list.Items = append(list.Items, models.FeatureFlag{
			Key:       f.Key,
			Kind:      string(kind),
			Value:     f.Value,
			Default:   f.Default,
			UpdatedAt: models.Timestamp(f.UpdatedAt),
		})
	}

	response.JSON(w, r, http.StatusOK, list)
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags.
// The batch is applied only when every update is valid.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var input featureflags.FlagUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if len(input.Updates) == 0 {
		response.BadRequest(w, r, "no flag updates given", []models.FieldError{
			{Field: "updates", Message: "must contain at least one update"},
		})
		return
	}

	flags := make([]*featureflags.Flag, 0, len(input.Updates))
	var fieldErrs []models.FieldError
	for i, u := range input.Updates {
		field := "updates[" + strconv.Itoa(i) + "]"
		if u.Key == "" {
			fieldErrs = append(fieldErrs, models.FieldError{Field: field + ".key", Message: "required"})
			continue
		}
		if err := featureflags.Validate(u.Key, u.Value); err != nil {
			name := field + ".value"
			if errors.Is(err, featureflags.ErrUnknownFlag) {
				name = field + ".key"
			}
			fieldErrs = append(fieldErrs, models.FieldError{Field: name, Message: err.Error()})
			continue
		}
		flags = append(flags, &featureflags.Flag{Key: u.Key, Value: u.Value})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid flag updates", fieldErrs)
		return
	}

	if err := h.service.Set(r.Context(), flags...); err != nil {
		if errors.Is(err, featureflags.ErrInvalidValue) || errors.Is(err, featureflags.ErrUnknownFlag) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	keys := make([]string, 0, len(flags))
	for _, f := range flags {
		keys = append(keys, f.Key)
	}
	h.logger.Info().
		Str("operator", middleware.GetOperator(r.Context())).
		Strs("keys", keys).
		Str("reason", input.Reason).
		Msg("feature flags updated")

	response.NoContent(w, r)
}

// ResetFeatureFlag handles DELETE /v1/admin/feature-flags/{key}.
// Resetting a flag that has no override succeeds.
func (h *FeatureFlagsHandler) ResetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	err := h.service.Reset(r.Context(), key)
	switch {
	case errors.Is(err, featureflags.ErrUnknownFlag):
		response.NotFound(w, r, "unknown feature flag "+strconv.Quote(key))
		return
	case err != nil && !errors.Is(err, featureflags.ErrFlagNotFound):
		h.logger.Error().Err(err).Str("flag", key).Msg("failed to reset feature flag")
		response.InternalError(w, r, "failed to reset feature flag")
		return
	}

	h.logger.Info().
		Str("operator", middleware.GetOperator(r.Context())).
		Str("flag", key).
		Msg("feature flag reset to default")

	response.NoContent(w, r)
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}
