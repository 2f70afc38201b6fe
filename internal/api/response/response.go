// Package response writes JSON and problem bodies for the API handlers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/api/models"
)

// JSON encodes data with status. A nil data writes headers only.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	correlate(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// NoContent writes 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	correlate(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Problem writes a problem of kind k for the current request.
func Problem(w http.ResponseWriter, r *http.Request, k models.Kind, detail string, errs ...models.FieldError) {
	k.New(middleware.GetRequestID(r.Context()), detail, errs...).Send(w, r)
}

// BadRequest writes a 400 validation problem listing the offending fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Problem(w, r, models.KindValidation, detail, errs...)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.KindNotFound, detail)
}

func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.KindInternal, detail)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.KindUnavailable, detail)
}

// UpstreamUnavailable writes a 503 for one of the provider problem types.
func UpstreamUnavailable(w http.ResponseWriter, r *http.Request, problemType, detail string) {
	Problem(w, r, models.KindOf(problemType), detail)
}

func correlate(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.HeaderRequestID, id)
	}
}
