package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points a validation failure at one request field, e.g. "radius"
// or "updates[2].value".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://api.beewatch.pe/problems/"

// Problem type URIs.
const (
	ProblemTypeValidation       = problemBase + "validation-error"
	ProblemTypeUnauthorized     = problemBase + "unauthorized"
	ProblemTypeNotFound         = problemBase + "not-found"
	ProblemTypeTooManyRequests  = problemBase + "too-many-requests"
	ProblemTypeUnsupportedMedia = problemBase + "unsupported-media-type"
	ProblemTypeTLSRequired      = problemBase + "tls-required"
	ProblemTypeInternal         = problemBase + "internal-error"
	ProblemTypeUnavailable      = problemBase + "service-unavailable"

	// The feature provider could not be reached.
	ProblemTypeProviderUnavailable = problemBase + "provider-unavailable"
	// No composite window in the lookback has observations.
	ProblemTypeNoData = problemBase + "no-data-available"
	// The provider failed for every cell of the grid.
	ProblemTypeUpstreamData = problemBase + "upstream-data-error"
	// The configured model disagrees with the feature schema.
	ProblemTypeClassifierMisconfigured = problemBase + "classifier-misconfigured"
)

// Kind is a problem type together with its title and status.
type Kind struct {
	Type   string
	Title  string
	Status int
}

var (
	KindValidation          = Kind{ProblemTypeValidation, "Validation error", http.StatusBadRequest}
	KindUnauthorized        = Kind{ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized}
	KindTLSRequired         = Kind{ProblemTypeTLSRequired, "TLS required", http.StatusForbidden}
	KindNotFound            = Kind{ProblemTypeNotFound, "Not found", http.StatusNotFound}
	KindUnsupportedMedia    = Kind{ProblemTypeUnsupportedMedia, "Unsupported media type", http.StatusUnsupportedMediaType}
	KindTooManyRequests     = Kind{ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests}
	KindInternal            = Kind{ProblemTypeInternal, "Internal server error", http.StatusInternalServerError}
	KindUnavailable         = Kind{ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable}
	KindProviderUnavailable = Kind{ProblemTypeProviderUnavailable, "Feature provider unavailable", http.StatusServiceUnavailable}
	KindNoData              = Kind{ProblemTypeNoData, "No data available", http.StatusServiceUnavailable}
	KindUpstreamData        = Kind{ProblemTypeUpstreamData, "Upstream data error", http.StatusServiceUnavailable}

	KindClassifierMisconfigured = Kind{ProblemTypeClassifierMisconfigured, "Classifier misconfigured", http.StatusInternalServerError}
)

var kinds = map[string]Kind{}

func init() {
	for _, k := range []Kind{
		KindValidation, KindUnauthorized, KindTLSRequired, KindNotFound,
		KindUnsupportedMedia, KindTooManyRequests, KindInternal, KindUnavailable,
		KindProviderUnavailable, KindNoData, KindUpstreamData, KindClassifierMisconfigured,
	} {
		kinds[k.Type] = k
	}
}

// KindOf returns the Kind registered for a problem type URI. Unknown types
// resolve to KindUnavailable.
func KindOf(problemType string) Kind {
	if k, ok := kinds[problemType]; ok {
		return k
	}
	return KindUnavailable
}

// New builds a problem of kind k.
func (k Kind) New(traceID, detail string, errs ...FieldError) *Problem {
	return &Problem{
		Type:    k.Type,
		Title:   k.Title,
		Status:  k.Status,
		Detail:  detail,
		TraceID: traceID,
		Errors:  errs,
	}
}

// Write encodes p with its status. The trace ID is echoed as X-Request-Id.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Send sets the instance to the request path and writes p.
func (p *Problem) Send(w http.ResponseWriter, r *http.Request) {
	p.Instance = r.URL.Path
	p.Write(w)
}
