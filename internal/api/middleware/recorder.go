package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Response headers the grid handler sets so the access log and HTTP metrics can
// tell live, simulated and rules-only responses apart.
const (
	HeaderGridMode       = "X-Grid-Mode"
	HeaderGridClassifier = "X-Grid-Classifier"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	settled bool
}

// record returns w itself when it is already a recorder, so stacked middleware share one.
func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.settled {
		rw.status = code
		rw.settled = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.settled = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) gridMode() string {
	return rw.Header().Get(HeaderGridMode)
}

// routePattern returns the matched chi route pattern, or the raw path outside a chi router.
// It is only complete once the request has been routed.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
