package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beewatch/beewatch/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem response, recording it on the
// request span and in the log. http.ErrAbortHandler is re-raised.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(rec)
				}

				err := fmt.Errorf("panic: %v", rec)
				span := trace.SpanFromContext(r.Context())
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")

				requestID := GetRequestID(r.Context())
				log.Error().
					Err(err).
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				models.KindInternal.New(requestID, "an unexpected error occurred").Send(w, r)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
