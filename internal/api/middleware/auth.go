package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/auth"
)

type operatorKey struct{}

// TokenValidator validates admin bearer tokens.
type TokenValidator interface {
	ValidateAdminToken(token string) (*auth.Claims, error)
}

// AdminAuth admits requests carrying a valid admin bearer token and stores the
// operator name in the context. Every rejection is a 401 problem with an
// RFC 6750 challenge.
func AdminAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, detail := bearerToken(r.Header.Get("Authorization"))
			if detail != "" {
				challenge(w, r, "invalid_request", detail)
				return
			}

			claims, err := validator.ValidateAdminToken(token)
			if err != nil {
				challenge(w, r, "invalid_token", rejection(err))
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beewatch.operator", claims.Subject))
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims.Subject)))
		})
	}
}

// bearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively. detail is non-empty when the header is
// unusable.
func bearerToken(header string) (token, detail string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

func rejection(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "access token has expired"
	case errors.Is(err, auth.ErrMissingRole):
		return "admin role required"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid access token"
	default:
		return "authentication failed"
	}
}

// challenge writes the 401 here because the response package imports middleware.
func challenge(w http.ResponseWriter, r *http.Request, code, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="beewatch-admin", error="`+code+`"`)
	models.KindUnauthorized.New(GetRequestID(r.Context()), detail).Send(w, r)
}

// WithOperator returns ctx carrying the authenticated operator.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// GetOperator returns the authenticated operator, or "" outside admin routes.
func GetOperator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
