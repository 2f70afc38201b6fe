package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/auth"
)

const testSigningKey = "beewatch-middleware-test-key"

func testJWTServiceAt(now func() time.Time) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: testSigningKey,
		Issuer:     "https://api.beewatch.pe",
		Audience:   "beewatch-admin",
		Expiry:     time.Hour,
		Now:        now,
	})
}

func testJWTService() *auth.JWTService { return testJWTServiceAt(time.Now) }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authorize(t *testing.T, h http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/feature-flags", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuth_Rejections(t *testing.T) {
	stale, _, err := testJWTServiceAt(func() time.Time { return time.Now().Add(-3 * time.Hour) }).IssueAdminToken("ops")
	require.NoError(t, err)

	tests := []struct {
		name      string
		header    string
		detail    string
		challenge string
	}{
		{"no header", "", "missing authorization header", "invalid_request"},
		{"no scheme", "token123", "invalid authorization header format", "invalid_request"},
		{"basic", "Basic dXNlcjpwYXNz", "invalid authorization header format", "invalid_request"},
		{"scheme only", "Bearer", "invalid authorization header format", "invalid_request"},
		{"empty token", "Bearer   ", "missing bearer token", "invalid_request"},
		{"garbage token", "Bearer invalid.jwt.token", "invalid access token", "invalid_token"},
		{"expired token", "Bearer " + stale, "access token has expired", "invalid_token"},
	}

	h := middleware.AdminAuth(testJWTService())(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := authorize(t, h, tt.header)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="`+tt.challenge+`"`)

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, models.ProblemTypeUnauthorized, p.Type)
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/admin/feature-flags", p.Instance)
		})
	}
}

type roleless struct{}

func (roleless) ValidateAdminToken(string) (*auth.Claims, error) { return nil, auth.ErrMissingRole }

func TestAdminAuth_MissingRole(t *testing.T) {
	rec := authorize(t, middleware.AdminAuth(roleless{})(okHandler()), "Bearer anything")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin role required")
}

func TestAdminAuth_StoresOperator(t *testing.T) {
	svc := testJWTService()
	token, _, err := svc.IssueAdminToken("ops@beewatch.pe")
	require.NoError(t, err)

	var operator string
	h := middleware.AdminAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = middleware.GetOperator(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		t.Run(scheme, func(t *testing.T) {
			operator = ""
			rec := authorize(t, h, scheme+" "+token)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, "ops@beewatch.pe", operator)
			assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestOperatorContext(t *testing.T) {
	assert.Empty(t, middleware.GetOperator(context.Background()))
	assert.Equal(t, "ana", middleware.GetOperator(middleware.WithOperator(context.Background(), "ana")))
}
