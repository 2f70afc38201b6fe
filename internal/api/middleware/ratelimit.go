package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// RateLimitConfig is a budget of units per client and window. Units are requests,
// except for GridCellLimit where each request spends the cells it asks for.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default budgets.
var (
	// AdminRateLimit is 10 admin calls per operator and minute.
	AdminRateLimit = RateLimitConfig{RequestLimit: 10, WindowLength: time.Minute}

	// GridCellRateLimit is about thirty radius-10 grids per client and minute.
	GridCellRateLimit = RateLimitConfig{RequestLimit: 10_000, WindowLength: time.Minute}

	// StandardRateLimit is 100 requests per client and minute.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitByIP limits requests per client IP as resolved by chi's RealIP.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, httprate.KeyByRealIP)
}

// RateLimitByOperator limits requests per authenticated operator, or per IP
// before AdminAuth has run.
func RateLimitByOperator(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, func(r *http.Request) (string, error) {
		if op := GetOperator(r.Context()); op != "" {
			return "operator:" + op, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

// GridCellLimit limits grid requests per client IP by the number of cells requested.
// A missing or malformed radius costs defaultRadius, and radii above maxRadius cost
// maxRadius since the handler rejects them anyway.
func GridCellLimit(cfg RateLimitConfig, defaultRadius, maxRadius int) func(http.Handler) http.Handler {
	limit := limiter(cfg, httprate.KeyByRealIP)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cost := GridCost(r, defaultRadius, maxRadius)
			limited.ServeHTTP(w, r.WithContext(httprate.WithIncrement(r.Context(), cost)))
		})
	}
}

// GridCost returns the number of cells a grid request asks for.
func GridCost(r *http.Request, defaultRadius, maxRadius int) int {
	radius, err := strconv.Atoi(r.URL.Query().Get("radius"))
	if err != nil || radius < 0 {
		radius = defaultRadius
	}
	if maxRadius > 0 && radius > maxRadius {
		radius = maxRadius
	}
	return hexgrid.DiskSize(radius)
}

func limiter(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			models.KindTooManyRequests.New(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").Send(w, r)
		}),
	)
}
