// Package earthengine provides a feature provider backed by the Earth Engine REST API.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the Earth Engine REST API.
	DefaultBaseURL = "https://earthengine.googleapis.com"

	// ProviderName identifies this provider.
	ProviderName = "earthengine"
)

// ErrEvaluation is returned when Earth Engine rejects or fails to evaluate an expression.
// It signals a data problem for one query, not an outage.
var ErrEvaluation = errors.New("earth engine evaluation failed")

// ClientConfig holds configuration for the Earth Engine client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Project is the Cloud project billed for computations. Required.
	Project string

	// Tokens supplies OAuth access tokens. Required.
	Tokens TokenSource

	// HTTPClient is the HTTP client to use (must implement HTTPDoer).
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond limits outbound calls of the default client (default: 10).
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 10).
	Burst int

	// Registry receives the default client's health.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client evaluates expressions with value:compute.
type Client struct {
	endpoint   string
	tokens     TokenSource
	httpClient HTTPDoer
}

// NewClient creates a new Earth Engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("earth engine project is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("earth engine token source is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		rps := cfg.RequestsPerSecond
		if rps <= 0 {
			rps = 10
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 10
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Breaker:         resilience.DefaultBreakerConfig(),
			Logger:          cfg.Logger,
			Limiter:         rate.NewLimiter(rate.Limit(rps), burst),
			Registry:        cfg.Registry,
		})
	}

	return &Client{
		endpoint:   fmt.Sprintf("%s/v1/projects/%s/value:compute", strings.TrimSuffix(baseURL, "/"), cfg.Project),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
	}, nil
}

type computeRequest struct {
	Expression Expression `json:"expression"`
}

type computeResponse struct {
	Result json.RawMessage `json:"result"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Compute evaluates expr and decodes the result into out.
// Transport, auth and server failures wrap feature.ErrProviderUnavailable; rejected
// expressions wrap ErrEvaluation.
func (c *Client) Compute(ctx context.Context, expr Expression, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: obtain token: %v", feature.ErrProviderUnavailable, err)
	}

	body, err := json.Marshal(computeRequest{Expression: expr})
	if err != nil {
		return fmt.Errorf("encode expression: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", feature.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var cr computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return fmt.Errorf("%w: decode response: %v", feature.ErrProviderUnavailable, err)
	}
	if out == nil {
		return nil
	}
	if len(cr.Result) == 0 {
		cr.Result = json.RawMessage("null")
	}
	if err := json.Unmarshal(cr.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrEvaluation, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(data))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrEvaluation, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", feature.ErrProviderUnavailable, resp.StatusCode, msg)
	}
}
