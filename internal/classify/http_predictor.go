package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beewatch/beewatch/internal/provider/resilience"
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPPredictorConfig holds configuration for the HTTPPredictor.
type HTTPPredictorConfig struct {
	// Endpoint is the full predict URL, e.g. http://model:8501/v1/models/beewatch:predict.
	Endpoint string

	// HTTPClient is the HTTP client to use. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Timeout for individual predict calls.
	// Default: 5 seconds
	Timeout time.Duration

	// Registry receives the default client's health. Ignored when HTTPClient is set.
	Registry *resilience.Registry
}

// HTTPPredictor calls a model server speaking the TensorFlow Serving REST predict format.
type HTTPPredictor struct {
	endpoint   string
	httpClient HTTPDoer
}

// NewHTTPPredictor creates an HTTPPredictor.
func NewHTTPPredictor(cfg HTTPPredictorConfig) *HTTPPredictor {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            "model-server",
			Stage:           resilience.StageModel,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Registry:        cfg.Registry,
		})
	}
	return &HTTPPredictor{endpoint: cfg.Endpoint, httpClient: httpClient}
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// Predict implements Predictor. Transport failures and 5xx or 429 responses wrap
// ErrPredictorUnavailable; other non-200 responses are plain errors.
func (p *HTTPPredictor) Predict(ctx context.Context, x []float64) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][]float64{x}})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredictorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("model server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrPredictorUnavailable, err)
		}
		return nil, err
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("model server: %s", out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("%w: got %d predictions for one instance", ErrSchemaMismatch, len(out.Predictions))
	}
	return out.Predictions[0], nil
}
