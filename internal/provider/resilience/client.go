package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

var (
	// ErrCircuitOpen is returned without calling the upstream while its circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited is returned when the client-side limiter cannot admit a
	// request before the context deadline.
	ErrRateLimited = errors.New("client rate limit wait exceeded")
)

// ClientConfig configures a Client. Zero durations and retry counts take the
// values of DefaultClientConfig.
type ClientConfig struct {
	// Name identifies the upstream in logs, breaker state and the registry.
	Name string

	// Stage defaults to StageFeatures.
	Stage Stage

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxRetries counts attempts after the first. Negative disables retries.
	MaxRetries int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Breaker BreakerConfig

	// Limiter throttles every attempt, retries included. Nil means unlimited.
	Limiter *rate.Limiter

	// Registry, if set, registers the client and records request outcomes.
	Registry *Registry

	// Logger receives circuit state changes.
	Logger zerolog.Logger

	// Transport defaults to http.DefaultTransport traced with otelhttp.
	Transport http.RoundTripper
}

// DefaultClientConfig returns the defaults for an upstream named name.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Stage:           StageFeatures,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Breaker:         DefaultBreakerConfig(),
	}
}

// Client is an http.Client for one upstream. 5xx and 429 responses and
// transport errors are retried with exponential backoff and count against the
// circuit; a Retry-After header on such a response replaces the next backoff
// interval, capped at MaxInterval.
type Client struct {
	cfg     ClientConfig
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a Client and registers it when cfg.Registry is set.
func NewClient(cfg ClientConfig) *Client {
	d := DefaultClientConfig(cfg.Name)
	if cfg.Stage == "" {
		cfg.Stage = d.Stage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = d.MaxInterval
	}
	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c := &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breaker: newBreaker[*http.Response](cfg.Name, cfg.Breaker, cfg.Logger), //nolint:bodyclose // type parameter
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, cfg.Stage, c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string { return c.cfg.Name }

// Do sends req under the retry and circuit policy. When retries run out on a
// 5xx or 429 the last response is returned without error so the caller can
// read the upstream's body. Requests with a body are retried only when
// req.GetBody can replay it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	started := time.Now()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialInterval
	expo.MaxInterval = c.cfg.MaxInterval
	expo.MaxElapsedTime = 0
	hinted := &hintedBackOff{BackOff: expo, ceiling: c.cfg.MaxInterval}

	retries := uint64(max(c.cfg.MaxRetries, 0))
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, retries), ctx)

	var last *http.Response
	keep := func(resp *http.Response) {
		if last != nil {
			last.Body.Close()
		}
		last = resp
	}

	attempt := 0
	err := backoff.Retry(func() error {
		resp, err := c.attempt(req, attempt)
		attempt++
		if resp != nil {
			keep(resp)
			hinted.hint = retryAfter(resp)
		}
		return err
	}, policy)
	c.record(time.Since(started), err)

	switch {
	case err == nil:
		return last, nil
	case last != nil && !errors.Is(err, ErrCircuitOpen):
		return last, nil
	default:
		keep(nil)
		return nil, err
	}
}

// attempt makes one call. Errors that must not be retried are wrapped with
// backoff.Permanent.
func (c *Client) attempt(req *http.Request, n int) (*http.Response, error) {
	ctx := req.Context()
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrRateLimited, err))
		}
	}

	out, err := replay(req, n)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
		resp, err := c.hc.Do(out)
		if err != nil {
			return nil, err
		}
		if retryable(resp.StatusCode) {
			return resp, &ServerError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, backoff.Permanent(ErrCircuitOpen)
	}
	return resp, err
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// replay clones req for attempt n, rewinding the body after the first attempt.
func replay(req *http.Request, n int) (*http.Request, error) {
	out := req.Clone(req.Context())
	if n == 0 || req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed for retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replay request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// retryAfter reads a Retry-After header in seconds or as an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" || !retryable(resp.StatusCode) {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

// hintedBackOff prefers a server-provided delay over the wrapped policy.
type hintedBackOff struct {
	backoff.BackOff
	hint    time.Duration
	ceiling time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || b.hint <= 0 {
		return next
	}
	return min(b.hint, b.ceiling)
}

func (c *Client) record(latency time.Duration, err error) {
	if c.cfg.Registry != nil {
		c.cfg.Registry.Record(c.cfg.Name, latency, err)
	}
}

// ServerError is a 5xx or 429 response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the state of the upstream's circuit.
func (c *Client) CircuitBreakerState() gobreaker.State { return c.breaker.State() }

// CircuitBreakerCounts returns the counts of the current circuit generation.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts { return c.breaker.Counts() }
