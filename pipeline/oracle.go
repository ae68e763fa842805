package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultOracleTimeout is the default HTTP request timeout for inference calls.
	DefaultOracleTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	maxResponseBytes = 1 << 20
)

// ErrModelUnavailable means the model server does not serve the requested model.
var ErrModelUnavailable = errors.New("model unavailable")

// Oracle runs a regression model on a framed input.
type Oracle interface {
	Predict(ctx context.Context, model string, input Tensor) ([]float64, error)
	Available(ctx context.Context, model string) error
}

// OracleOption configures an HTTPOracle.
type OracleOption func(*oracleConfig)

type oracleConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultOracleConfig() oracleConfig {
	return oracleConfig{
		timeout:     DefaultOracleTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) OracleOption {
	return func(c *oracleConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) OracleOption {
	return func(c *oracleConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) OracleOption {
	return func(c *oracleConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) OracleOption {
	return func(c *oracleConfig) {
		c.client = client
	}
}

// HTTPOracle calls a model server speaking
//
//	POST <base>/v1/models/<name>:predict  {"model_name", "shape", "data"} -> {"outputs": [...]}
//	GET  <base>/v1/models/<name>          200 when the model is loaded
type HTTPOracle struct {
	baseURL string
	cfg     oracleConfig
	client  *http.Client
}

func NewHTTPOracle(baseURL string, opts ...OracleOption) *HTTPOracle {
	cfg := defaultOracleConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &HTTPOracle{baseURL: strings.TrimRight(baseURL, "/"), cfg: cfg, client: client}
}

type predictRequest struct {
	ModelName string    `json:"model_name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
}

type predictResponse struct {
	Outputs []float64 `json:"outputs"`
}

// statusError is a non-200 answer from the model server.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %s: status %d", e.url, e.code)
}

func (o *HTTPOracle) modelURL(model string) string {
	return o.baseURL + "/v1/models/" + url.PathEscape(model)
}

// Predict posts the input and returns the raw regression vector. Transient
// failures are retried with exponential backoff; a 404 maps to
// ErrModelUnavailable and is not retried.
func (o *HTTPOracle) Predict(ctx context.Context, model string, input Tensor) ([]float64, error) {
	payload, err := json.Marshal(predictRequest{ModelName: model, Shape: input.Shape, Data: input.Data})
	if err != nil {
		return nil, fmt.Errorf("predict %s: encoding request: %w", model, err)
	}
	target := o.modelURL(model) + ":predict"

	var lastErr error
	for attempt := range o.cfg.maxRetries {
		if attempt > 0 {
			backoff := o.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("predict %s: %w", model, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := o.do(ctx, http.MethodPost, target, payload)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code == http.StatusNotFound {
				return nil, fmt.Errorf("predict %s: %w", model, ErrModelUnavailable)
			}
			lastErr = err
			continue
		}

		var resp predictResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			// Decode errors are not transient; do not retry.
			return nil, fmt.Errorf("predict %s: decoding response: %w", model, err)
		}
		return resp.Outputs, nil
	}

	return nil, fmt.Errorf("predict %s: all %d attempts failed: %w", model, o.cfg.maxRetries, lastErr)
}

// Available reports whether the server has the model loaded.
func (o *HTTPOracle) Available(ctx context.Context, model string) error {
	_, err := o.do(ctx, http.MethodGet, o.modelURL(model), nil)
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", model, ErrModelUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", model, ErrModelUnavailable, err)
}

// do performs a single request and returns the response body bytes.
func (o *HTTPOracle) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", target, err)
	}
	return body, nil
}
