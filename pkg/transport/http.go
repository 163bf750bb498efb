package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker"
)

// HTTPDispatcher POSTs fragments as JSON to a single compute node endpoint.
// Calls go through a circuit breaker: once the node keeps failing, dispatches
// fail fast with gobreaker.ErrOpenState until the breaker half-opens.
type HTTPDispatcher struct {
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// HTTPOption customizes an HTTPDispatcher.
type HTTPOption func(*HTTPDispatcher)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDispatcher) { d.httpClient = c }
}

// NewHTTPDispatcher creates a dispatcher for cfg.Endpoint.
func NewHTTPDispatcher(cfg Config, opts ...HTTPOption) *HTTPDispatcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	d := &HTTPDispatcher{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(d)
	}

	bc := cfg.Breaker
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatch " + endpoint,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Only trip if we have enough requests to make a decision
			if counts.Requests < bc.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return bc.FailureRatio > 0 && ratio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[DISPATCH] Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the node.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return d
}

// Endpoint returns the URL fragments are sent to.
func (d *HTTPDispatcher) Endpoint() string { return d.endpoint }

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (d *HTTPDispatcher) BreakerState() string { return d.breaker.State().String() }

// Dispatch sends f and decodes the node acknowledgement. Every error is a
// *TransportError; node-side failures unwrap to *APIError.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, f Fragment) (FragmentResult, error) {
	out, err := d.breaker.Execute(func() (any, error) {
		return d.post(ctx, f)
	})
	if err != nil {
		return FragmentResult{}, &TransportError{Op: "dispatch", Endpoint: d.endpoint, TaskID: f.TaskID, Err: err}
	}
	return out.(FragmentResult), nil
}

func (d *HTTPDispatcher) post(ctx context.Context, f Fragment) (FragmentResult, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return FragmentResult{}, fmt.Errorf("failed to marshal fragment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return FragmentResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return FragmentResult{}, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return FragmentResult{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return FragmentResult{}, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return FragmentResult{}, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result FragmentResult
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return FragmentResult{}, fmt.Errorf("failed to decode node response: %w", err)
		}
	}
	if result.TaskID == "" {
		result.TaskID = f.TaskID
	}
	if result.Status == "" {
		result.Status = StatusAccepted
	}
	return result, nil
}
