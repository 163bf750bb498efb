// Package client provides a Go client for the wingbeat HTTP API.
//
// It covers the operations exposed by wingbeatd:
//   - Swarm management (spawn and list tornadoes, stats, stepping).
//   - Runs (send prompts and models, poll for reassembled results).
//   - Background simulation tasks (start, poll, wait).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
)

// --- Custom Errors ---

// APIError represents an error returned by the wingbeat API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Response Structs ---

type spawnResponse struct {
	ID string `json:"id"`
}

type runAccepted struct {
	RunID  string             `json:"run_id"`
	Status pipeline.RunStatus `json:"status"`
}

type taskAccepted struct {
	TaskID string `json:"task_id"`
}

// StepResult reports the swarm after a synchronous step request.
type StepResult struct {
	Steps int         `json:"steps"`
	Stats swarm.Stats `json:"stats"`
}

// Task represents a background simulation run on the server.
type Task struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	StepsDone       int    `json:"steps_done"`
	StepsTotal      int    `json:"steps_total"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Error           string `json:"error,omitempty"`

	client *Client // Reference to the client for polling.
}

// --- Client ---

// Client is the Go client for the wingbeat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the API served at baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// jsonRequest executes a request against the API and returns the status code
// and body of any non-error response.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) (int, error) {
	code, body, err := c.jsonRequest(ctx, method, endpoint, payload)
	if err != nil {
		return code, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return code, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return code, nil
}

// Health checks the server liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// --- Swarm Methods ---

// SpawnTornado creates a tornado at pos. capacity <= 0 uses the server default.
func (c *Client) SpawnTornado(ctx context.Context, pos types.Vec3, capacity int) (string, error) {
	payload := map[string]any{"position": pos}
	if capacity > 0 {
		payload["capacity"] = capacity
	}
	var resp spawnResponse
	if _, err := c.call(ctx, http.MethodPost, "/swarm/tornadoes", payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Tornadoes lists the tornadoes of the swarm.
func (c *Client) Tornadoes(ctx context.Context) ([]swarm.TornadoInfo, error) {
	var out []swarm.TornadoInfo
	_, err := c.call(ctx, http.MethodGet, "/swarm/tornadoes", nil, &out)
	return out, err
}

// Stats returns the swarm counters.
func (c *Client) Stats(ctx context.Context) (swarm.Stats, error) {
	var out swarm.Stats
	_, err := c.call(ctx, http.MethodGet, "/swarm/stats", nil, &out)
	return out, err
}

// Step runs steps pipeline ticks of length dt on the server and waits for them.
func (c *Client) Step(ctx context.Context, dt float64, steps int) (StepResult, error) {
	var out StepResult
	_, err := c.call(ctx, http.MethodPost, "/swarm/step", map[string]any{"dt": dt, "steps": steps}, &out)
	return out, err
}

// Run starts a background simulation of steps ticks and returns its task.
func (c *Client) Run(ctx context.Context, dt float64, steps int) (*Task, error) {
	var resp taskAccepted
	if _, err := c.call(ctx, http.MethodPost, "/swarm/actions/run", map[string]any{"dt": dt, "steps": steps}, &resp); err != nil {
		return nil, err
	}
	return &Task{ID: resp.TaskID, Status: "started", client: c}, nil
}

// GetTaskStatus retrieves the current state of a background task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if _, err := c.call(ctx, http.MethodGet, "/system/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	task.client = c
	return &task, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh(ctx context.Context) error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTaskStatus(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Status = updated.Status
	t.StepsDone = updated.StepsDone
	t.StepsTotal = updated.StepsTotal
	t.ProgressMessage = updated.ProgressMessage
	t.Error = updated.Error
	return nil
}

// Wait blocks until the task is completed, checking its status at regular intervals.
func (t *Task) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for task %s: %w", t.ID, ctx.Err())
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}

// --- Run Methods ---

// SendPrompt sends a prompt into the swarm and returns its run id.
func (c *Client) SendPrompt(ctx context.Context, prompt string) (string, error) {
	var resp runAccepted
	if _, err := c.call(ctx, http.MethodPost, "/prompts", map[string]any{"prompt": prompt}, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// SendModel decomposes the built-in sample model applied to input.
// strategy is layer_wise, attention_heads or token_wise.
func (c *Client) SendModel(ctx context.Context, input, strategy string, heads, chunkSize int) (string, error) {
	payload := map[string]any{
		"input":      input,
		"strategy":   strategy,
		"heads":      heads,
		"chunk_size": chunkSize,
	}
	var resp runAccepted
	if _, err := c.call(ctx, http.MethodPost, "/models", payload, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Result polls a run once. ready is false while the run is still in the
// swarm, in which case status describes its progress.
func (c *Client) Result(ctx context.Context, runID string) (res pipeline.Result, status pipeline.RunStatus, ready bool, err error) {
	code, body, err := c.jsonRequest(ctx, http.MethodGet, "/prompts/"+runID, nil)
	if err != nil {
		return res, status, false, err
	}
	if code == http.StatusOK {
		err = json.Unmarshal(body, &res)
		return res, status, err == nil, err
	}
	err = json.Unmarshal(body, &status)
	return res, status, false, err
}

// Runs lists every run known to the server.
func (c *Client) Runs(ctx context.Context) ([]pipeline.RunStatus, error) {
	var out []pipeline.RunStatus
	_, err := c.call(ctx, http.MethodGet, "/prompts", nil, &out)
	return out, err
}
