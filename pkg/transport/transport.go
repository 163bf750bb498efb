// Package transport is the boundary between the engine and the compute nodes
// that fragments are shipped to.
//
// A Dispatcher performs one outbound call per fragment. The engine treats
// every failure as recoverable: the fragment stays un-dispatched and is tried
// again on a later step.
package transport

import (
	"context"
	"fmt"
)

// Fragment is the unit shipped to a compute node. TaskID and Payload are the
// wire fields every node understands; the others are informational.
type Fragment struct {
	TaskID  string   `json:"task_id"`
	Payload string   `json:"payload"`
	RunID   string   `json:"run_id,omitempty"`
	Seq     int      `json:"seq"`
	Kind    string   `json:"kind,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// FragmentResult is the acknowledgement of a compute node.
type FragmentResult struct {
	TaskID string `json:"task_id"`
	NodeID string `json:"node_id"`
	Status string `json:"status"`
}

// Dispatcher sends a fragment to a compute node.
// Implementations must honour ctx cancellation and deadlines.
type Dispatcher interface {
	Dispatch(ctx context.Context, f Fragment) (FragmentResult, error)
}

// FuncDispatcher adapts a function to the Dispatcher interface.
type FuncDispatcher func(ctx context.Context, f Fragment) (FragmentResult, error)

// Dispatch calls fn(ctx, f).
func (fn FuncDispatcher) Dispatch(ctx context.Context, f Fragment) (FragmentResult, error) {
	return fn(ctx, f)
}

// LocalDispatcher acknowledges every fragment in process.
type LocalDispatcher struct {
	NodeID string
}

// Dispatch returns an "accepted" result unless ctx is already done.
func (d LocalDispatcher) Dispatch(ctx context.Context, f Fragment) (FragmentResult, error) {
	if err := ctx.Err(); err != nil {
		return FragmentResult{}, &TransportError{Op: "dispatch", Endpoint: "local", TaskID: f.TaskID, Err: err}
	}
	node := d.NodeID
	if node == "" {
		node = "local"
	}
	return FragmentResult{TaskID: f.TaskID, NodeID: node, Status: StatusAccepted}, nil
}

// StatusAccepted is the status a node reports for a fragment it took.
const StatusAccepted = "accepted"

// --- Errors ---

// TransportError wraps any failure of a dispatch call.
type TransportError struct {
	Op       string
	Endpoint string
	TaskID   string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s (task %s): %v", e.Op, e.Endpoint, e.TaskID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is returned by a compute node answering with status >= 400.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node error (status %d): %s", e.StatusCode, e.Message)
}
