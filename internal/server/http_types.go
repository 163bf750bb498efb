package server

import (
	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
)

// SpawnTornadoRequest defines the body for POST /swarm/tornadoes.
type SpawnTornadoRequest struct {
	Position types.Vec3  `json:"position"`
	Capacity int         `json:"capacity,omitempty"`
	Radius   float64     `json:"radius,omitempty"`
	Velocity *types.Vec3 `json:"velocity,omitempty"`
}

// SpawnTornadoResponse carries the new tornado id.
type SpawnTornadoResponse struct {
	ID string `json:"id"`
}

// StepRequest defines the body for POST /swarm/step and POST /swarm/actions/run.
type StepRequest struct {
	DT    float64 `json:"dt,omitempty"`
	Steps int     `json:"steps,omitempty"`
}

// StepResponse reports the swarm after the requested steps.
type StepResponse struct {
	Steps int         `json:"steps"`
	Stats swarm.Stats `json:"stats"`
}

// PromptRequest defines the body for POST /prompts.
type PromptRequest struct {
	Prompt string `json:"prompt"`
	// Strategy is words (default), runes or irregular.
	Strategy string `json:"strategy,omitempty"`
	Size     int    `json:"size,omitempty"`
	Seed     int64  `json:"seed,omitempty"`
}

// ModelRequest defines the body for POST /models. Model defaults to the
// built-in four layer sample.
type ModelRequest struct {
	Input     string          `json:"input"`
	Strategy  string          `json:"strategy,omitempty"`
	Heads     int             `json:"heads,omitempty"`
	ChunkSize int             `json:"chunk_size,omitempty"`
	Model     *pipeline.Model `json:"model,omitempty"`
}

// RunAccepted is returned when a run enters the swarm.
type RunAccepted struct {
	RunID  string             `json:"run_id"`
	Status pipeline.RunStatus `json:"status"`
}

// TaskAccepted is returned when a background task starts.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
}
