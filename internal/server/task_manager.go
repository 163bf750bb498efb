package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus defines the possible states of a task.
type TaskStatus string

const (
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a background simulation run started through the API.
type Task struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Status          TaskStatus `json:"status"`
	StepsDone       int        `json:"steps_done"`
	StepsTotal      int        `json:"steps_total"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Error           string     `json:"error,omitempty"`
	Result          any        `json:"result,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	mu              sync.RWMutex
}

// TaskManager tracks all running asynchronous tasks.
type TaskManager struct {
	tasks map[string]*Task
	mu    sync.RWMutex
}

// NewTaskManager creates a new task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
	}
}

// NewTask creates a new task, registers it, and returns it.
func (tm *TaskManager) NewTask(kind string, total int) *Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task := &Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Status:     TaskStatusStarted,
		StepsTotal: total,
		CreatedAt:  time.Now(),
	}
	tm.tasks[task.ID] = task
	return task
}

// GetTask safely retrieves a task by its ID.
func (tm *TaskManager) GetTask(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}

// --- Methods for updating a Task ---

// SetStatus updates the status of the task.
func (t *Task) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = status
}

// SetError marks the task as failed and records the error message.
func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = TaskStatusFailed
	t.Error = err.Error()
}

// SetProgress records how many steps have run.
func (t *Task) SetProgress(done int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StepsDone = done
	t.ProgressMessage = message
}

// Complete marks the task as completed with its result.
func (t *Task) Complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = TaskStatusCompleted
	t.Result = result
}

// Snapshot returns a copy safe to encode while the task keeps running.
func (t *Task) Snapshot() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Task{
		ID:              t.ID,
		Kind:            t.Kind,
		Status:          t.Status,
		StepsDone:       t.StepsDone,
		StepsTotal:      t.StepsTotal,
		ProgressMessage: t.ProgressMessage,
		Error:           t.Error,
		Result:          t.Result,
		CreatedAt:       t.CreatedAt,
	}
}
