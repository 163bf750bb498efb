package pipeline

import "time"

// Config tunes the processor.
type Config struct {
	// DefaultTornadoes are spawned when a run arrives on an empty swarm.
	DefaultTornadoes int `yaml:"default_tornadoes"`
	// PromptChunkSize is the number of words per prompt fragment.
	PromptChunkSize int `yaml:"prompt_chunk_size"`
	// DispatchTimeout bounds a single dispatch call.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	// PromptDeadline is the overall time budget of a run. Past it the run
	// expires and its results are never collected.
	PromptDeadline time.Duration `yaml:"prompt_deadline"`
	// DispatchConcurrency caps in-flight dispatch calls per step (0 = unbounded).
	DispatchConcurrency int `yaml:"dispatch_concurrency"`
	// Seed feeds fragment strengths.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTornadoes:    3,
		PromptChunkSize:     2,
		DispatchTimeout:     2 * time.Second,
		PromptDeadline:      30 * time.Second,
		DispatchConcurrency: 4,
		Seed:                1,
	}
}
