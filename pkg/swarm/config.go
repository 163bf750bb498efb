package swarm

import "github.com/sanonone/wingbeat/pkg/core/subgraph"

// Config tunes the swarm dynamics. It is designed to be embedded in YAML
// configuration files.
type Config struct {
	// CompatibilityThreshold is the strength delta under which two subgraphs interact.
	CompatibilityThreshold float64 `yaml:"compatibility_threshold"`

	// MergeThreshold is the strength both subgraphs of a compatible pair must
	// exceed for the pair to merge instead of connecting.
	MergeThreshold float64 `yaml:"merge_threshold"`

	// SplitDecay multiplies the parent strength for every split child (1.0 = unchanged).
	SplitDecay float64 `yaml:"split_decay"`

	// DefaultCapacity is the held-set size of tornadoes spawned without an explicit capacity.
	DefaultCapacity int `yaml:"default_capacity"`

	// FinalizeAfter is the number of steps a subgraph must spend inside a
	// tornado before it becomes terminal. 0 disables age-based finalization.
	FinalizeAfter int `yaml:"finalize_after"`

	// ExpectedConnections makes a subgraph terminal as soon as it has at least
	// this many connections. 0 disables it.
	ExpectedConnections int `yaml:"expected_connections"`

	// Movement selects the movement policy: "random_walk", "drift" or "anchored".
	Movement string `yaml:"movement"`

	// WalkStep scales the random walk jitter (units per second of simulated time).
	WalkStep float64 `yaml:"walk_step"`

	// Seed feeds every random draw of the swarm (tornado shape, random walk).
	Seed int64 `yaml:"seed"`

	// ParallelMovement moves tornadoes concurrently inside a step.
	ParallelMovement bool `yaml:"parallel_movement"`
}

// DefaultConfig returns the reproducible defaults of the engine.
func DefaultConfig() Config {
	return Config{
		CompatibilityThreshold: subgraph.DefaultCompatibility,
		MergeThreshold:         0.8,
		SplitDecay:             1.0,
		DefaultCapacity:        8,
		FinalizeAfter:          3,
		ExpectedConnections:    0,
		Movement:               MovementRandomWalk,
		WalkStep:               1.0,
		Seed:                   1,
		ParallelMovement:       true,
	}
}

// Rules returns the interaction rules derived from the configuration.
func (c Config) Rules() Rules {
	return Rules{
		CompatibilityThreshold: c.CompatibilityThreshold,
		MergeThreshold:         c.MergeThreshold,
	}
}
