package transport

import "time"

// DefaultEndpoint is the compute node address used when none is configured.
const DefaultEndpoint = "http://localhost:8080/task"

// Config configures the HTTP dispatcher.
type Config struct {
	// Endpoint is the URL fragments are POSTed to.
	Endpoint string `yaml:"endpoint"`
	// NodeID identifies this process when it acts as a compute node.
	NodeID string `yaml:"node_id"`
	// Timeout bounds a single HTTP call, on top of the caller's context.
	Timeout time.Duration `yaml:"timeout"`
	// Breaker configures the circuit breaker around the endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds the circuit breaker settings.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval after which closed-state counts are reset (0 = never).
	Interval time.Duration `yaml:"interval"`
	// Timeout spent open before trying half-open.
	Timeout time.Duration `yaml:"timeout"`
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64 `yaml:"failure_ratio"`
	MinRequests  uint32  `yaml:"min_requests"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		NodeID:   "node-local",
		Timeout:  5 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     30 * time.Second,
			Timeout:      10 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  5,
		},
	}
}
