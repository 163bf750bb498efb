// Package config loads the wingbeat configuration file and sets up logging.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
	"github.com/sanonone/wingbeat/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Swarm     swarm.Config     `yaml:"swarm"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Transport transport.Config `yaml:"transport"`
	Server    ServerConfig     `yaml:"server"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ServeNode mounts the compute node endpoint (POST /task) on the API.
	ServeNode bool `yaml:"serve_node"`
}

// DefaultConfig returns a configuration that runs a self-contained node on
// localhost: the dispatcher targets the /task endpoint of the same process.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Swarm:     swarm.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ShutdownTimeout: 5 * time.Second,
			ServeNode:       true,
		},
	}
}

// LoadConfig reads the YAML configuration file using strict parsing.
// Fields missing from the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig() // Start with defaults

	if path == "" {
		return cfg, nil
	}

	// 1. Open File
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	// 2. Setup Strict Decoder
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// 3. Decode
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}

	// 4. Validate
	if _, err := swarm.PolicyFor(cfg.Swarm); err != nil {
		return cfg, fmt.Errorf("invalid swarm config: %w", err)
	}
	if cfg.Swarm.DefaultCapacity < 1 {
		return cfg, fmt.Errorf("invalid swarm config: default_capacity must be >= 1, got %d", cfg.Swarm.DefaultCapacity)
	}
	if cfg.Pipeline.PromptDeadline <= 0 {
		return cfg, fmt.Errorf("invalid pipeline config: prompt_deadline must be positive")
	}

	return cfg, nil
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds a logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetupLogger installs a logger on stderr as the slog default and returns it.
func SetupLogger(cfg LogConfig) *slog.Logger {
	logger := NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}
