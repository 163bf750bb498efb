package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wingbeat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigEmptyPathGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
swarm:
  merge_threshold: 0.9
  movement: anchored
pipeline:
  prompt_deadline: 5s
  default_tornadoes: 2
transport:
  endpoint: http://node:9000/task
  breaker:
    min_requests: 10
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Swarm.MergeThreshold != 0.9 || cfg.Swarm.Movement != "anchored" {
		t.Errorf("swarm = %+v", cfg.Swarm)
	}
	// Untouched fields keep their defaults.
	if cfg.Swarm.CompatibilityThreshold != 0.3 || cfg.Swarm.DefaultCapacity != 8 {
		t.Errorf("swarm defaults lost: %+v", cfg.Swarm)
	}
	if cfg.Pipeline.PromptDeadline != 5*time.Second || cfg.Pipeline.DefaultTornadoes != 2 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Transport.Endpoint != "http://node:9000/task" || cfg.Transport.Breaker.MinRequests != 10 {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.Breaker.FailureRatio != 0.6 {
		t.Errorf("breaker defaults lost: %+v", cfg.Transport.Breaker)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "swarm:\n  merge_treshold: 0.9\n", "YAML"},
		{"bad movement", "swarm:\n  movement: teleport\n", "invalid swarm config"},
		{"zero capacity", "swarm:\n  default_capacity: 0\n", "default_capacity"},
		{"negative deadline", "pipeline:\n  prompt_deadline: -1s\n", "prompt_deadline"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("empty file should give defaults: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("[SWARM] visible", "tornado", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"[SWARM] visible"`) || !strings.Contains(out, `"tornado":"abc"`) {
		t.Errorf("unexpected output %s", out)
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}
