package coreplane

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the engine.
type Config struct {
	// ThreadPoolSize is the number of worker goroutines in the bounded
	// pool that runs thread-mode job bodies.
	ThreadPoolSize int `yaml:"thread_pool_size"`

	// HealthCheckInterval is how long a replicated store reuses a cached
	// health probe result before re-checking.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// JobLogDir is the directory where jobs declared with logs write
	// their log files. Empty disables job log files.
	JobLogDir string `yaml:"job_log_dir"`

	// EventBufferSize is the per-subscriber notification channel depth.
	EventBufferSize int `yaml:"event_buffer_size"`

	// ShutdownTimeout is the maximum time to wait for running jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ProcessWorkerPath is the executable launched for process-mode jobs.
	// Empty disables process-mode execution.
	ProcessWorkerPath string `yaml:"process_worker_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ThreadPoolSize:      10,
		HealthCheckInterval: 30 * time.Second,
		EventBufferSize:     64,
		ShutdownTimeout:     30 * time.Second,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig. Fields absent
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("coreplane: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("coreplane: parse config %q: %w", path, err)
	}
	return cfg, nil
}
