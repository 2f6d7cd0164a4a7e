// Package config loads daemon configuration from environment variables,
// applying the same sane-default style the teacher uses for its option
// structs and command flag defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of daemon-wide tunables, recognized per spec as
// environment variables.
type Config struct {
	PollInterval     time.Duration
	TaskTimeout      time.Duration
	IterationTimeout time.Duration
	ShutdownTimeout  time.Duration

	Workspace string
	DataDir   string
	Agent     string

	MaxIterations int
	MaxRetries    int
}

const (
	defaultPollIntervalMs     = 5000
	defaultTaskTimeoutMs      = 1800000
	defaultIterationTimeoutMs = 600000
	defaultShutdownTimeoutMs  = 60000
	defaultDataDir            = "./data"
	defaultMaxIterations      = 10
	defaultMaxRetries         = 3
)

// Load reads recognized environment variables, falling back to spec
// defaults for anything unset.
func Load() (Config, error) {
	cfg := Config{
		PollInterval:     defaultPollIntervalMs * time.Millisecond,
		TaskTimeout:      defaultTaskTimeoutMs * time.Millisecond,
		IterationTimeout: defaultIterationTimeoutMs * time.Millisecond,
		ShutdownTimeout:  defaultShutdownTimeoutMs * time.Millisecond,
		Workspace:        os.Getenv("WORKSPACE"),
		DataDir:          defaultDataDir,
		Agent:            os.Getenv("AGENT"),
		MaxIterations:    defaultMaxIterations,
		MaxRetries:       defaultMaxRetries,
	}

	var err error
	if cfg.PollInterval, err = durationMsEnv("POLL_INTERVAL_MS", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.TaskTimeout, err = durationMsEnv("TASK_TIMEOUT_MS", cfg.TaskTimeout); err != nil {
		return Config{}, err
	}
	if cfg.IterationTimeout, err = durationMsEnv("ITERATION_TIMEOUT_MS", cfg.IterationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationMsEnv("SHUTDOWN_TIMEOUT_MS", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if cfg.MaxIterations, err = intEnv("MAX_ITERATIONS", cfg.MaxIterations); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func durationMsEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", name, v, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", name, v, err)
	}
	return n, nil
}
