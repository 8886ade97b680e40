// Package loomwork is the root of the agentic-workflow orchestrator module.
// It exposes Config, which reads the environment table from spec.md §6, and
// re-exports nothing else — callers import the errs, telemetry, model,
// reasoning, tools, agent, and workflow packages directly.
package loomwork

import (
	"os"
	"strconv"
	"time"
)

// Config captures the environment options named in spec.md §6. All fields
// are optional except RemoteLogGroup, which is required when RemoteLogEnabled
// is true.
type Config struct {
	LogVerbosity           string
	RemoteLogEnabled       bool
	RemoteLogGroup         string
	ProviderRegion         string
	DefaultStepTimeout     time.Duration
	DefaultWorkflowTimeout time.Duration
	MaxModelRetries        int
}

// ConfigFromEnv reads Config from the process environment, applying the
// defaults spec.md leaves to the implementation.
func ConfigFromEnv() Config {
	return Config{
		LogVerbosity:           envOr("LOG_VERBOSITY", "info"),
		RemoteLogEnabled:       envBool("REMOTE_LOG_ENABLED", false),
		RemoteLogGroup:         os.Getenv("REMOTE_LOG_GROUP"),
		ProviderRegion:         envOr("PROVIDER_REGION", ""),
		DefaultStepTimeout:     envDuration("DEFAULT_STEP_TIMEOUT", 60*time.Second),
		DefaultWorkflowTimeout: envDuration("DEFAULT_WORKFLOW_TIMEOUT", 5*time.Minute),
		MaxModelRetries:        envInt("MAX_MODEL_RETRIES", 3),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
