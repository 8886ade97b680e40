package telemetry

import (
	"sync"

	"github.com/loomwork/loomwork/errs"
	"github.com/redis/go-redis/v9"
)

// Bundle groups the three telemetry surfaces a component needs.
type Bundle struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Options configures the process-wide telemetry instance from the
// environment table in spec.md §6.
type Options struct {
	// Verbosity is one of "debug", "info", "warn", "error". Configure does not
	// apply it; ClueLogger takes its debug setting from the context.
	Verbosity string
	// RemoteEnabled mirrors the remote_log_enabled option.
	RemoteEnabled bool
	// RemoteGroup is the remote_log_group stream/consumer-group identifier.
	// Required when RemoteEnabled is true.
	RemoteGroup string
	// RedisClient backs the remote sink when RemoteEnabled is true.
	RedisClient *redis.Client
}

var (
	instanceMu sync.RWMutex
	instance   = Bundle{Logger: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
	configured bool
)

// Configure installs the process-wide telemetry instance. Each call replaces
// the previous instance; concurrent readers via Default always observe
// a fully-constructed Bundle. errs.KindConfiguration is returned if
// RemoteEnabled is set without a RemoteGroup, per spec.md §6.
func Configure(opts Options) error {
	if opts.RemoteEnabled && opts.RemoteGroup == "" {
		return errs.New(errs.KindConfiguration, "telemetry.Configure", "remote_log_group is required when remote_log_enabled is true")
	}

	logger := NewScopedLogger(NewClueLogger())
	if opts.RemoteEnabled && opts.RedisClient != nil {
		sink := NewRedisSink(opts.RedisClient, opts.RemoteGroup)
		logger = NewScopedLogger(NewSinkLogger(NewClueLogger(), sink))
	}

	b := Bundle{
		Logger:  logger,
		Metrics: NewClueMetrics(),
		Tracer:  NewClueTracer(),
	}

	instanceMu.Lock()
	instance = b
	configured = true
	instanceMu.Unlock()
	return nil
}

// Default returns the process-wide telemetry instance. Before Configure is
// called it returns a safe all-noop Bundle.
func Default() Bundle {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance
}

// Configured reports whether Configure has been called.
func Configured() bool {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return configured
}
