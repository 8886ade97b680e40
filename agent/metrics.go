package agent

import (
	"sync"

	"github.com/loomwork/loomwork/errs"
)

// Metrics tracks an Agent's running invocation counters (spec.md §3). An
// Agent instance is re-entrant, so Metrics mutates under a mutex (spec.md §5:
// "Agent metrics counters mutate under a per-agent mutex").
type Metrics struct {
	mu            sync.Mutex
	invocations   int
	successes     int
	failures      int
	lastErrorKind errs.Kind
}

// Snapshot is an immutable copy of Metrics safe to hand to callers.
type Snapshot struct {
	Invocations   int
	Successes     int
	Failures      int
	LastErrorKind errs.Kind
}

func (m *Metrics) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations++
	m.successes++
}

func (m *Metrics) recordFailure(kind errs.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations++
	m.failures++
	m.lastErrorKind = kind
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Invocations:   m.invocations,
		Successes:     m.successes,
		Failures:      m.failures,
		LastErrorKind: m.lastErrorKind,
	}
}
