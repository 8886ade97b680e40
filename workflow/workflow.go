package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/telemetry"
)

// Workflow is the root object of spec.md §3: a named, mutable step graph plus
// the policy governing its execution. A Workflow is built with New and
// AddStep calls before Execute runs; it is not safe to mutate the graph
// concurrently with Execute.
type Workflow struct {
	ID     string
	Name   string
	Policy Policy

	mu    sync.RWMutex
	steps map[string]*Step
	order []string // insertion order, used for deterministic wave and sequential dispatch

	tel telemetry.Bundle
}

// New constructs an empty Workflow with the given policy. An empty id is
// replaced with a generated one so every execution still has a usable
// workflow_id for history and metrics, mirroring the teacher runtime's
// agent-run-ID generation.
func New(id, name string, policy Policy) *Workflow {
	if id == "" {
		id = uuid.NewString()
	}
	return &Workflow{
		ID:     id,
		Name:   name,
		Policy: policy,
		steps:  make(map[string]*Step),
		tel:    telemetry.Default(),
	}
}

// WithTelemetry overrides the telemetry bundle used during Execute.
func (w *Workflow) WithTelemetry(tel telemetry.Bundle) *Workflow {
	w.tel = tel
	return w
}

// AddStep registers a step. Duplicate IDs and steps with a nil Agent are
// rejected as errs.KindValidation; dependency and cycle validity is checked
// lazily, at Execute time, since dependencies may legitimately be added out
// of order (spec.md §4.F.1).
func (w *Workflow) AddStep(step *Step) error {
	if step.ID == "" {
		return errs.New(errs.KindValidation, "workflow.AddStep", "step id is required")
	}
	if step.Agent == nil {
		return errs.New(errs.KindValidation, "workflow.AddStep", "step "+step.ID+" has no agent")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.steps[step.ID]; dup {
		return errs.New(errs.KindValidation, "workflow.AddStep", "duplicate step id: "+step.ID)
	}
	step.status = StepPending
	w.steps[step.ID] = step
	w.order = append(w.order, step.ID)
	return nil
}

// Step returns the named step, if any.
func (w *Workflow) Step(id string) (*Step, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.steps[id]
	return s, ok
}

// stepTimeout resolves the effective per-step deadline: the step's own
// override if set, else the policy default. A zero policy default is
// honored as a zero deadline (spec.md §8: "a step deadline of 0 fails with
// step_timeout without invoking the model"), not silently replaced.
func (w *Workflow) stepTimeout(s *Step) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return w.Policy.DefaultStepTimeout
}
