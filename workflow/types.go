// Package workflow implements the Workflow Scheduler (spec.md §3/§4.F): it
// holds the step graph, validates it, orders and dispatches step execution
// in topological wave batches, and accumulates results and history.
package workflow

import (
	"time"

	"github.com/loomwork/loomwork/agent"
	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/retrypolicy"
)

// Status is the Workflow state machine of spec.md §4.F: PENDING -> RUNNING ->
// COMPLETED | FAILED | CANCELLED. Transitions are monotonic after Execute
// begins.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus is the per-step state machine of spec.md §3/§4.F: pending ->
// running -> success | failed | skipped.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Policy is the Execution Policy of spec.md §3: whole-workflow timeout,
// maximum workflow-level retries, parallelism flag, and the step-level retry
// and deadline defaults it hands down to steps that don't override them.
type Policy struct {
	// Timeout bounds the entire Execute call (spec.md §4.F.4). Zero means no
	// workflow-level deadline.
	Timeout time.Duration
	// MaxWorkflowRetries is the number of additional whole-Execute retries on
	// a transient aggregate failure (spec.md §4.F.5). Default: 1.
	MaxWorkflowRetries int
	// ParallelismEnabled dispatches steps within a wave concurrently when true;
	// otherwise steps in a wave run serially in insertion order.
	ParallelismEnabled bool
	// MaxParallelSteps caps concurrent step executions within a wave
	// (spec.md §5). Zero means unbounded.
	MaxParallelSteps int
	// MaxStepRetries is the step-level retry budget, independent of and
	// stacked atop each agent's own retry budget (spec.md §4.F.3).
	MaxStepRetries int
	// DefaultStepTimeout bounds a step lacking its own Timeout override.
	DefaultStepTimeout time.Duration
	// LogVerbosity names the logger level for this workflow's execution.
	// Execute does not read it and emits no log records of its own.
	LogVerbosity string
}

// DefaultPolicy returns spec.md's stated defaults: parallelism on, one
// workflow-level retry, step retries matching retrypolicy.DefaultStepConfig's
// attempt count.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:            5 * time.Minute,
		MaxWorkflowRetries: 1,
		ParallelismEnabled: true,
		MaxParallelSteps:   8,
		MaxStepRetries:     retrypolicy.DefaultStepConfig().MaxAttempts - 1,
		DefaultStepTimeout: 60 * time.Second,
		LogVerbosity:       "info",
	}
}

// Step is one node of the workflow graph (spec.md §3).
type Step struct {
	ID           string
	Agent        *agent.Agent
	Inputs       map[string]any
	Dependencies []string
	// Timeout overrides Policy.DefaultStepTimeout when non-zero.
	Timeout time.Duration

	status   StepStatus
	attempts int
	result   any
	err      error
}

// Status returns the step's current state.
func (s *Step) Status() StepStatus { return s.status }

// Attempts returns the number of attempts made so far.
func (s *Step) Attempts() int { return s.attempts }

// Result returns the step's committed result, if any.
func (s *Step) Result() any { return s.result }

// Err returns the step's terminal error, if any.
func (s *Step) Err() error { return s.err }

// EventCategory is the closed set of Execution Event kinds (spec.md §3).
type EventCategory string

const (
	EventWorkflowStart EventCategory = "workflow_start"
	EventWorkflowEnd   EventCategory = "workflow_end"
	EventStepStart     EventCategory = "step_start"
	EventStepAttempt   EventCategory = "step_attempt"
	EventStepSuccess   EventCategory = "step_success"
	EventStepFailure   EventCategory = "step_failure"
	EventStepRetry     EventCategory = "step_retry"
	EventToolCall      EventCategory = "tool_call"
	EventToolResult    EventCategory = "tool_result"
)

// Event is one append-only history entry (spec.md §3).
type Event struct {
	Timestamp time.Time
	Category  EventCategory
	StepID    string
	Attempt   int
	Elapsed   time.Duration
	Payload   any
}

// MetricsBundle is the Metrics Bundle returned from Execute (spec.md §3).
type MetricsBundle struct {
	TotalSteps     int
	CompletedSteps int
	FailedSteps    int
	RetriedSteps   int
	TotalElapsed   time.Duration
	StepDurations  map[string]time.Duration
}

// Result is the result bundle of spec.md §6.
type Result struct {
	WorkflowID string
	Status     Status
	Results    map[string]any
	History    []Event
	Metrics    MetricsBundle
}

// FailureKind extracts the terminating error's Kind from r.History: the
// payload of the final workflow_end event, or of the last step_failure when
// no workflow_end was recorded. It returns "" if the workflow did not fail,
// and also for a Result rejected by validation, whose History is empty.
func (r *Result) FailureKind() errs.Kind {
	for i := len(r.History) - 1; i >= 0; i-- {
		switch r.History[i].Category {
		case EventWorkflowEnd:
			kind, _ := r.History[i].Payload.(errs.Kind)
			return kind
		case EventStepFailure:
			if kind, ok := r.History[i].Payload.(errs.Kind); ok {
				return kind
			}
		}
	}
	return ""
}
