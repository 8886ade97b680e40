package durable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/loomwork/loomwork/errs"
	wf "github.com/loomwork/loomwork/workflow"
)

// pendingStep tracks one dispatched-but-not-yet-awaited step activity.
type pendingStep struct {
	id     string
	future workflow.Future
}

// runState accumulates RunWorkflow's result as waves execute.
type runState struct {
	ctx        workflow.Context
	byID       map[string]StepSpec
	stepResult map[string]string
	results    map[string]any
	history    []wf.Event
	completed  int
	failed     int
	aborted    bool
	abortErr   error
}

func (s *runState) appendEvent(category wf.EventCategory, stepID string, payload any) {
	s.history = append(s.history, wf.Event{Timestamp: workflow.Now(s.ctx), Category: category, StepID: stepID, Payload: payload})
}

// await blocks for one pending step's activity result and records the
// outcome, returning true when the failure should abort remaining waves.
func (s *runState) await(p pendingStep) bool {
	var res StepActivityResult
	err := p.future.Get(s.ctx, &res)
	if err != nil {
		kind := classifyActivityError(err)
		s.failed++
		if !s.aborted {
			s.aborted = true
			s.abortErr = errs.New(kind, "durable.RunWorkflow", fmt.Sprintf("step %s failed: %v", p.id, err))
		}
		s.appendEvent(wf.EventStepFailure, p.id, kind)
		workflow.GetLogger(s.ctx).Error("step failed", "step", p.id, "error", err)
		return true
	}

	s.stepResult[p.id] = res.Output
	s.results[p.id] = res.Output
	s.completed++
	s.appendEvent(wf.EventStepSuccess, p.id, nil)
	return false
}

// RunWorkflow is the Temporal workflow function registered by New. It
// reimplements workflow.Workflow's wave-batching algorithm using Temporal's
// deterministic primitives: each step dispatches as an activity (so the
// underlying model call survives worker crashes and replays cleanly), and
// wave concurrency falls out of scheduling every step's activity before
// waiting on any of their futures.
func RunWorkflow(ctx workflow.Context, spec WorkflowSpec) (*wf.Result, error) {
	if err := validateSpec(spec); err != nil {
		return &wf.Result{WorkflowID: spec.ID, Status: wf.StatusFailed}, err
	}

	byID := make(map[string]StepSpec, len(spec.Steps))
	order := make([]string, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		byID[s.ID] = s
		order = append(order, s.ID)
	}

	s := &runState{
		ctx:        ctx,
		byID:       byID,
		stepResult: make(map[string]string, len(order)),
		results:    make(map[string]any, len(order)),
	}
	s.appendEvent(wf.EventWorkflowStart, "", spec.ID)

	for _, wave := range waves(byID, order) {
		if s.aborted {
			continue
		}

		var inflight []pendingStep
		for _, id := range wave {
			future := s.dispatch(spec, id)
			inflight = append(inflight, pendingStep{id: id, future: future})
			if !spec.ParallelismEnabled {
				s.await(inflight[0])
				inflight = nil
				if s.aborted {
					break
				}
			}
		}
		for _, p := range inflight {
			s.await(p)
		}
	}

	status := wf.StatusCompleted
	var finalErr error
	if s.aborted {
		status = wf.StatusFailed
		finalErr = s.abortErr
	}
	var endPayload any
	if finalErr != nil {
		endPayload = errs.KindOf(finalErr)
	}
	s.appendEvent(wf.EventWorkflowEnd, "", endPayload)

	return &wf.Result{
		WorkflowID: spec.ID,
		Status:     status,
		Results:    s.results,
		History:    s.history,
		Metrics: wf.MetricsBundle{
			TotalSteps:     len(order),
			CompletedSteps: s.completed,
			FailedSteps:    s.failed,
		},
	}, finalErr
}

// dispatch schedules one step's activity and returns its future without
// blocking, so a whole wave can be in flight before any result is awaited.
func (s *runState) dispatch(spec WorkflowSpec, id string) workflow.Future {
	step := s.byID[id]
	inputs := make(map[string]any, len(step.Inputs)+len(step.Dependencies))
	for k, v := range step.Inputs {
		inputs[k] = v
	}
	for _, dep := range step.Dependencies {
		inputs[dep+"_result"] = s.stepResult[dep]
	}

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = spec.DefaultStepTimeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: int32(spec.MaxStepRetries + 1),
		},
	}
	actCtx := workflow.WithActivityOptions(s.ctx, ao)
	s.appendEvent(wf.EventStepStart, id, nil)
	return workflow.ExecuteActivity(actCtx, "executeStepActivity", StepActivityRequest{AgentID: step.AgentID, Inputs: inputs})
}

// classifyActivityError recovers a usable errs.Kind from a Temporal activity
// failure. Temporal reports exhausted activity retries as an
// ApplicationError wrapping the activity's original error message; the kind
// prefix set by errs.Error.Error() is not reliably recoverable across that
// boundary, so a failed activity is conservatively classified as terminal
// model-transient (already-exhausted) rather than re-inspected for retry.
func classifyActivityError(err error) errs.Kind {
	var canceledErr *temporal.CanceledError
	if errors.As(err, &canceledErr) {
		return errs.KindCancelled
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return errs.KindStepTimeout
	}
	return errs.KindModelTransient
}

func validateSpec(spec WorkflowSpec) error {
	byID := make(map[string]StepSpec, len(spec.Steps))
	for _, st := range spec.Steps {
		byID[st.ID] = st
	}
	for _, st := range spec.Steps {
		for _, dep := range st.Dependencies {
			if _, ok := byID[dep]; !ok {
				return errs.New(errs.KindUnknownDependency, "durable.validateSpec", fmt.Sprintf("step %q depends on unknown step %q", st.ID, dep))
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(spec.Steps))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		deps := append([]string(nil), byID[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return errs.New(errs.KindCyclicGraph, "durable.validateSpec", fmt.Sprintf("cycle detected through step %q", dep))
			}
		}
		color[id] = black
		return nil
	}
	for _, st := range spec.Steps {
		if color[st.ID] == white {
			if err := visit(st.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// waves partitions steps into topological batches, mirroring
// workflow.Workflow.waves but operating over the serializable StepSpec form.
func waves(byID map[string]StepSpec, order []string) [][]string {
	remaining := make(map[string]bool, len(order))
	for _, id := range order {
		remaining[id] = true
	}
	var result [][]string
	for len(remaining) > 0 {
		var wave []string
		for _, id := range order {
			if !remaining[id] {
				continue
			}
			ready := true
			for _, dep := range byID[id].Dependencies {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}
		for _, id := range wave {
			delete(remaining, id)
		}
		result = append(result, wave)
	}
	return result
}

// executeStepActivity is the Temporal activity invoked once per step. It
// resolves the step's agent by ID and runs the ordinary in-process Agent
// algorithm — including the agent's own retry and the Model Client's retry —
// letting Temporal's activity retry layer stand in for the in-process
// scheduler's step-level retry.
func (e *Engine) executeStepActivity(ctx context.Context, req StepActivityRequest) (StepActivityResult, error) {
	a, ok := e.agentByID(req.AgentID)
	if !ok {
		return StepActivityResult{}, errs.New(errs.KindConfiguration, "durable.executeStepActivity", "agent not registered: "+req.AgentID)
	}
	out, err := a.Execute(ctx, req.Inputs)
	if err != nil {
		return StepActivityResult{}, err
	}
	return StepActivityResult{Output: out}, nil
}
