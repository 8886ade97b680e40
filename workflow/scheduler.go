package workflow

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/retrypolicy"
)

// Execute runs the spec.md §4.F algorithm: validate, batch into topological
// waves, dispatch each wave (concurrently when Policy.ParallelismEnabled),
// retry transient step failures, and assemble the result bundle. The
// returned error, when non-nil, is also reflected in Result.Status and is
// always an *errs.Error carrying one of the closed error kinds.
func (w *Workflow) Execute(ctx context.Context) (*Result, error) {
	ctx, span := w.tel.Tracer.Start(ctx, "workflow.execute", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := w.validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow validation failed")
		return &Result{
			WorkflowID: w.ID,
			Status:     StatusFailed,
			Results:    map[string]any{},
			Metrics:    MetricsBundle{TotalSteps: len(w.order), StepDurations: map[string]time.Duration{}},
		}, err
	}

	if w.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Policy.Timeout)
		defer cancel()
	}

	h := &history{}
	start := time.Now()

	cfg := retrypolicy.DefaultWorkflowConfig()
	cfg.MaxAttempts = w.Policy.MaxWorkflowRetries + 1
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var out runOutcome
	retryResult := retrypolicy.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		h.append(EventWorkflowStart, "", attempt, 0, w.ID)
		out = w.runOnce(ctx, h)
		return out.err
	})

	elapsed := time.Since(start)
	finalErr := retryResult.Err

	status := out.status
	if finalErr != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			status = StatusFailed
			finalErr = errs.New(errs.KindWorkflowTimeout, "workflow.Execute", "workflow exceeded its configured timeout")
		case ctx.Err() == context.Canceled:
			status = StatusCancelled
			finalErr = errs.New(errs.KindCancelled, "workflow.Execute", "workflow execution was cancelled")
		}
	}
	var endPayload any
	if finalErr != nil {
		endPayload = errs.KindOf(finalErr)
	}
	h.append(EventWorkflowEnd, "", retryResult.Attempts, elapsed, endPayload)

	result := &Result{
		WorkflowID: w.ID,
		Status:     status,
		Results:    out.results,
		History:    h.snapshot(),
		Metrics: MetricsBundle{
			TotalSteps:     len(w.order),
			CompletedSteps: out.completed,
			FailedSteps:    out.failed,
			RetriedSteps:   out.retried,
			TotalElapsed:   elapsed,
			StepDurations:  out.durations,
		},
	}
	if finalErr == nil {
		span.SetStatus(codes.Ok, "ok")
		return result, nil
	}
	span.RecordError(finalErr)
	span.SetStatus(codes.Error, "workflow execute failed")
	return result, finalErr
}

// runOutcome is the accumulated state of a single execute attempt (spec.md
// §4.F.5 retries the whole of runOnce, not just the failing step).
type runOutcome struct {
	status    Status
	results   map[string]any
	completed int
	failed    int
	retried   int
	durations map[string]time.Duration
	err       error
}

func (w *Workflow) runOnce(ctx context.Context, h *history) runOutcome {
	w.mu.RLock()
	stepCount := len(w.order)
	w.mu.RUnlock()

	out := runOutcome{
		status:    StatusCompleted,
		results:   make(map[string]any, stepCount),
		durations: make(map[string]time.Duration, stepCount),
	}

	if stepCount == 0 {
		return out
	}

	for _, s := range w.order {
		step, _ := w.Step(s)
		step.status = StepPending
		step.attempts = 0
		step.result = nil
		step.err = nil
	}

	var (
		resultsMu sync.Mutex
		aborted   bool
		abortErr  error
	)

	isAborted := func() bool {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		return aborted
	}

	markSkipped := func(ids []string) {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		for _, id := range ids {
			step, _ := w.Step(id)
			if step.status == StepPending {
				step.status = StepSkipped
			}
		}
	}

	runStep := func(id string) {
		step, _ := w.Step(id)
		step.status = StepRunning
		h.append(EventStepStart, id, 0, 0, nil)

		inputs := make(map[string]any, len(step.Inputs)+len(step.Dependencies))
		for k, v := range step.Inputs {
			inputs[k] = v
		}
		for _, dep := range step.Dependencies {
			depStep, _ := w.Step(dep)
			inputs[dep+"_result"] = depStep.result
		}

		deadline := w.stepTimeout(step)
		stepStart := time.Now()

		var stepErr error
		if deadline <= 0 {
			stepErr = errs.New(errs.KindStepTimeout, "workflow.runStep", "step "+id+" has a zero deadline")
			step.attempts = 1
		} else {
			stepCtx, cancel := context.WithTimeout(ctx, deadline)
			cfg := retrypolicy.DefaultStepConfig()
			cfg.MaxAttempts = w.Policy.MaxStepRetries + 1
			if cfg.MaxAttempts < 1 {
				cfg.MaxAttempts = 1
			}

			retryResult := retrypolicy.Do(stepCtx, cfg, func(ctx context.Context, attempt int) error {
				step.attempts = attempt
				h.append(EventStepAttempt, id, attempt, 0, nil)
				res, err := step.Agent.Execute(ctx, inputs)
				if err != nil {
					if errs.IsTransient(errs.KindOf(err)) && attempt < cfg.MaxAttempts {
						h.append(EventStepRetry, id, attempt, 0, errs.KindOf(err))
					}
					return err
				}
				step.result = res
				return nil
			})
			cancel()
			stepErr = retryResult.Err
			if stepErr != nil && stepCtx.Err() == context.DeadlineExceeded {
				stepErr = errs.New(errs.KindStepTimeout, "workflow.runStep", "step "+id+" exceeded its deadline")
			} else if stepErr != nil && ctx.Err() == context.Canceled {
				stepErr = errs.New(errs.KindCancelled, "workflow.runStep", "step "+id+" cancelled")
			}
		}

		elapsed := time.Since(stepStart)

		resultsMu.Lock()
		out.durations[id] = elapsed
		if stepErr != nil {
			step.status = StepFailed
			step.err = stepErr
			out.failed++
			if !aborted {
				aborted = true
				abortErr = stepErr
			}
			h.append(EventStepFailure, id, step.attempts, elapsed, errs.KindOf(stepErr))
		} else {
			step.status = StepSuccess
			out.results[id] = step.result
			out.completed++
			if step.attempts > 1 {
				out.retried++
			}
			h.append(EventStepSuccess, id, step.attempts, elapsed, nil)
		}
		resultsMu.Unlock()
	}

	for _, wave := range w.waves() {
		if isAborted() || ctx.Err() != nil {
			markSkipped(wave)
			continue
		}

		if w.Policy.ParallelismEnabled && len(wave) > 1 {
			limit := w.Policy.MaxParallelSteps
			if limit <= 0 {
				limit = len(wave)
			}
			sem := make(chan struct{}, limit)
			var wg sync.WaitGroup
			for _, id := range wave {
				id := id
				if isAborted() || ctx.Err() != nil {
					markSkipped([]string{id})
					continue
				}
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					runStep(id)
				}()
			}
			wg.Wait()
		} else {
			for _, id := range wave {
				if isAborted() || ctx.Err() != nil {
					markSkipped([]string{id})
					continue
				}
				runStep(id)
			}
		}
	}

	if isAborted() {
		out.status = StatusFailed
		out.err = abortErr
	} else if ctx.Err() == context.DeadlineExceeded {
		out.status = StatusFailed
		out.err = errs.New(errs.KindWorkflowTimeout, "workflow.runOnce", "workflow exceeded its configured timeout")
	} else if ctx.Err() == context.Canceled {
		out.status = StatusCancelled
		out.err = errs.New(errs.KindCancelled, "workflow.runOnce", "workflow execution was cancelled")
	}

	return out
}
