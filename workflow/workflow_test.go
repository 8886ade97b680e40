package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loomwork/agent"
	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
	"github.com/loomwork/loomwork/retrypolicy"
	"github.com/loomwork/loomwork/workflow"
)

// cannedProvider returns resp/err on every call, ignoring the request. It
// lets a test script a deterministic step outcome without a real provider.
type cannedProvider struct {
	resp      *model.Response
	err       error
	invokeCnt int
}

func (p *cannedProvider) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	p.invokeCnt++
	return p.resp, p.err
}

func (p *cannedProvider) calls() int { return p.invokeCnt }

// sequenceProvider returns errs[i] then resps[i] in order, by call count,
// looping the last entry once exhausted.
type sequenceProvider struct {
	resps []*model.Response
	errs  []error
	calls int
}

func (p *sequenceProvider) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.resps) {
		return p.resps[i], nil
	}
	return p.resps[len(p.resps)-1], nil
}

// sleepingProvider blocks until ctx is done or delay elapses, whichever is
// first, surfacing ctx.Err() on cancellation.
type sleepingProvider struct {
	delay time.Duration
}

func (p *sleepingProvider) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	select {
	case <-time.After(p.delay):
		return &model.Response{Text: "too slow"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func textAgent(id string, provider model.ProviderClient, template string) *agent.Agent {
	router := model.NewRouter().Register(model.SelectorFastCheap, provider, "test-model")
	client := model.NewClient(router, model.WithRetryConfig(retrypolicy.Config{MaxAttempts: 1}))
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	return agent.New(id, id, cfg, template, client, nil)
}

func mustAddStep(t *testing.T, w *workflow.Workflow, step *workflow.Step) {
	t.Helper()
	require.NoError(t, w.AddStep(step))
}

// 1. Sequential success (spec.md §8 scenario 1).
func TestExecuteSequentialSuccess(t *testing.T) {
	w := workflow.New("wf1", "sequential", workflow.Policy{DefaultStepTimeout: time.Second})

	mustAddStep(t, w, &workflow.Step{
		ID:    "a",
		Agent: textAgent("a", &cannedProvider{resp: &model.Response{Text: "1"}}, "Return the integer 1"),
	})
	mustAddStep(t, w, &workflow.Step{
		ID:           "b",
		Agent:        textAgent("b", &cannedProvider{resp: &model.Response{Text: "2"}}, "Return {a_result} + 1 as integer"),
		Dependencies: []string{"a"},
	})

	result, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, result.Results)
	assert.Equal(t, 2, result.Metrics.TotalSteps)
	assert.Equal(t, 0, result.Metrics.RetriedSteps)
}

// 2. Parallel fan-in (spec.md §8 scenario 2).
func TestExecuteParallelFanIn(t *testing.T) {
	w := workflow.New("wf2", "fan-in", workflow.Policy{
		DefaultStepTimeout: time.Second,
		ParallelismEnabled: true,
		MaxParallelSteps:   4,
	})

	mustAddStep(t, w, &workflow.Step{ID: "x", Agent: textAgent("x", &cannedProvider{resp: &model.Response{Text: "X"}}, "produce x")})
	mustAddStep(t, w, &workflow.Step{ID: "y", Agent: textAgent("y", &cannedProvider{resp: &model.Response{Text: "Y"}}, "produce y")})
	mustAddStep(t, w, &workflow.Step{
		ID:           "z",
		Agent:        textAgent("z", &cannedProvider{resp: &model.Response{Text: "XY"}}, "combine {x_result} and {y_result}"),
		Dependencies: []string{"x", "y"},
	})

	result, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"x": "X", "y": "Y", "z": "XY"}, result.Results)

	var xStart, yStart, zStart = -1, -1, -1
	var xSuccess, ySuccess = -1, -1
	for i, e := range result.History {
		switch {
		case e.StepID == "x" && e.Category == workflow.EventStepStart:
			xStart = i
		case e.StepID == "y" && e.Category == workflow.EventStepStart:
			yStart = i
		case e.StepID == "z" && e.Category == workflow.EventStepStart:
			zStart = i
		case e.StepID == "x" && e.Category == workflow.EventStepSuccess:
			xSuccess = i
		case e.StepID == "y" && e.Category == workflow.EventStepSuccess:
			ySuccess = i
		}
	}
	require.NotEqual(t, -1, xStart)
	require.NotEqual(t, -1, yStart)
	require.NotEqual(t, -1, zStart)
	// z only dispatches once the whole wave containing x and y has finished,
	// so both predecessors' starts and successes must precede z's start.
	assert.Less(t, xStart, zStart)
	assert.Less(t, yStart, zStart)
	assert.Less(t, xSuccess, zStart)
	assert.Less(t, ySuccess, zStart)
}

// 3. Transient retry (spec.md §8 scenario 3).
func TestExecuteTransientRetryRecordsRetriedStep(t *testing.T) {
	provider := &sequenceProvider{
		errs: []error{
			errs.New(errs.KindModelTransient, "test", "hiccup 1"),
			errs.New(errs.KindModelTransient, "test", "hiccup 2"),
		},
		resps: []*model.Response{nil, nil, {Text: "ok"}},
	}

	// DefaultStepTimeout must outlast the step-level retry backoff (base 1s,
	// doubling), not just the calls themselves.
	w := workflow.New("wf3", "retry", workflow.Policy{
		DefaultStepTimeout: 10 * time.Second,
		MaxStepRetries:     2,
	})
	mustAddStep(t, w, &workflow.Step{ID: "s", Agent: textAgent("s", provider, "go")})

	result, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"s": "ok"}, result.Results)
	assert.Equal(t, 1, result.Metrics.RetriedSteps)

	step, ok := w.Step("s")
	require.True(t, ok)
	assert.Equal(t, 3, step.Attempts())
}

// 4. Terminal failure aborts downstream (spec.md §8 scenario 4). Steps are
// added in order r, p, q so a sequential wave dispatch runs r to completion
// before p's fatal failure aborts the workflow, matching the scenario's
// "if r runs in the same wave as p, it completes".
func TestExecuteTerminalFailureAbortsDownstream(t *testing.T) {
	w := workflow.New("wf4", "abort", workflow.Policy{DefaultStepTimeout: time.Second})

	mustAddStep(t, w, &workflow.Step{ID: "r", Agent: textAgent("r", &cannedProvider{resp: &model.Response{Text: "R"}}, "independent")})
	mustAddStep(t, w, &workflow.Step{
		ID:    "p",
		Agent: textAgent("p", &cannedProvider{err: errs.New(errs.KindModelFatal, "test", "bad credentials")}, "fails"),
	})
	mustAddStep(t, w, &workflow.Step{ID: "q", Agent: textAgent("q", &cannedProvider{resp: &model.Response{Text: "Q"}}, "depends on p"), Dependencies: []string{"p"}})

	result, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindModelFatal, errs.KindOf(err))
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, "R", result.Results["r"])
	assert.NotContains(t, result.Results, "q")

	qStep, ok := w.Step("q")
	require.True(t, ok)
	assert.Equal(t, workflow.StepSkipped, qStep.Status())

	var lastFailure *workflow.Event
	for i := range result.History {
		if result.History[i].Category == workflow.EventStepFailure {
			lastFailure = &result.History[i]
		}
	}
	require.NotNil(t, lastFailure)
	assert.Equal(t, "p", lastFailure.StepID)
}

// 5. Cycle rejection (spec.md §8 scenario 5).
func TestExecuteCyclicGraphRejectedSynchronously(t *testing.T) {
	w := workflow.New("wf5", "cycle", workflow.DefaultPolicy())
	mustAddStep(t, w, &workflow.Step{ID: "a", Agent: textAgent("a", &cannedProvider{}, "a"), Dependencies: []string{"b"}})
	mustAddStep(t, w, &workflow.Step{ID: "b", Agent: textAgent("b", &cannedProvider{}, "b"), Dependencies: []string{"a"}})

	result, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindCyclicGraph, errs.KindOf(err))
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Empty(t, result.History)

	// Idempotent validation: re-running Execute yields the same verdict.
	result2, err2 := w.Execute(context.Background())
	require.Error(t, err2)
	assert.Equal(t, errs.KindOf(err), errs.KindOf(err2))
	assert.Equal(t, result.Status, result2.Status)
}

// 6. Workflow timeout (spec.md §8 scenario 6).
func TestExecuteWorkflowTimeout(t *testing.T) {
	w := workflow.New("wf6", "timeout", workflow.Policy{
		Timeout:            50 * time.Millisecond,
		DefaultStepTimeout: time.Second,
	})
	mustAddStep(t, w, &workflow.Step{ID: "slow", Agent: textAgent("slow", &sleepingProvider{delay: 2 * time.Second}, "take a while")})

	result, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindWorkflowTimeout, errs.KindOf(err))
	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Empty(t, result.Results)

	var sawStart, sawEnd bool
	var endPayload any
	for _, e := range result.History {
		if e.Category == workflow.EventWorkflowStart {
			sawStart = true
		}
		if e.Category == workflow.EventWorkflowEnd {
			sawEnd = true
			endPayload = e.Payload
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawEnd)
	assert.Equal(t, errs.KindWorkflowTimeout, endPayload)
}

// Boundary: a workflow with no steps completes immediately with empty results.
func TestExecuteZeroStepWorkflowCompletesImmediately(t *testing.T) {
	w := workflow.New("wf7", "empty", workflow.DefaultPolicy())
	result, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Metrics.TotalSteps)
}

// Boundary: a step depending on itself is a cycle.
func TestExecuteSelfDependencyIsCyclicGraph(t *testing.T) {
	w := workflow.New("wf8", "self-cycle", workflow.DefaultPolicy())
	mustAddStep(t, w, &workflow.Step{ID: "a", Agent: textAgent("a", &cannedProvider{}, "a"), Dependencies: []string{"a"}})

	_, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindCyclicGraph, errs.KindOf(err))
}

// Boundary: a zero step deadline fails with step_timeout without invoking the model.
func TestExecuteZeroDeadlineStepFailsWithoutInvokingModel(t *testing.T) {
	provider := &cannedProvider{resp: &model.Response{Text: "should never be seen"}}
	w := workflow.New("wf9", "zero-deadline", workflow.Policy{DefaultStepTimeout: 0})
	mustAddStep(t, w, &workflow.Step{ID: "s", Agent: textAgent("s", provider, "go")})

	result, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindStepTimeout, errs.KindOf(err))
	assert.Equal(t, workflow.StatusFailed, result.Status)

	step, ok := w.Step("s")
	require.True(t, ok)
	assert.Equal(t, workflow.StepFailed, step.Status())
	assert.Equal(t, 0, provider.calls())
}

// Invariant: results are bitwise-equal regardless of ParallelismEnabled, for
// a deterministic agent set.
func TestExecuteParallelismDoesNotChangeResults(t *testing.T) {
	build := func(parallel bool) *workflow.Result {
		w := workflow.New("wfp", "parallelism", workflow.Policy{
			DefaultStepTimeout: time.Second,
			ParallelismEnabled: parallel,
			MaxParallelSteps:   4,
		})
		mustAddStep(t, w, &workflow.Step{ID: "x", Agent: textAgent("x", &cannedProvider{resp: &model.Response{Text: "X"}}, "x")})
		mustAddStep(t, w, &workflow.Step{ID: "y", Agent: textAgent("y", &cannedProvider{resp: &model.Response{Text: "Y"}}, "y")})
		mustAddStep(t, w, &workflow.Step{ID: "z", Agent: textAgent("z", &cannedProvider{resp: &model.Response{Text: "XY"}}, "z"), Dependencies: []string{"x", "y"}})
		result, err := w.Execute(context.Background())
		require.NoError(t, err)
		return result
	}

	seq := build(false)
	par := build(true)
	assert.Equal(t, seq.Status, par.Status)
	assert.Equal(t, seq.Results, par.Results)
	assert.Equal(t, seq.Metrics.CompletedSteps, par.Metrics.CompletedSteps)
}

// Invariant: every step's terminal status is one of success, failed, or
// skipped, and attempt_count never exceeds 1 + MaxStepRetries.
func TestExecuteRetryAccountingInvariant(t *testing.T) {
	w := workflow.New("wf10", "accounting", workflow.Policy{
		DefaultStepTimeout: 10 * time.Second,
		MaxStepRetries:     2,
	})
	always := &cannedProvider{err: errs.New(errs.KindModelTransient, "test", "always busy")}
	mustAddStep(t, w, &workflow.Step{ID: "s", Agent: textAgent("s", always, "go")})

	result, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, result.Status)

	step, ok := w.Step("s")
	require.True(t, ok)
	assert.Equal(t, 1+w.Policy.MaxStepRetries, step.Attempts())
	assert.LessOrEqual(t, step.Attempts(), 1+w.Policy.MaxStepRetries)

	var retryEvents, failureEvents int
	for _, e := range result.History {
		switch e.Category {
		case workflow.EventStepRetry:
			retryEvents++
		case workflow.EventStepFailure:
			failureEvents++
		}
	}
	assert.Equal(t, w.Policy.MaxStepRetries, retryEvents)
	assert.Equal(t, 1, failureEvents)
}
