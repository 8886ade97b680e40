package durable

import (
	"context"
	"sync"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/loomwork/loomwork/agent"
	"github.com/loomwork/loomwork/errs"
)

// Options configures the durable Engine. Either Client or ClientOptions must
// be set; TaskQueue is required.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, New dials one using
	// ClientOptions.
	Client client.Client
	// ClientOptions constructs a client when Client is nil.
	ClientOptions client.Options
	// TaskQueue names the single task queue this engine's worker polls.
	TaskQueue string
	// WorkerOptions is forwarded to worker.New.
	WorkerOptions worker.Options
}

// Engine runs WorkflowSpec graphs on Temporal. It owns a worker registered
// with the RunWorkflow workflow function and the executeStepActivity
// activity, and an agent registry resolving StepSpec.AgentID during
// activity execution.
type Engine struct {
	client      client.Client
	closeClient bool
	worker      worker.Worker
	taskQueue   string

	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

// New constructs an Engine, dialing a Temporal client if Options.Client is
// nil, and registers RunWorkflow and executeStepActivity on a worker bound
// to Options.TaskQueue. Call Run (in a goroutine) to start polling, and
// Close to release resources.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, errs.New(errs.KindConfiguration, "durable.New", "task queue is required")
	}

	c := opts.Client
	closeClient := false
	if c == nil {
		dialed, err := client.Dial(opts.ClientOptions)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "durable.New", "dial temporal client", err)
		}
		c = dialed
		closeClient = true
	}

	e := &Engine{
		client:      c,
		closeClient: closeClient,
		taskQueue:   opts.TaskQueue,
		agents:      make(map[string]*agent.Agent),
	}

	w := worker.New(c, opts.TaskQueue, opts.WorkerOptions)
	w.RegisterWorkflow(RunWorkflow)
	w.RegisterActivity(e.executeStepActivity)
	e.worker = w

	return e, nil
}

// RegisterAgent makes an Agent resolvable by ID from within the
// executeStepActivity. It must be called, for every agent referenced by a
// StepSpec.AgentID, before that workflow's activities run.
func (e *Engine) RegisterAgent(id string, a *agent.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[id] = a
}

func (e *Engine) agentByID(id string) (*agent.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	return a, ok
}

// Run starts the worker and blocks polling the task queue until ctx is
// cancelled or an unrecoverable worker error occurs.
func (e *Engine) Run(ctx context.Context) error {
	stop := make(chan interface{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-done:
		}
	}()
	return e.worker.Run(stop)
}

// Start submits a WorkflowSpec for durable execution and returns a handle to
// its Temporal run without waiting for completion.
func (e *Engine) Start(ctx context.Context, spec WorkflowSpec) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        spec.ID,
		TaskQueue: e.taskQueue,
	}
	return e.client.ExecuteWorkflow(ctx, opts, RunWorkflow, spec)
}

// Close releases the worker and, if New dialed it, the Temporal client.
func (e *Engine) Close() {
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}
