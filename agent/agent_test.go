package agent_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loomwork/agent"
	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
	"github.com/loomwork/loomwork/reasoning"
	"github.com/loomwork/loomwork/retrypolicy"
	"github.com/loomwork/loomwork/tools"
)

// scriptedProvider returns one canned Response per call, in order, looping
// the last one if exhausted. It lets a test author a fixed conversation
// without a real provider SDK.
type scriptedProvider struct {
	responses []*model.Response
	errs      []error
	calls     int
}

func (p *scriptedProvider) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return p.responses[len(p.responses)-1], nil
}

func newTestClient(provider model.ProviderClient) *model.Client {
	router := model.NewRouter().Register(model.SelectorFastCheap, provider, "test-model")
	return model.NewClient(router, model.WithRetryConfig(retrypolicy.Config{MaxAttempts: 1}))
}

func TestExecuteSubstitutesTemplateAndReturnsText(t *testing.T) {
	provider := &scriptedProvider{responses: []*model.Response{{Text: "hello world"}}}
	client := newTestClient(provider)

	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	a := agent.New("a1", "greeter", cfg, "Say hi to {name}", client, nil)

	out, err := a.Execute(context.Background(), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	snap := a.Metrics()
	assert.Equal(t, 1, snap.Invocations)
	assert.Equal(t, 1, snap.Successes)
}

func TestExecuteMissingTemplateInputIsValidationError(t *testing.T) {
	client := newTestClient(&scriptedProvider{})
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	a := agent.New("a2", "greeter", cfg, "Say hi to {name}", client, nil)

	_, err := a.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestExecuteUnexpectedToolCallIsValidationError(t *testing.T) {
	provider := &scriptedProvider{responses: []*model.Response{{ToolCall: &model.ToolCall{Name: "search"}}}}
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	a := agent.New("a3", "simple", cfg, "do the thing", client, nil)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestExecuteRetriesTransientModelFailureAndRecordsMetrics(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{errs.New(errs.KindModelTransient, "test", "hiccup")},
		responses: []*model.Response{nil, {Text: "recovered"}},
	}
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0}
	a := agent.New("a4", "flaky", cfg, "go", client, nil)

	out, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	snap := a.Metrics()
	assert.Equal(t, 2, snap.Invocations)
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, 1, snap.Successes)
}

func TestExecuteAppliesReasoningPatternPreamble(t *testing.T) {
	var captured string
	provider := providerFunc(func(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
		for _, m := range req.Messages {
			if m.Role == model.RoleUser {
				captured = m.Text
			}
		}
		return &model.Response{Text: "done"}, nil
	})
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	cfg.ReasoningMode = reasoning.ChainOfThought
	a := agent.New("a5", "thinker", cfg, "solve the puzzle", client, nil)

	_, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, captured, "Think step by step")
	assert.Contains(t, captured, "solve the puzzle")
}

func TestExecuteToolLoopDispatchesAndReturnsFinalText(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Spec{
		Name:    "lookup",
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return map[string]any{"found": true}, nil },
	}))

	turn := 0
	provider := providerFunc(func(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
		turn++
		if turn == 1 {
			return &model.Response{ToolCall: &model.ToolCall{Name: "lookup", Arguments: map[string]any{"q": "x"}}}, nil
		}
		return &model.Response{Text: "final answer"}, nil
	})
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	cfg.Tools = []string{"lookup"}
	a := agent.New("a6", "researcher", cfg, "find it", client, registry)

	out, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", out)
}

func TestExecuteToolLoopCapExhaustionCarriesConversationSnapshot(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Spec{
		Name:    "loopy",
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return "still going", nil },
	}))

	provider := providerFunc(func(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
		return &model.Response{ToolCall: &model.ToolCall{Name: "loopy"}}, nil
	})
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	cfg.Tools = []string{"loopy"}
	cfg.MaxToolTurns = 2
	a := agent.New("a7", "stuck", cfg, "never finish", client, registry)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Contains(t, e.Message(), "tool loop did not terminate after 2")

	var snapshotStart int
	if idx := indexOf(e.Message(), "last conversation: "); idx >= 0 {
		snapshotStart = idx + len("last conversation: ")
	}
	require.Greater(t, snapshotStart, 0)
	var messages []map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.Message()[snapshotStart:]), &messages))
	assert.NotEmpty(t, messages)
}

func TestExecuteToolCallUnknownToolSurfacesToolNotFound(t *testing.T) {
	registry := tools.NewRegistry()
	provider := providerFunc(func(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
		return &model.Response{ToolCall: &model.ToolCall{Name: "ghost"}}, nil
	})
	client := newTestClient(provider)
	cfg := agent.DefaultConfig(model.SelectorFastCheap)
	cfg.Retry = retrypolicy.Config{MaxAttempts: 1}
	cfg.Tools = []string{"ghost"}
	a := agent.New("a8", "confused", cfg, "call a ghost tool", client, registry)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindToolNotFound, errs.KindOf(err))
}

type providerFunc func(ctx context.Context, modelID string, req *model.Request) (*model.Response, error)

func (f providerFunc) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	return f(ctx, modelID, req)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
