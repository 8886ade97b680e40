// Package agent implements the stateful execution unit of spec.md §3/§4.E:
// it formats a prompt, invokes the Model Client, optionally dispatches tool
// calls, and returns a typed result, tracking per-agent metrics.
//
// The source's SimpleAgent -> ToolAgent -> ReasoningAgent class hierarchy
// collapses here to a single Agent type whose Execute dispatches by the
// presence of Config.Tools and Config.ReasoningMode, per spec.md §9.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
	"github.com/loomwork/loomwork/reasoning"
	"github.com/loomwork/loomwork/retrypolicy"
	"github.com/loomwork/loomwork/telemetry"
	"github.com/loomwork/loomwork/tools"
)

// Agent is a named, reusable unit bound to a prompt template, a model
// client, and optionally a tool registry (spec.md §3).
type Agent struct {
	ID       string
	Name     string
	Config   Config
	Template string

	client   *model.Client
	registry *tools.Registry
	tel      telemetry.Bundle
	metrics  Metrics
}

// New constructs an Agent. registry may be nil when Config.Tools is empty.
func New(id, name string, cfg Config, template string, client *model.Client, registry *tools.Registry) *Agent {
	return &Agent{
		ID:       id,
		Name:     name,
		Config:   cfg,
		Template: template,
		client:   client,
		registry: registry,
		tel:      telemetry.Default(),
	}
}

// WithTelemetry overrides the telemetry bundle used by this Agent.
func (a *Agent) WithTelemetry(tel telemetry.Bundle) *Agent {
	a.tel = tel
	return a
}

// Metrics returns a snapshot of this Agent's running metrics.
func (a *Agent) Metrics() Snapshot { return a.metrics.Snapshot() }

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// substitute replaces {name} placeholders in template from inputs. A
// placeholder naming a key absent from inputs is errs.KindValidation
// (spec.md §4.E step 1).
func substitute(template string, inputs map[string]any) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := inputs[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return stringifyInput(v)
	})
	if len(missing) > 0 {
		return "", errs.New(errs.KindValidation, "agent.substitute", fmt.Sprintf("missing template input(s): %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

func stringifyInput(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

// Execute is the Agent's public contract (spec.md §4.E): inputs is a map of
// named values (strings, numbers, or prior-step results). Execute is wrapped
// in the agent-level exponential-backoff retry; only transient error kinds
// retry. Metrics are updated on every attempt.
func (a *Agent) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	ctx = telemetry.WithFields(ctx, "agent_id", a.ID, "agent_name", a.Name)
	ctx, span := a.tel.Tracer.Start(ctx, "agent.execute", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var result string
	retryResult := retrypolicy.Do(ctx, a.Config.Retry, func(ctx context.Context, attempt int) error {
		ctx = telemetry.WithFields(ctx, "attempt", attempt)
		a.tel.Logger.Debug(ctx, "agent execute attempt")

		out, err := a.executeOnce(ctx, inputs)
		if err != nil {
			kind := errs.KindOf(err)
			a.metrics.recordFailure(kind)
			a.tel.Logger.Warn(ctx, "agent execute attempt failed", "error_kind", string(kind), "error", err.Error())
			return err
		}
		a.metrics.recordSuccess()
		result = out
		return nil
	})

	if retryResult.Err != nil {
		span.RecordError(retryResult.Err)
		span.SetStatus(codes.Error, "agent execute failed")
		return "", retryResult.Err
	}
	span.SetStatus(codes.Ok, "ok")
	return result, nil
}

// executeOnce runs exactly one attempt of the agent algorithm, dispatching
// to the tool-capable loop when Config.Tools is non-empty, otherwise the
// simple/reasoning single-turn algorithm (spec.md §4.E).
func (a *Agent) executeOnce(ctx context.Context, inputs map[string]any) (string, error) {
	prompt, err := substitute(a.Template, inputs)
	if err != nil {
		return "", err
	}

	if a.Config.ReasoningMode != "" {
		prompt, err = reasoning.Apply(a.Config.ReasoningMode, prompt, inputs)
		if err != nil {
			return "", errs.Wrap(errs.KindValidation, "agent.executeOnce", "apply reasoning pattern", err)
		}
	}

	if len(a.Config.Tools) > 0 {
		return a.executeToolLoop(ctx, prompt)
	}
	return a.executeSimple(ctx, prompt)
}

// executeSimple implements spec.md §4.E's Simple/Reasoning agent algorithm
// steps 3-5: build a request, call the model, return text or surface an
// unexpected tool-call as errs.KindValidation.
func (a *Agent) executeSimple(ctx context.Context, prompt string) (string, error) {
	req := a.baseRequest(prompt)
	resp, err := a.invoke(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.IsToolCall() {
		return "", errs.New(errs.KindValidation, "agent.executeSimple", "model returned an unexpected tool call for a non-tool-capable agent")
	}
	return resp.Text, nil
}

// executeToolLoop implements spec.md §4.E's Tool-capable agent algorithm: a
// bounded loop dispatching tool calls against the registry and resubmitting
// results until the model returns text or the iteration cap is exhausted.
func (a *Agent) executeToolLoop(ctx context.Context, prompt string) (string, error) {
	maxTurns := a.Config.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	messages := []model.Message{{Role: model.RoleUser, Text: prompt}}
	var toolSchemas []model.ToolSchema
	for _, name := range a.Config.Tools {
		if spec, ok := a.registry.Spec(name); ok {
			toolSchemas = append(toolSchemas, model.ToolSchema{Name: spec.Name, Description: spec.Description, Parameters: spec.Schema})
		}
	}

	for turn := 0; turn < maxTurns; turn++ {
		req := a.baseRequest("")
		req.Messages = messages
		req.Tools = toolSchemas

		resp, err := a.invoke(ctx, req)
		if err != nil {
			return "", err
		}
		if !resp.IsToolCall() {
			return resp.Text, nil
		}

		call := resp.ToolCall
		toolCallID := fmt.Sprintf("%s-%d", call.Name, turn)
		messages = append(messages, model.Message{Role: model.RoleAssistant, Text: toolCallSummary(call)})

		result, callErr := a.registry.Call(ctx, call.Name, call.Arguments)
		var resultText string
		if callErr != nil {
			if errs.KindOf(callErr) == errs.KindToolNotFound {
				return "", callErr
			}
			resultText = fmt.Sprintf("error: %s", callErr.Error())
		} else {
			raw, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				resultText = fmt.Sprintf("error: %s", marshalErr.Error())
			} else {
				resultText = string(raw)
			}
		}
		messages = append(messages, model.Message{Role: model.RoleToolResult, Text: resultText, ToolCallID: toolCallID})
	}

	snapshot, _ := json.Marshal(messages)
	return "", errs.New(errs.KindValidation, "agent.executeToolLoop",
		fmt.Sprintf("tool loop did not terminate after %d iterations; last conversation: %s", maxTurns, string(snapshot)))
}

func toolCallSummary(call *model.ToolCall) string {
	raw, _ := json.Marshal(call.Arguments)
	return fmt.Sprintf("tool_call %s(%s)", call.Name, string(raw))
}

// invoke calls the Model Client bounded by Config.InvokeTimeout, when set
// (spec.md §3's per-invocation timeout). A non-positive InvokeTimeout leaves
// ctx as-is, relying on whatever deadline the caller (step or agent retry)
// already carries.
func (a *Agent) invoke(ctx context.Context, req *model.Request) (*model.Response, error) {
	if a.Config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.InvokeTimeout)
		defer cancel()
	}
	return a.client.Invoke(ctx, req)
}

func (a *Agent) baseRequest(prompt string) *model.Request {
	var messages []model.Message
	if a.Config.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Text: a.Config.SystemPrompt})
	}
	if prompt != "" {
		messages = append(messages, model.Message{Role: model.RoleUser, Text: prompt})
	}
	return &model.Request{
		Selector:    a.Config.Selector,
		Messages:    messages,
		Temperature: a.Config.Temperature,
		MaxTokens:   a.Config.MaxTokens,
	}
}
