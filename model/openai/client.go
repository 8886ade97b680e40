// Package openai adapts github.com/openai/openai-go into a model.ProviderClient,
// backing the fast-cheap selector of spec.md §6.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
)

// ChatClient is the subset of the SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements model.ProviderClient over the Chat Completions API.
type Client struct {
	chat ChatClient
}

// New builds a Client from an explicit chat-completions client.
func New(chat ChatClient) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions)
}

// Invoke performs one Chat Completions call and classifies the outcome per
// spec.md §4.C.
func (c *Client) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	params, err := encodeRequest(modelID, req)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "openai.Invoke", "encode request", err)
	}

	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(resp)
}

func encodeRequest(modelID string, req *model.Request) (*openai.ChatCompletionNewParams, error) {
	if modelID == "" {
		return nil, errors.New("model id is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Text))
		case model.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Text))
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		case model.RoleToolResult:
			msgs = append(msgs, openai.ToolMessage(m.Text, m.ToolCallID))
		}
	}

	params := &openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			}))
		}
		params.Tools = tools
	}
	return params, nil
}

func translateResponse(resp *openai.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	choice := resp.Choices[0]
	out := &model.Response{
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, errs.Wrap(errs.KindValidation, "openai.translateResponse", "decode tool call arguments", err)
			}
		}
		out.ToolCall = &model.ToolCall{Name: call.Function.Name, Arguments: args}
		return out, nil
	}
	out.Text = choice.Message.Content
	return out, nil
}

// classifyError maps an SDK-level failure onto the closed error taxonomy,
// mirroring model/anthropic's classifyError.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errs.Wrap(errs.KindModelThrottle, "openai.Invoke", "provider throttled the request", err)
		case apiErr.StatusCode >= 500:
			return errs.Wrap(errs.KindModelTransient, "openai.Invoke", "provider returned a server error", err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound:
			return errs.Wrap(errs.KindModelFatal, "openai.Invoke", "provider rejected the request", err)
		default:
			return errs.Wrap(errs.KindModelFatal, "openai.Invoke", "provider returned a client error", err)
		}
	}
	return errs.Wrap(errs.KindModelTransient, "openai.Invoke", "provider call failed", err)
}
