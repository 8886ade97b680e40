// Package anthropic adapts github.com/anthropics/anthropic-sdk-go into a
// model.ProviderClient, mapping the logical invocation contract of spec.md
// §3/§4.C onto the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
)

// MessagesClient is the subset of the SDK used by the adapter, so tests can
// substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.ProviderClient over Anthropic Messages.
type Client struct {
	msg MessagesClient
}

// New builds a Client from an explicit Messages client (production or stub).
func New(msg MessagesClient) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	return &Client{msg: msg}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages)
}

// Invoke performs one Messages.New call and classifies the outcome per
// spec.md §4.C.
func (c *Client) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	params, err := encodeRequest(modelID, req)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "anthropic.Invoke", "encode request", err)
	}

	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(msg)
}

func encodeRequest(modelID string, req *model.Request) (*sdk.MessageNewParams, error) {
	if modelID == "" {
		return nil, errors.New("model id is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	var system []sdk.TextBlockParam
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Text})
		case model.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case model.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		case model.RoleToolResult:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Text, false)))
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("at least one user/assistant message is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, err
			}
			var schema map[string]any
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, err
			}
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, t.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(t.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params, nil
}

func translateResponse(msg *sdk.Message) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: nil response")
	}
	resp := &model.Response{
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, errs.Wrap(errs.KindValidation, "anthropic.translateResponse", "decode tool_use input", err)
				}
			}
			resp.ToolCall = &model.ToolCall{Name: block.Name, Arguments: args}
		}
	}
	return resp, nil
}

// classifyError maps an SDK-level failure onto the closed error taxonomy per
// spec.md §4.C: 429/throttle -> throttle, timeout/reset/5xx -> transient,
// other 4xx/auth/unknown model -> fatal.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errs.Wrap(errs.KindModelThrottle, "anthropic.Invoke", "provider throttled the request", err)
		case apiErr.StatusCode >= 500:
			return errs.Wrap(errs.KindModelTransient, "anthropic.Invoke", "provider returned a server error", err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound:
			return errs.Wrap(errs.KindModelFatal, "anthropic.Invoke", "provider rejected the request", err)
		default:
			return errs.Wrap(errs.KindModelFatal, "anthropic.Invoke", "provider returned a client error", err)
		}
	}
	// Network-level failures (timeouts, connection resets) never carry an
	// *sdk.Error and are transient by default.
	return errs.Wrap(errs.KindModelTransient, "anthropic.Invoke", "provider call failed", err)
}
