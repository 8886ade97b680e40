// Package bedrock adapts the AWS Bedrock Converse API into a
// model.ProviderClient, backing the open-weights-alternative selector of
// spec.md §6.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/model"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client used by the
// adapter, matching *bedrockruntime.Client so callers can pass either the
// real client or a stub in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.ProviderClient over AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
}

// New builds a Client from an explicit Bedrock runtime client.
func New(runtime RuntimeClient) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime}, nil
}

// Invoke performs one Converse call and classifies the outcome per spec.md
// §4.C.
func (c *Client) Invoke(ctx context.Context, modelID string, req *model.Request) (*model.Response, error) {
	input, err := encodeRequest(modelID, req)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "bedrock.Invoke", "encode request", err)
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(out)
}

func encodeRequest(modelID string, req *model.Request) (*bedrockruntime.ConverseInput, error) {
	if modelID == "" {
		return nil, errors.New("model id is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	var system []brtypes.SystemContentBlock
	var msgs []brtypes.Message
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
		case model.RoleUser:
			msgs = append(msgs, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case model.RoleAssistant:
			msgs = append(msgs, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case model.RoleToolResult:
			msgs = append(msgs, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Text}},
					},
				}},
			})
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("at least one user/assistant message is required")
	}

	inferenceConfig := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		inferenceConfig.MaxTokens = &maxTokens
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		inferenceConfig.Temperature = &temp
	}
	if len(req.StopSequences) > 0 {
		inferenceConfig.StopSequences = req.StopSequences
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: inferenceConfig,
	}

	if len(req.Tools) > 0 {
		var toolSpecs []brtypes.Tool
		for _, t := range req.Tools {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, err
			}
			toolSpecs = append(toolSpecs, &brtypes.ToolMemberToolSpec{
				Value: brtypes.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(json.RawMessage(raw))},
				},
			})
		}
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: toolSpecs}
	}
	return input, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) (*model.Response, error) {
	if out == nil || out.Output == nil {
		return nil, errors.New("bedrock: empty response")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unsupported output shape")
	}

	resp := &model.Response{}
	if out.Usage != nil {
		resp.Usage = model.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Text += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			var args map[string]any
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err == nil {
					_ = json.Unmarshal(raw, &args)
				}
			}
			resp.ToolCall = &model.ToolCall{Name: aws.ToString(b.Value.Name), Arguments: args}
		}
	}
	return resp, nil
}

// classifyError maps an SDK-level failure onto the closed error taxonomy,
// mirroring model/anthropic's classifyError but using smithy's error types
// (Bedrock's SDK does not surface a uniform HTTP status the way Anthropic's
// REST client does).
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return errs.Wrap(errs.KindModelThrottle, "bedrock.Invoke", "provider throttled the request", err)
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			return errs.Wrap(errs.KindModelTransient, "bedrock.Invoke", "provider returned a server error", err)
		case "AccessDeniedException", "ValidationException", "ResourceNotFoundException":
			return errs.Wrap(errs.KindModelFatal, "bedrock.Invoke", "provider rejected the request", err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 429:
			return errs.Wrap(errs.KindModelThrottle, "bedrock.Invoke", "provider throttled the request", err)
		case respErr.HTTPStatusCode() >= 500:
			return errs.Wrap(errs.KindModelTransient, "bedrock.Invoke", "provider returned a server error", err)
		}
	}
	return errs.Wrap(errs.KindModelTransient, "bedrock.Invoke", "provider call failed", err)
}
