// Package model defines the provider-agnostic model invocation contract
// (spec.md §3 "Model Request / Response", §4.C Model Client): the Router that
// resolves selectors to providers, and the Client that applies retry policy.
// Concrete provider adapters, which classify provider outcomes, live in
// model/anthropic, model/openai, and model/bedrock.
package model

import "time"

// Selector names a logical model choice from the closed table in spec.md §6.
// A selector not registered on the Router is a configuration error; adding a
// new one is a code change to the constants below.
type Selector string

const (
	// SelectorFastCheap is the low-latency, low-cost model used for simple work.
	SelectorFastCheap Selector = "fast_cheap"
	// SelectorCapable is the high-reasoning model used for complex work.
	SelectorCapable Selector = "capable"
	// SelectorOpenWeights is the open-weights alternative model.
	SelectorOpenWeights Selector = "open_weights"
)

// Complexity is the input to PickModel (spec.md §4.C).
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem      Role = "system"
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleToolResult  Role = "tool_result"
)

// Message is one turn in a conversation sent to the provider.
type Message struct {
	Role Role
	// Text carries plain conversational content. For RoleToolResult, Text
	// carries the JSON-encoded tool result (or failure marker).
	Text string
	// ToolCallID links a RoleToolResult message back to the tool call it answers.
	ToolCallID string
}

// ToolSchema describes one tool the model may call, in JSON Schema form.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Request is the logical invocation contract of spec.md §3/§6.
type Request struct {
	Selector      Selector
	Messages      []Message
	Temperature   float64
	MaxTokens     int
	Tools         []ToolSchema
	StopSequences []string
}

// ToolCall is the structured instruction a provider returns instead of text.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Usage reports tokens consumed by one invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is exactly one of Text set or ToolCall set, per spec.md §3.
type Response struct {
	Text     string
	ToolCall *ToolCall
	Usage    Usage
	Latency  time.Duration
}

// IsToolCall reports whether the response carries a tool-call instruction.
func (r *Response) IsToolCall() bool { return r.ToolCall != nil }
