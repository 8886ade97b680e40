package agent

import (
	"time"

	"github.com/loomwork/loomwork/model"
	"github.com/loomwork/loomwork/reasoning"
	"github.com/loomwork/loomwork/retrypolicy"
)

// Config is the Agent configuration of spec.md §3: model selector, sampling
// temperature, maximum output tokens, optional system prompt, optional
// reasoning-pattern choice, optional tool list, retry policy, per-invocation
// timeout.
type Config struct {
	Selector       model.Selector
	Temperature    float64
	MaxTokens      int
	SystemPrompt   string
	ReasoningMode  reasoning.Pattern // empty means no reasoning pattern
	Tools          []string         // names registered in a tools.Registry
	Retry          retrypolicy.Config
	InvokeTimeout  time.Duration // per model-client invocation
	MaxToolTurns   int           // tool-capable agent loop cap, default 8
}

// DefaultConfig returns the spec.md §4.E defaults: 3 attempts, base 2s, cap
// 10s, 8 max tool-loop iterations.
func DefaultConfig(selector model.Selector) Config {
	return Config{
		Selector:     selector,
		Retry:        retrypolicy.DefaultAgentConfig(),
		MaxToolTurns: 8,
	}
}
