// Package reasoning implements the closed set of Reasoning Pattern variants
// of spec.md §3/§4.D: pure, deterministic prompt rewriters with no I/O.
package reasoning

import (
	"fmt"
	"strings"
)

// Pattern names one of the closed reasoning-pattern variants.
type Pattern string

const (
	// ChainOfThought prepends a "think step by step" instruction.
	ChainOfThought Pattern = "chain_of_thought"
	// PlanThenAct instructs the model to emit a numbered plan, then execute it.
	PlanThenAct Pattern = "plan_then_act"
	// TreeOfThought instructs enumeration of candidate reasoning lines followed
	// by a final choice.
	TreeOfThought Pattern = "tree_of_thought"
	// SelfReflection requests an initial answer, a self-critique, and a revision.
	SelfReflection Pattern = "self_reflection"
	// PlanAndSolve instructs the model to devise a plan and solve it inline.
	PlanAndSolve Pattern = "plan_and_solve"
	// ReAct interleaves thought/action/observation tokens for the tool-calling
	// agent's parser (spec.md §4.D).
	ReAct Pattern = "re_act"
)

// preambles holds the closed table of fixed instruction text per variant.
// Unknown patterns are a caller bug, not a runtime condition: Apply errors
// rather than silently passing the prompt through unrewritten.
var preambles = map[Pattern]string{
	ChainOfThought: "Think step by step. Show your reasoning explicitly before giving the final answer.",
	PlanThenAct: "First write a numbered plan of the steps you will take. Then execute the plan and " +
		"give the final answer.",
	TreeOfThought: "Enumerate several distinct candidate lines of reasoning. Evaluate each briefly, " +
		"then choose and state the best one as your final answer.",
	SelfReflection: "Give an initial answer. Then critique your own answer for mistakes or gaps. " +
		"Finally give a revised answer incorporating the critique.",
	PlanAndSolve: "Devise a plan that breaks the problem into subproblems, then solve each subproblem " +
		"in order to reach the final answer.",
	ReAct: "Alternate between a Thought, an Action, and an Observation until you can give a Final Answer. " +
		"Format each line as 'Thought: ...', 'Action: ...', 'Observation: ...', or 'Final Answer: ...'.",
}

// Apply rewrites prompt according to pattern. inputs is accepted for parity
// with the Agent's template-substitution pipeline (spec.md §3: "(prompt,
// inputs) -> prompt'") but no variant currently references named inputs in
// its preamble.
func Apply(pattern Pattern, prompt string, _ map[string]any) (string, error) {
	preamble, ok := preambles[pattern]
	if !ok {
		return "", fmt.Errorf("reasoning: unknown pattern %q", pattern)
	}
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String(), nil
}

// Known reports whether pattern is one of the closed variants.
func Known(pattern Pattern) bool {
	_, ok := preambles[pattern]
	return ok
}
