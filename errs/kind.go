// Package errs defines the closed error taxonomy shared by the model client,
// agent, and workflow scheduler. Kind is the single source of truth consulted
// by every retry decision in the module.
package errs

// Kind classifies a failure into one of a closed set of categories. Every
// failure surfaced by this module carries exactly one Kind.
type Kind string

const (
	// KindValidation marks malformed input or configuration.
	KindValidation Kind = "validation"
	// KindConfiguration marks missing required configuration (credentials, model id).
	KindConfiguration Kind = "configuration"
	// KindCyclicGraph marks a workflow whose step graph contains a cycle.
	KindCyclicGraph Kind = "cyclic_graph"
	// KindUnknownDependency marks a step referencing a dependency that does not exist.
	KindUnknownDependency Kind = "unknown_dependency"
	// KindModelThrottle marks a rate-limit response from the model provider.
	KindModelThrottle Kind = "model_invocation_throttle"
	// KindModelTransient marks a network, timeout, or 5xx-class provider failure.
	KindModelTransient Kind = "model_invocation_transient"
	// KindModelFatal marks an authentication, permission, or unknown-model provider failure.
	KindModelFatal Kind = "model_invocation_fatal"
	// KindToolNotFound marks a tool-call naming a tool absent from the registry.
	KindToolNotFound Kind = "tool_not_found"
	// KindToolFailure marks a tool handler raising an error.
	KindToolFailure Kind = "tool_failure"
	// KindStepTimeout marks a step exceeding its per-step deadline.
	KindStepTimeout Kind = "step_timeout"
	// KindWorkflowTimeout marks the whole workflow exceeding its deadline.
	KindWorkflowTimeout Kind = "workflow_timeout"
	// KindCancelled marks caller-requested cancellation.
	KindCancelled Kind = "cancelled"
)

// transient is the closed table backing IsTransient. Every Kind not present
// here is terminal.
var transient = map[Kind]bool{
	KindModelThrottle:  true,
	KindModelTransient: true,
}

// IsTransient reports whether kind should be retried by the caller's backoff
// policy. This is the single source of truth for retry eligibility across
// the model client, agent, and workflow scheduler.
func IsTransient(kind Kind) bool {
	return transient[kind]
}
