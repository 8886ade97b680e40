package telemetry

import "context"

type scopeKey struct{}

// WithFields returns a context carrying additional key-value pairs that
// ScopedLogger merges into every record emitted through it. Fields set by an
// outer scope (e.g. workflow_id) are visible to every inner scope (step_id,
// agent_id, attempt) per spec.md §4.B.
func WithFields(ctx context.Context, keyvals ...any) context.Context {
	existing, _ := ctx.Value(scopeKey{}).([]any)
	merged := make([]any, 0, len(existing)+len(keyvals))
	merged = append(merged, existing...)
	merged = append(merged, keyvals...)
	return context.WithValue(ctx, scopeKey{}, merged)
}

func fieldsFrom(ctx context.Context) []any {
	fields, _ := ctx.Value(scopeKey{}).([]any)
	return fields
}

// ScopedLogger wraps a Logger so every emitted record automatically includes
// the key-value pairs accumulated on the context via WithFields, ahead of any
// call-site keyvals.
type ScopedLogger struct {
	Logger
}

// NewScopedLogger wraps next so its emissions merge in context-carried fields.
func NewScopedLogger(next Logger) Logger {
	return ScopedLogger{Logger: next}
}

func (s ScopedLogger) merge(ctx context.Context, keyvals []any) []any {
	scoped := fieldsFrom(ctx)
	if len(scoped) == 0 {
		return keyvals
	}
	merged := make([]any, 0, len(scoped)+len(keyvals))
	merged = append(merged, scoped...)
	merged = append(merged, keyvals...)
	return merged
}

func (s ScopedLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	s.Logger.Debug(ctx, msg, s.merge(ctx, keyvals)...)
}

func (s ScopedLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.Logger.Info(ctx, msg, s.merge(ctx, keyvals)...)
}

func (s ScopedLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.Logger.Warn(ctx, msg, s.merge(ctx, keyvals)...)
}

func (s ScopedLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.Logger.Error(ctx, msg, s.merge(ctx, keyvals)...)
}
