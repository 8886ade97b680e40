// Package retrypolicy provides the single exponential-backoff primitive
// shared by the model client, agent, and workflow scheduler retry layers.
// Each layer owns an independent Config; the layers compose because each
// wraps a strictly smaller unit of work (a model call, an agent execution, a
// whole step attempt).
package retrypolicy

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/loomwork/loomwork/errs"
)

// Config configures one layer's backoff behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Zero or negative is treated as 1 (no retries).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// Jitter adds up to this fraction of randomness to each computed delay
	// (0.1 means +/-10%).
	Jitter float64
}

// DefaultModelConfig matches spec.md §4.C: base 3 attempts, capped delay.
func DefaultModelConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 20 * time.Second, Jitter: 0.2}
}

// DefaultAgentConfig matches spec.md §4.E: 3 attempts, base 2s, cap 10s.
func DefaultAgentConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Jitter: 0.2}
}

// DefaultStepConfig matches spec.md §4.F's step-level retry wrapper.
func DefaultStepConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 15 * time.Second, Jitter: 0.2}
}

// DefaultWorkflowConfig matches spec.md §4.F.5: one workflow-level retry by default.
func DefaultWorkflowConfig() Config {
	return Config{MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Jitter: 0.1}
}

// Result reports how many attempts Do made, for callers that need retry
// accounting (spec.md §8: attempt_count, retried_steps).
type Result struct {
	Attempts int
	Err      error
}

// Do runs fn under cfg's backoff policy. fn's error, if any, must be (or
// wrap) an *errs.Error so retryability can be classified via errs.IsTransient;
// any other error is treated as terminal. Do stops retrying as soon as ctx is
// done, returning ctx.Err() wrapped as errs.KindCancelled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Err: errs.Wrap(errs.KindCancelled, "retrypolicy.Do", "context done before attempt", err)}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return Result{Attempts: attempt}
		}
		lastErr = err

		kind := errs.KindOf(err)
		if !errs.IsTransient(kind) {
			return Result{Attempts: attempt, Err: err}
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, Err: errs.Wrap(errs.KindCancelled, "retrypolicy.Do", "context done during backoff", ctx.Err())}
		case <-time.After(delay):
		}
	}

	return Result{Attempts: cfg.MaxAttempts, Err: lastErr}
}

// backoffDelay computes base * 2^(attempt-1), capped at MaxDelay, with
// symmetric jitter applied.
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security-sensitive
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
