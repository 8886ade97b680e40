package model

import (
	"context"
	"time"

	"github.com/loomwork/loomwork/errs"
	"github.com/loomwork/loomwork/retrypolicy"
	"github.com/loomwork/loomwork/telemetry"
	"golang.org/x/time/rate"
)

// ProviderClient is implemented by each vendor adapter (model/anthropic,
// model/openai, model/bedrock). Invoke must classify every failure into an
// *errs.Error using one of the model_invocation_* kinds; Client.Invoke relies
// on that classification to decide whether to retry.
type ProviderClient interface {
	// Invoke performs exactly one call to the provider; it does not retry.
	Invoke(ctx context.Context, modelID string, req *Request) (*Response, error)
}

// Client is the single public Model Client of spec.md §4.C: invoke(request)
// -> response, with retry over transient faults and a configurable
// connection-rate ceiling (spec.md §5).
type Client struct {
	router  *Router
	retry   retrypolicy.Config
	limiter *rate.Limiter
	tel     telemetry.Bundle
}

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig overrides the default model-layer retry policy.
func WithRetryConfig(cfg retrypolicy.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRateLimit caps outbound provider calls to r per second with a burst of b,
// implementing spec.md §5's "Model Client connections are pooled with a
// configurable ceiling."
func WithRateLimit(r float64, b int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), b) }
}

// WithTelemetry attaches a Bundle; components default to Default() if omitted.
func WithTelemetry(tel telemetry.Bundle) Option {
	return func(c *Client) { c.tel = tel }
}

// NewClient builds a Client over router.
func NewClient(router *Router, opts ...Option) *Client {
	c := &Client{
		router: router,
		retry:  retrypolicy.DefaultModelConfig(),
		tel:    telemetry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke translates the Selector into a provider-native model id, then calls
// the provider with retry over transient kinds (spec.md §4.C): on
// model_invocation_throttle or model_invocation_transient it waits
// base*2^attempt with jitter up to the configured attempt cap; on
// model_invocation_fatal it raises immediately.
func (c *Client) Invoke(ctx context.Context, req *Request) (*Response, error) {
	provider, modelID, err := c.router.Resolve(req.Selector)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.KindCancelled, "model.Client.Invoke", "rate limiter wait interrupted", err)
		}
	}

	var resp *Response
	start := time.Now()
	result := retrypolicy.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		c.tel.Logger.Debug(ctx, "model invocation attempt", "selector", string(req.Selector), "model_id", modelID, "attempt", attempt)
		r, invokeErr := provider.Invoke(ctx, modelID, req)
		if invokeErr != nil {
			c.tel.Metrics.IncCounter("model.invocation.error", 1, "kind", string(errs.KindOf(invokeErr)))
			return invokeErr
		}
		resp = r
		return nil
	})
	c.tel.Metrics.RecordTimer("model.invocation.duration", time.Since(start))

	if result.Err != nil {
		return nil, result.Err
	}
	resp.Latency = time.Since(start)
	c.tel.Metrics.IncCounter("model.invocation.success", 1, "selector", string(req.Selector))
	return resp, nil
}
