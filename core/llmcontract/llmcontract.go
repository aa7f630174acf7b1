// Package llmcontract adapts runtime/agent/model's provider-agnostic Client
// into the LLM-provider contract the orchestrator depends on: typed errors,
// retry with exponential backoff on transient failures, and a health-check
// surface. The core never imports a vendor SDK directly; it only depends on
// model.Client and the error taxonomy in model.ProviderError.
package llmcontract

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/goa-ai-labs/synapsecore/core/corerr"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/model"
)

// RetryPolicy configures the backoff schedule applied to transient provider
// failures (spec §6): base 1s, factor 2, jitter up to 500ms, max 3 attempts.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Factor       float64
	MaxJitter    time.Duration
}

// DefaultRetryPolicy returns the spec-mandated retry schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Client wraps a model.Client with retry and a per-provider rate limiter
// bounding how many concurrent retries it will issue, so a degraded provider
// cannot be hammered by many sessions retrying at once.
type Client struct {
	inner   model.Client
	policy  RetryPolicy
	limiter *rate.Limiter
	rand    *rand.Rand
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry schedule.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRetryConcurrency caps the number of in-flight retry attempts per
// second across all sessions sharing this Client, using a token-bucket
// limiter so the core does not amplify load on an already-struggling
// provider.
func WithRetryConcurrency(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New wraps inner with retry behavior.
func New(inner model.Client, opts ...Option) *Client {
	c := &Client{
		inner:  inner,
		policy: DefaultRetryPolicy(),
		rand:   rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete performs a non-streaming generation call, retrying rate-limit,
// unavailable, and timeout failures per the configured policy. Every other
// error kind (permanent, auth, context overflow) fails immediately.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.shouldRetry(err) {
			return nil, c.classify(err)
		}
	}
	return nil, c.classify(lastErr)
}

// Stream performs a streaming generation call. Streaming calls are not
// retried transparently: a failure mid-stream has already delivered partial
// content to the caller, so retry decisions are left to the orchestrator.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	s, err := c.inner.Stream(ctx, req)
	if err != nil {
		return nil, c.classify(err)
	}
	return s, nil
}

func (c *Client) shouldRetry(err error) bool {
	pe, ok := model.AsProviderError(err)
	if !ok {
		return false
	}
	switch pe.Kind() {
	case model.ProviderErrorKindRateLimited, model.ProviderErrorKindUnavailable, model.ProviderErrorKindTimeout:
		return true
	default:
		return false
	}
}

func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	pe, ok := model.AsProviderError(err)
	if !ok {
		return corerr.Wrap(corerr.KindPermanentProvider, "llmcontract.Complete", err)
	}
	switch pe.Kind() {
	case model.ProviderErrorKindRateLimited, model.ProviderErrorKindUnavailable, model.ProviderErrorKindTimeout:
		return corerr.Wrap(corerr.KindTransientProvider, "llmcontract.Complete", err)
	case model.ProviderErrorKindContextOverflow:
		return corerr.Wrap(corerr.KindContextOverflow, "llmcontract.Complete", err)
	case model.ProviderErrorKindAuth:
		return corerr.Wrap(corerr.KindAuth, "llmcontract.Complete", err)
	default:
		return corerr.Wrap(corerr.KindPermanentProvider, "llmcontract.Complete", err)
	}
}

func (c *Client) waitBackoff(ctx context.Context, attempt int) error {
	delay := c.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.policy.Factor)
	}
	if c.policy.MaxJitter > 0 {
		delay += time.Duration(c.rand.Int63n(int64(c.policy.MaxJitter)))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return corerr.Wrap(corerr.KindCancellation, "llmcontract.waitBackoff", err)
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return corerr.Wrap(corerr.KindCancellation, "llmcontract.waitBackoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// ErrNoHealthyProvider is a sentinel for callers that find every monitored
// provider currently marked unhealthy. Nothing in this package returns it.
var ErrNoHealthyProvider = errors.New("llmcontract: no healthy provider")
