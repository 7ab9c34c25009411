// Package fetch wraps data-source calls with bounded retries, exponential
// backoff with jitter, and rate-limit-aware delays.
package fetch

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"stockdl/internal/clients/yahoo"
)

// Policy holds the retry tuning knobs.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	RateLimitDelay    time.Duration
	MaxDelay          time.Duration
	PerAttemptTimeout time.Duration
	Exponential       bool
	Jitter            bool
}

// DefaultPolicy returns the normal retry regime.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		RateLimitDelay:    30 * time.Second,
		MaxDelay:          2 * time.Minute,
		PerAttemptTimeout: 30 * time.Second,
		Exponential:       true,
		Jitter:            true,
	}
}

// Special returns the stronger regime applied to symbols that exhausted the
// normal budget: more attempts, doubled base delay.
func (p Policy) Special() Policy {
	s := p
	s.MaxAttempts = 5
	s.BaseDelay = p.BaseDelay * 2
	return s
}

// Budget is the per-symbol wall-clock cap: every attempt at full timeout plus
// the largest possible backoff between attempts, for both regimes combined.
func (p Policy) Budget() time.Duration {
	worstDelay := p.RateLimitDelay
	if p.MaxDelay > worstDelay {
		worstDelay = p.MaxDelay
	}
	attempts := p.MaxAttempts + p.Special().MaxAttempts + 1
	return time.Duration(attempts)*(p.PerAttemptTimeout+worstDelay) + worstDelay
}

// FetchFunc performs one fetch attempt.
type FetchFunc func(ctx context.Context) ([]yahoo.DailyBar, error)

// Controller retries fetch attempts according to a Policy. Controllers are
// cheap; the orchestrator builds one per regime and shares the cool-off.
type Controller struct {
	policy  Policy
	cooloff *Cooloff
	log     zerolog.Logger

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

// New creates a retry controller. cooloff may be nil when no cross-worker
// coordination is wanted.
func New(policy Policy, cooloff *Cooloff, log zerolog.Logger) *Controller {
	return &Controller{
		policy:  policy,
		cooloff: cooloff,
		log:     log.With().Str("component", "retry").Logger(),
		sleep:   sleepCtx,
		randf:   rand.Float64,
	}
}

// Do runs fn until success, a terminal error, or the attempt budget runs out.
// The returned error is always a *yahoo.FetchError. The reported count is the
// number of requests actually issued, including the failed final one and any
// free first rate-limited request.
func (c *Controller) Do(ctx context.Context, symbol string, fn FetchFunc) ([]yahoo.DailyBar, int, error) {
	attempt := 0            // consumed retry slots
	requests := 0           // requests issued, reported to the caller
	rateLimitedFree := true // first 429 does not consume an attempt slot

	for {
		if c.cooloff != nil {
			if err := c.cooloff.Wait(ctx, c.sleep); err != nil {
				return nil, requests, &yahoo.FetchError{Kind: yahoo.KindTransient, Symbol: symbol, Message: "cancelled during cool-off"}
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if c.policy.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.policy.PerAttemptTimeout)
		}
		bars, err := fn(attemptCtx)
		cancel()
		requests++

		if err == nil {
			return bars, requests, nil
		}

		fe := yahoo.Classify(err)

		switch fe.Kind {
		case yahoo.KindRateLimited:
			if rateLimitedFree {
				rateLimitedFree = false
			} else {
				attempt++
			}
			if attempt >= c.policy.MaxAttempts {
				return nil, requests, fe
			}
			delay := c.policy.RateLimitDelay
			if fe.RetryAfter > delay {
				delay = fe.RetryAfter
			}
			delay = c.jitter(delay)
			if c.cooloff != nil {
				c.cooloff.Set(time.Now().Add(delay))
			}
			c.log.Warn().
				Str("symbol", symbol).
				Dur("delay", delay).
				Msg("Rate limited, backing off")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, requests, fe
			}

		case yahoo.KindTransient, yahoo.KindServerError:
			attempt++
			if attempt >= c.policy.MaxAttempts {
				return nil, requests, fe
			}
			delay := c.backoff(attempt)
			c.log.Warn().
				Str("symbol", symbol).
				Str("kind", fe.Kind.String()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Fetch failed, retrying")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, requests, fe
			}

		default:
			// Delisted, BadRequest, NoData, MalformedResponse: no retry.
			return nil, requests, fe
		}
	}
}

// backoff computes the delay before the given (1-based) retry.
func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay
	if c.policy.Exponential {
		delay = c.policy.BaseDelay * time.Duration(1<<uint(attempt-1))
	}
	if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return c.jitter(delay)
}

// jitter applies a ±20% uniform spread when enabled.
func (c *Controller) jitter(d time.Duration) time.Duration {
	if !c.policy.Jitter || d <= 0 {
		return d
	}
	factor := 0.8 + 0.4*c.randf()
	return time.Duration(float64(d) * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
