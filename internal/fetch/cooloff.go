package fetch

import (
	"context"
	"sync/atomic"
	"time"
)

// Cooloff is a process-wide backoff signal. When any worker receives a 429,
// it publishes a "no requests until t" timestamp; every worker checks the
// signal before issuing a request. Last writer wins.
type Cooloff struct {
	until atomic.Int64 // unix nanoseconds
}

// NewCooloff creates an inactive cool-off signal.
func NewCooloff() *Cooloff {
	return &Cooloff{}
}

// Set publishes the moment requests may resume.
func (c *Cooloff) Set(t time.Time) {
	c.until.Store(t.UnixNano())
}

// Until returns the current resume moment, zero if inactive.
func (c *Cooloff) Until() time.Time {
	n := c.until.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Wait blocks until the cool-off has passed or ctx is cancelled.
func (c *Cooloff) Wait(ctx context.Context, sleep func(context.Context, time.Duration) error) error {
	for {
		remaining := time.Until(c.Until())
		if remaining <= 0 {
			return nil
		}
		if err := sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
