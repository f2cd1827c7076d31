package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
)

// Policy retries an operation with exponential backoff and jitter.
// Attempts counts retries after the first try; zero disables retrying.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

// PolicyFromConfig maps a config section onto a policy.
func PolicyFromConfig(cfg config.RetryPolicyConfig) Policy {
	return Policy{
		Attempts:  cfg.Attempts,
		BaseDelay: cfg.BaseDelay.Duration(),
		MaxDelay:  cfg.MaxDelay.Duration(),
		Jitter:    cfg.Jitter.Duration(),
	}
}

// Degraded returns a copy of the policy with retries disabled. Used when
// the system is shedding load and a failed call should fail fast.
func (p Policy) Degraded() Policy {
	p.Attempts = 0
	return p
}

// backoff builds the go-retry backoff chain for this policy.
func (p Policy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	exponential := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		exponential = retry.WithCappedDuration(p.MaxDelay, exponential)
	}
	if p.Jitter > 0 {
		exponential = retry.WithJitter(p.Jitter, exponential)
	}
	attempts := p.Attempts
	if attempts < 0 {
		attempts = 0
	}
	return retry.WithMaxRetries(uint64(attempts), exponential)
}

// Do runs fn under the policy. Only faults classified as retryable are
// retried; validation and internal errors surface immediately. The last
// error is returned once attempts are spent.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if fault.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
