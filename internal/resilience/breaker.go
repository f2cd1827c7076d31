package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is wrapped into the dependency fault returned while a
// breaker refuses calls.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker is a count-based circuit breaker.
//
// Closed counts consecutive failures; reaching the threshold opens the
// circuit. While open, calls fail immediately until the cooldown elapses.
// The first call after cooldown runs as a single half-open probe with all
// other callers still rejected; the probe's outcome closes or re-opens the
// circuit.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time // test hook

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg config.BreakerConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	cooldown := cfg.Cooldown.Duration()
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Do runs fn through the breaker. While the circuit is open, fn is not
// called and a dependency fault wrapping ErrBreakerOpen is returned.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, claiming the half-open probe
// slot when eligible.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return b.rejectLocked()
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return b.rejectLocked()
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) rejectLocked() error {
	return fault.Dependency("breaker."+b.name,
		fmt.Errorf("%w: %s", ErrBreakerOpen, b.name))
}

// record feeds a call outcome back into the state machine. Cancellation is
// not a dependency failure and leaves the counts untouched.
func (b *Breaker) record(err error) {
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.probing = false
		if err == nil {
			b.state = BreakerClosed
			b.failures = 0
			return
		}
		b.trip()
	case BreakerOpen:
		// A call admitted before the trip finished; nothing to update.
	}
}

// trip opens the circuit. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probing = false
}

// Registry hands out one breaker per dependency name, creating them on
// first use with a shared config.
type Registry struct {
	cfg config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for name, creating it if needed.
func (r *Registry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every known breaker's state.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]BreakerState, len(names))
	for _, b := range names {
		out[b.name] = b.State()
	}
	return out
}
