package resource

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// LoadSignal reports an external load measurement normalized to 0.0-1.0.
// Typical signals are memory pressure and event-loop lag; the checker does
// not care what they measure, only whether they cross the threshold.
type LoadSignal func() float64

// pressureThreshold is the level at which a signal or pool saturation
// counts as overload.
const pressureThreshold = 0.85

// Checker watches pool saturation plus registered load signals and flips
// the manager between its base and shrunken limits.
type Checker struct {
	manager  *Manager
	signals  []LoadSignal
	interval time.Duration
	log      *logging.Logger

	mu       sync.Mutex
	degraded bool
}

// NewChecker creates a health checker over m. Signals may be nil.
func NewChecker(m *Manager, interval time.Duration, log *logging.Logger, signals ...LoadSignal) *Checker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Checker{
		manager:  m,
		signals:  signals,
		interval: interval,
		log:      log,
	}
}

// Run evaluates periodically until ctx is done. Blocking; usually launched
// on its own goroutine.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evaluate(ctx)
		}
	}
}

// Evaluate samples all signals once and adjusts pool limits. Exported so
// tests and admin endpoints can force a check.
func (c *Checker) Evaluate(ctx context.Context) {
	pressure := c.manager.Saturation() >= pressureThreshold
	peak := 0.0
	for _, sig := range c.signals {
		v := sig()
		if v > peak {
			peak = v
		}
		if v >= pressureThreshold {
			pressure = true
		}
	}

	c.mu.Lock()
	changed := pressure != c.degraded
	c.degraded = pressure
	c.mu.Unlock()

	if !changed {
		return
	}
	if pressure {
		c.log.Warn(ctx, "load pressure detected",
			zap.Float64("peak_signal", peak),
			zap.Float64("saturation", c.manager.Saturation()))
		c.manager.Shrink()
	} else {
		c.manager.Restore()
	}
}

// Degraded reports whether the checker currently holds the pools shrunk.
func (c *Checker) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Snapshot is a point-in-time view for the health endpoint.
type Snapshot struct {
	Degraded   bool             `json:"degraded"`
	Saturation float64          `json:"saturation"`
	InFlight   map[PoolKind]int `json:"in_flight"`
}

// Snapshot returns the current health view.
func (c *Checker) Snapshot() Snapshot {
	return Snapshot{
		Degraded:   c.Degraded(),
		Saturation: c.manager.Saturation(),
		InFlight:   c.manager.InFlight(),
	}
}
