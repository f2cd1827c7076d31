package resource

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// ErrSaturated is wrapped into the resource-exhausted fault when a pool
// cannot grant a slot before the caller's deadline.
var ErrSaturated = errors.New("resource pool saturated")

// ErrThrottled is wrapped into the resource-exhausted fault when ingress
// rate limiting rejects an admission.
var ErrThrottled = errors.New("ingress rate limit exceeded")

// Manager owns the concurrency pools and the ingress rate limiter. It is
// the single authority for admitting work into the daemon.
type Manager struct {
	pools      map[PoolKind]*Pool
	baseLimits map[PoolKind]int
	shrink     float64
	ingress    *rate.Limiter
	log        *logging.Logger
	metrics    *Metrics
}

// NewManager builds pools sized from cfg.
func NewManager(cfg config.ResourceConfig, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	base := map[PoolKind]int{
		PoolRequest: cfg.RequestSlots,
		PoolModel:   cfg.ModelSlots,
		PoolTool:    cfg.ToolSlots,
		PoolContext: cfg.ContextSlots,
	}
	pools := make(map[PoolKind]*Pool, len(base))
	for kind, limit := range base {
		pools[kind] = NewPool(kind, limit)
	}

	m := &Manager{
		pools:      pools,
		baseLimits: base,
		shrink:     cfg.ShrinkFactor,
		ingress:    rate.NewLimiter(rate.Limit(cfg.IngressRate), cfg.IngressBurst),
		log:        log,
		metrics:    NewMetrics(),
	}
	m.publishLimits()
	return m
}

// Admit applies the ingress rate limit. Callers reject the request with the
// returned fault instead of queueing it.
func (m *Manager) Admit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.ingress.Allow() {
		m.metrics.AdmissionsRejected.Inc()
		return fault.Exhausted("resource.admit", ErrThrottled)
	}
	return nil
}

// Acquire takes a slot from the named pool, blocking until one frees up or
// ctx expires. A deadline while waiting surfaces as resource exhaustion,
// not a generic timeout: the work never started.
func (m *Manager) Acquire(ctx context.Context, kind PoolKind) (*Ticket, error) {
	pool, ok := m.pools[kind]
	if !ok {
		return nil, fault.Internal("resource.acquire", fmt.Errorf("unknown pool %q", kind))
	}

	ticket, err := pool.Acquire(ctx)
	if err != nil {
		m.metrics.AcquireFailures.WithLabelValues(string(kind)).Inc()
		return nil, fault.Exhausted("resource.acquire",
			fmt.Errorf("%w: pool %s: %v", ErrSaturated, kind, err))
	}
	m.metrics.PoolInUse.WithLabelValues(string(kind)).Set(float64(pool.InUse()))
	return ticket, nil
}

// Release returns a ticket's slot. Nil-safe and idempotent.
func (m *Manager) Release(ticket *Ticket) {
	if ticket == nil {
		return
	}
	kind := ticket.Pool()
	ticket.Release()
	if pool, ok := m.pools[kind]; ok {
		m.metrics.PoolInUse.WithLabelValues(string(kind)).Set(float64(pool.InUse()))
	}
}

// With runs fn while holding a slot from the named pool. The slot is
// released on every path out of fn, including panic.
func (m *Manager) With(ctx context.Context, kind PoolKind, fn func(ctx context.Context) error) error {
	ticket, err := m.Acquire(ctx, kind)
	if err != nil {
		return err
	}
	defer m.Release(ticket)
	return fn(ctx)
}

// InFlight returns the number of held slots per pool.
func (m *Manager) InFlight() map[PoolKind]int {
	out := make(map[PoolKind]int, len(m.pools))
	for kind, pool := range m.pools {
		out[kind] = pool.InUse()
	}
	return out
}

// Saturation returns utilization of the busiest pool, 0.0 to 1.0.
func (m *Manager) Saturation() float64 {
	peak := 0.0
	for _, pool := range m.pools {
		if limit := pool.Limit(); limit > 0 {
			if s := float64(pool.InUse()) / float64(limit); s > peak {
				peak = s
			}
		}
	}
	return peak
}

// Shrink scales every pool down by the configured factor. Holders keep
// their slots; only new acquisitions see the reduced limits.
func (m *Manager) Shrink() {
	for kind, base := range m.baseLimits {
		limit := int(float64(base) * m.shrink)
		if limit < 1 {
			limit = 1
		}
		m.pools[kind].SetLimit(limit)
	}
	m.publishLimits()
	m.log.Warn(context.Background(), "resource pools shrunk under load",
		zap.Float64("factor", m.shrink))
}

// Restore returns every pool to its configured limit.
func (m *Manager) Restore() {
	for kind, base := range m.baseLimits {
		m.pools[kind].SetLimit(base)
	}
	m.publishLimits()
	m.log.Info(context.Background(), "resource pools restored to base limits")
}

func (m *Manager) publishLimits() {
	for kind, pool := range m.pools {
		m.metrics.PoolLimit.WithLabelValues(string(kind)).Set(float64(pool.Limit()))
	}
}
