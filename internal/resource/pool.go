package resource

import (
	"container/list"
	"context"
	"sync"
)

// PoolKind identifies one of the fixed concurrency pools.
type PoolKind string

const (
	PoolRequest PoolKind = "request"
	PoolModel   PoolKind = "model"
	PoolTool    PoolKind = "tool"
	PoolContext PoolKind = "context"
)

// Pool is a counting semaphore whose limit can change at runtime.
//
// Unlike a channel-based semaphore, lowering the limit takes effect
// immediately for new acquisitions while current holders keep their slots
// until they release. Waiters are served in FIFO order.
type Pool struct {
	kind PoolKind

	mu      sync.Mutex
	limit   int
	inUse   int
	waiters *list.List // of chan struct{}
}

// NewPool creates a pool with the given concurrency limit.
func NewPool(kind PoolKind, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		kind:    kind,
		limit:   limit,
		waiters: list.New(),
	}
}

// Kind returns the pool's identity.
func (p *Pool) Kind() PoolKind { return p.kind }

// Limit returns the current concurrency limit.
func (p *Pool) Limit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// SetLimit changes the concurrency limit. Raising it wakes queued waiters;
// lowering it never revokes slots already held.
func (p *Pool) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	p.mu.Lock()
	p.limit = limit
	p.grantLocked()
	p.mu.Unlock()
}

// TryAcquire takes a slot without blocking. It returns nil when the pool is
// saturated.
func (p *Pool) TryAcquire() *Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.limit || p.waiters.Len() > 0 {
		return nil
	}
	p.inUse++
	return newTicket(p)
}

// Acquire blocks until a slot is free or ctx is done. The returned ticket
// must be released exactly once; releasing more than once is a no-op.
func (p *Pool) Acquire(ctx context.Context) (*Ticket, error) {
	p.mu.Lock()
	if p.inUse < p.limit && p.waiters.Len() == 0 {
		p.inUse++
		p.mu.Unlock()
		return newTicket(p), nil
	}

	ready := make(chan struct{})
	elem := p.waiters.PushBack(ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return newTicket(p), nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-ready:
			// Granted between ctx firing and taking the lock; hand the
			// slot back so the count stays consistent.
			p.inUse--
			p.grantLocked()
		default:
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// release returns a slot and wakes the next waiter if one fits.
func (p *Pool) release() {
	p.mu.Lock()
	p.inUse--
	p.grantLocked()
	p.mu.Unlock()
}

// grantLocked hands free slots to queued waiters. Caller holds p.mu.
func (p *Pool) grantLocked() {
	for p.inUse < p.limit && p.waiters.Len() > 0 {
		elem := p.waiters.Front()
		p.waiters.Remove(elem)
		p.inUse++
		close(elem.Value.(chan struct{}))
	}
}

// Ticket is proof of a held pool slot. Release is idempotent so every exit
// path may call it without double-freeing the slot.
type Ticket struct {
	pool *Pool
	once sync.Once
}

func newTicket(p *Pool) *Ticket {
	return &Ticket{pool: p}
}

// Release returns the slot to the pool. Safe to call multiple times.
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.pool.release)
}

// Pool reports which pool issued the ticket.
func (t *Ticket) Pool() PoolKind { return t.pool.kind }
