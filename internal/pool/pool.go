// Package pool implements a fixed-size pool of execution contexts for one
// compiled model. Callers hold a Lease while they use a context; waiters are
// served in arrival order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
)

// MaxSize bounds the number of contexts a single pool may hold.
const MaxSize = 100000

// ErrPoolClosed is returned by Acquire once Close has been called. It wraps
// errdefs.ErrCanceled.
var ErrPoolClosed = fmt.Errorf("execution pool closed: %w", errdefs.ErrCanceled)

// ResolveSize picks the pool size: an explicit request wins, then the
// engine's optimal count, then 1.
func ResolveSize(requested, optimal int) (int, error) {
	n := requested
	if n <= 0 {
		n = optimal
	}
	if n <= 0 {
		n = 1
	}
	if n > MaxSize {
		return 0, fmt.Errorf("%w: %d execution contexts requested, limit is %d", errdefs.ErrResourceExhausted, n, MaxSize)
	}
	return n, nil
}

// Pool owns N execution contexts.
type Pool struct {
	contexts []engine.ExecutionContext
	sem      *semaphore.Weighted

	closeCtx context.Context
	shutdown context.CancelFunc

	mu      sync.Mutex
	free    []int
	leased  int
	closed  bool
	drained chan struct{}
}

// New creates size contexts from cm. On error every context created so far
// is closed.
func New(cm engine.CompiledModel, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: pool size %d", errdefs.ErrInvalidConfig, size)
	}
	if size > MaxSize {
		return nil, fmt.Errorf("%w: pool size %d exceeds %d", errdefs.ErrResourceExhausted, size, MaxSize)
	}
	p := &Pool{
		contexts: make([]engine.ExecutionContext, 0, size),
		sem:      semaphore.NewWeighted(int64(size)),
		free:     make([]int, 0, size),
		drained:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		ec, err := cm.CreateContext()
		if err != nil {
			for _, c := range p.contexts {
				_ = c.Close()
			}
			return nil, fmt.Errorf("%w: create execution context %d: %v", errdefs.ErrResourceExhausted, i, err)
		}
		p.contexts = append(p.contexts, ec)
		p.free = append(p.free, size-1-i)
	}
	p.closeCtx, p.shutdown = context.WithCancel(context.Background())
	return p, nil
}

// Size returns the configured capacity.
func (p *Pool) Size() int { return len(p.contexts) }

// InUse returns the number of outstanding leases.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased
}

// Acquire blocks until a context is free, ctx ends or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.closeCtx.Err() != nil {
		return nil, ErrPoolClosed
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if p.closeCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrPoolClosed
		}
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.leased++
	p.mu.Unlock()
	return &Lease{pool: p, idx: idx}, nil
}

func (p *Pool) put(idx int) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.leased--
	last := p.closed && p.leased == 0
	p.mu.Unlock()
	p.sem.Release(1)
	if last {
		p.finish()
	}
}

// Close fails pending and future Acquire calls. Contexts are closed once
// the last outstanding lease is released. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.leased == 0
	p.mu.Unlock()
	p.shutdown()
	if idle {
		p.finish()
	}
}

func (p *Pool) finish() {
	for _, c := range p.contexts {
		_ = c.Close()
	}
	close(p.drained)
}

// Drain waits until a closed pool has no outstanding leases.
func (p *Pool) Drain(ctx context.Context) error {
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lease is exclusive use of one execution context.
type Lease struct {
	pool *Pool
	idx  int
	once sync.Once
}

// Context returns the leased execution context. It must not be used after
// Release.
func (l *Lease) Context() engine.ExecutionContext { return l.pool.contexts[l.idx] }

// ID is the index of the leased context within its pool.
func (l *Lease) ID() int { return l.idx }

// Release returns the context to the pool. Extra calls are no-ops.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.pool.put(l.idx) })
}

// IsClosed reports whether err came from a closed pool.
func IsClosed(err error) bool { return errors.Is(err, ErrPoolClosed) }
