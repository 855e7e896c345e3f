package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
)

// Factory opens a new underlying client.
type Factory[T any] func(ctx context.Context) (T, error)

// Destroyer closes a client. Errors are ignored by the pool.
type Destroyer[T any] func(client T) error

type Config struct {
	Name           string
	Size           int
	AcquireTimeout time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Size:           5,
		AcquireTimeout: 30 * time.Second,
	}
}

type Stats struct {
	Size    int  `json:"size"`
	Created int  `json:"created"`
	Idle    int  `json:"idle"`
	InUse   int  `json:"inUse"`
	Waiting int  `json:"waiting"`
	Drained bool `json:"drained"`
}

type handoff[T any] struct {
	client T
	// slot means the waiter was granted capacity to create its own client.
	slot bool
	err  error
}

type waiter[T any] struct {
	ch chan handoff[T]
}

// Pool hands out at most Size clients. Waiters are served strictly in arrival order.
type Pool[T comparable] struct {
	cfg     Config
	factory Factory[T]
	destroy Destroyer[T]

	mu      sync.Mutex
	idle    []T
	inUse   map[T]struct{}
	created int
	waiters *list.List
	drained bool
}

func New[T comparable](cfg Config, factory Factory[T], destroy Destroyer[T]) *Pool[T] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	return &Pool[T]{
		cfg:     cfg,
		factory: factory,
		destroy: destroy,
		inUse:   make(map[T]struct{}),
		waiters: list.New(),
	}
}

// Acquire returns an idle client, creates one while under capacity, or parks the caller
// until a client is released. A parked caller gives up with PoolTimeout after AcquireTimeout.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	start := time.Now()

	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		p.observe("drained", start)
		return zero, errors.ErrPoolDrained.Newf("pool %q has been drained", p.cfg.Name)
	}

	if n := len(p.idle); n > 0 {
		client := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[client] = struct{}{}
		p.mu.Unlock()
		p.observe("idle", start)
		return client, nil
	}

	if p.created < p.cfg.Size {
		p.created++
		p.mu.Unlock()
		client, err := p.create(ctx)
		p.observe("created", start)
		return client, err
	}

	w := &waiter[T]{ch: make(chan handoff[T], 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()
	p.publish()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	var h handoff[T]
	select {
	case h = <-w.ch:
	case <-timer.C:
		if got, ok := p.abandon(elem, w); ok {
			h = got
			break
		}
		p.observe("timeout", start)
		return zero, errors.ErrPoolTimeout.Newf("pool %q acquire timeout after %s", p.cfg.Name, p.cfg.AcquireTimeout).
			WithDetail("pool", p.cfg.Name).
			WithDetail("timeoutMs", p.cfg.AcquireTimeout.Milliseconds())
	case <-ctx.Done():
		if got, ok := p.abandon(elem, w); ok {
			p.giveBack(got)
		}
		p.observe("cancelled", start)
		return zero, ctx.Err()
	}

	if h.err != nil {
		p.observe("drained", start)
		return zero, h.err
	}
	if h.slot {
		client, err := p.create(ctx)
		p.observe("created", start)
		return client, err
	}
	p.observe("handoff", start)
	return h.client, nil
}

// abandon removes a waiter that gave up. If a handoff raced ahead of the removal, the
// handoff is returned and the caller owns it.
func (p *Pool[T]) abandon(elem *list.Element, w *waiter[T]) (handoff[T], bool) {
	p.mu.Lock()
	removed := false
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			p.waiters.Remove(e)
			removed = true
			break
		}
	}
	p.mu.Unlock()
	p.publish()

	if removed {
		return handoff[T]{}, false
	}
	return <-w.ch, true
}

func (p *Pool[T]) giveBack(h handoff[T]) {
	switch {
	case h.err != nil:
	case h.slot:
		p.releaseSlot()
	default:
		p.Release(h.client)
	}
}

func (p *Pool[T]) create(ctx context.Context) (T, error) {
	client, err := p.factory(ctx)
	if err != nil {
		var zero T
		p.releaseSlot()
		return zero, err
	}

	p.mu.Lock()
	if p.drained {
		p.created--
		p.mu.Unlock()
		p.close(client)
		var zero T
		return zero, errors.ErrPoolDrained.Newf("pool %q has been drained", p.cfg.Name)
	}
	p.inUse[client] = struct{}{}
	p.mu.Unlock()
	p.publish()
	return client, nil
}

// releaseSlot returns unused capacity, handing it to the oldest waiter if any.
func (p *Pool[T]) releaseSlot() {
	p.mu.Lock()
	if front := p.waiters.Front(); front != nil && !p.drained {
		w := p.waiters.Remove(front).(*waiter[T])
		p.mu.Unlock()
		w.ch <- handoff[T]{slot: true}
		p.publish()
		return
	}
	p.created--
	p.mu.Unlock()
	p.publish()
}

// Release returns a client. The oldest parked waiter receives it directly.
func (p *Pool[T]) Release(client T) {
	p.mu.Lock()
	if _, ok := p.inUse[client]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, client)

	if p.drained {
		p.created--
		p.mu.Unlock()
		p.close(client)
		return
	}

	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter[T])
		p.inUse[client] = struct{}{}
		p.mu.Unlock()
		w.ch <- handoff[T]{client: client}
		p.publish()
		return
	}

	p.idle = append(p.idle, client)
	p.mu.Unlock()
	p.publish()
}

// Discard closes a broken client and frees its slot.
func (p *Pool[T]) Discard(client T) {
	p.mu.Lock()
	if _, ok := p.inUse[client]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, client)
	p.mu.Unlock()

	p.close(client)
	p.releaseSlot()
}

// Drain closes idle clients, rejects parked and future acquires with PoolDrained, and
// closes in-use clients as they are released.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return
	}
	p.drained = true
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)

	var parked []*waiter[T]
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		parked = append(parked, e.Value.(*waiter[T]))
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, w := range parked {
		w.ch <- handoff[T]{err: errors.ErrPoolDrained.Newf("pool %q has been drained", p.cfg.Name)}
	}
	for _, client := range idle {
		p.close(client)
	}
	p.publish()
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.cfg.Size,
		Created: p.created,
		Idle:    len(p.idle),
		InUse:   len(p.inUse),
		Waiting: p.waiters.Len(),
		Drained: p.drained,
	}
}

func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

func (p *Pool[T]) close(client T) {
	if p.destroy != nil {
		_ = p.destroy(client)
	}
}

func (p *Pool[T]) publish() {
	s := p.Stats()
	metrics.SetPoolClients(p.cfg.Name, s.Idle, s.InUse, s.Waiting)
}

func (p *Pool[T]) observe(status string, start time.Time) {
	metrics.ObservePoolAcquire(p.cfg.Name, status, time.Since(start))
}
