package iod

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// gate bounds the number of outstanding ordinary requests. Waiters are
// admitted strictly in arrival order.
type gate struct {
	mu         sync.Mutex
	configured int
	capacity   int
	inUse      int
	dead       bool
	waiters    *list.List // of chan error

	metrics *Metrics
}

func newGate(capacity int, m *Metrics) *gate {
	return &gate{
		configured: capacity,
		capacity:   capacity,
		dead:       true,
		waiters:    list.New(),
		metrics:    m,
	}
}

// Acquire takes a slot, blocking in FIFO order behind earlier callers. It
// fails immediately with ErrConfiguration for a zero capacity and with
// ErrNotConnected while the connection is dead.
func (g *gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.configured == 0 {
		g.mu.Unlock()
		return fmt.Errorf("%w: multiplex capacity is zero", ErrConfiguration)
	}
	if g.dead {
		g.mu.Unlock()
		return ErrNotConnected
	}
	if g.inUse < g.capacity && g.waiters.Len() == 0 {
		g.inUse++
		g.mu.Unlock()
		return nil
	}

	ch := make(chan error, 1)
	elem := g.waiters.PushBack(ch)
	g.metrics.gateWaiters(1)
	g.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		select {
		case err := <-ch:
			// Admitted (or failed) concurrently with cancellation.
			if err == nil {
				g.releaseLocked()
			}
		default:
			g.waiters.Remove(elem)
			g.metrics.gateWaiters(-1)
		}
		return contextError(ctx.Err())
	}
}

// Release returns a slot and admits the next waiter.
func (g *gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
}

func (g *gate) releaseLocked() {
	if g.inUse > 0 {
		g.inUse--
	}
	g.admitLocked()
}

func (g *gate) admitLocked() {
	for g.inUse < g.capacity && g.waiters.Len() > 0 {
		ch := g.waiters.Remove(g.waiters.Front()).(chan error)
		g.metrics.gateWaiters(-1)
		g.inUse++
		ch <- nil
	}
}

// MarkDead fails every waiter with ErrNotConnected and makes later
// Acquire calls fail the same way until MarkAlive.
func (g *gate) MarkDead() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dead = true
	for g.waiters.Len() > 0 {
		ch := g.waiters.Remove(g.waiters.Front()).(chan error)
		g.metrics.gateWaiters(-1)
		ch <- ErrNotConnected
	}
}

// MarkAlive re-opens the gate after a reconnect.
func (g *gate) MarkAlive() {
	g.mu.Lock()
	g.dead = false
	g.mu.Unlock()
}

// SetCapacity lowers or restores the capacity, never above the configured
// maximum and never below one.
func (g *gate) SetCapacity(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configured == 0 {
		return
	}
	g.capacity = min(max(n, 1), g.configured)
	g.admitLocked()
}

// Capacity returns the current capacity.
func (g *gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// InUse returns the number of held slots.
func (g *gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting returns the number of blocked callers.
func (g *gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}
