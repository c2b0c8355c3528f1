package iod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/telemetry"
)

// run is the daemon loop. Each iteration drains the event queue, then runs
// the send pump, the receive pump and the supervisor, then sleeps until
// woken or the next deadline.
func (c *Connection) run() {
	defer close(c.stopped)
	defer c.teardown()

	c.timer = time.NewTimer(c.cfg.TickInterval)
	defer c.timer.Stop()

	logger.DebugCtx(c.logCtx, "Connection daemon started")
	for {
		c.processEvents()
		if c.shutdown {
			return
		}
		c.pump()
		c.sleep(nil)
	}
}

// pump runs one pass over the request table.
func (c *Connection) pump() {
	c.sendPump()
	c.recvPump()
	c.failCancelled()
	c.supervise(time.Now())
}

// sleep blocks until a wakeup, the next deadline, shutdown or done.
func (c *Connection) sleep(done <-chan struct{}) {
	c.timer.Reset(c.nextDeadline(time.Now()))
	select {
	case <-c.wake:
	case <-c.timer.C:
	case <-c.quit:
	case <-done:
	}
}

// nextDeadline returns how long the daemon may sleep before some request
// times out, a keepalive is due or a send retry is allowed.
func (c *Connection) nextDeadline(now time.Time) time.Duration {
	d := c.cfg.TickInterval
	consider := func(at time.Time) {
		if dd := at.Sub(now); dd < d {
			d = dd
		}
	}

	if c.State().connected() {
		for _, req := range c.table.snapshot(RequestSent) {
			consider(req.timeSent.Add(c.cfg.effectiveTimeout(req.opts.Timeout) + time.Millisecond))
		}
	}
	if c.State() == StateActive && c.keepalive == nil {
		consider(latest(c.lastSend, c.lastRecv).Add(c.cfg.KeepaliveInterval))
	}
	if c.sendRetryAt.After(now) {
		consider(c.sendRetryAt)
	}
	return max(d, time.Millisecond)
}

func (c *Connection) processEvents() {
	for {
		ev := c.events.pop()
		if ev == nil {
			return
		}
		ev.finish(c.dispatch(ev))
		if c.shutdown {
			return
		}
	}
}

// dispatch handles one event if the current state accepts it.
func (c *Connection) dispatch(ev *Event) error {
	st := c.State()
	lc := logger.FromContext(c.logCtx).WithEvent(ev.Kind.String())
	if ev.Share != nil {
		lc = lc.WithShare(ev.Share.Name)
	}
	ctx := logger.WithContext(ev.ctx, lc)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanEvent,
		telemetry.ConnID(c.id),
		telemetry.Event(ev.Kind.String()),
		telemetry.State(st.String()))
	defer span.End()
	ctx = telemetry.LogContext(ctx)

	var err error
	if !st.Accepts(ev.Kind) {
		err = fmt.Errorf("%w: %s in state %s", ErrInvalidState, ev.Kind, st)
	} else {
		switch ev.Kind {
		case EventConnect:
			err = c.doConnect(ctx)
		case EventNegotiate:
			err = c.doNegotiate(ctx)
		case EventAuthenticate:
			err = c.doAuthenticate(ctx)
		case EventAttachShare:
			err = c.doAttach(ctx, ev.Share)
		case EventDisconnect:
			c.doDisconnect(ctx)
		case EventShutdown:
			c.shutdown = true
		case EventNewRequest:
			// Nothing to do; the pumps run after the queue drains.
		}
	}

	c.metrics.event(ev.Kind, err)
	telemetry.RecordError(ctx, err)
	if err != nil {
		c.stats.failures.Add(1)
		logger.DebugCtx(ctx, "Event failed", logger.KeyState, st.String(), logger.Err(err))
	}
	return err
}

func (c *Connection) doConnect(ctx context.Context) error {
	c.setState(StateReconnecting)
	c.dialect.Reset()
	c.table.reset()
	c.sendRetryAt = time.Time{}

	if err := c.tr.Open(); err != nil {
		return c.fail(ctx, "open transport", err)
	}
	if c.cfg.LocalAddr != "" {
		if err := c.tr.Bind(c.cfg.LocalAddr); err != nil {
			return c.fail(ctx, "bind "+c.cfg.LocalAddr, err)
		}
	}
	c.gate.MarkAlive()
	c.gate.SetCapacity(c.cfg.MaxOutstanding)
	return nil
}

func (c *Connection) doNegotiate(ctx context.Context) error {
	if err := c.tr.Connect(ctx, c.server); err != nil {
		return c.fail(ctx, "connect", err)
	}
	now := time.Now()
	c.noteSend(now)
	c.noteRecv(now)
	c.setState(StateTransportActive)

	neg, err := c.dialect.Negotiate(ctx, c.exchanger)
	if err != nil {
		return c.fail(ctx, "negotiate", err)
	}

	gen := c.generation.Add(1)
	c.negotiated.Store(neg)
	c.failStale(gen)
	if neg != nil && neg.MaxOutstanding > 0 {
		c.gate.SetCapacity(neg.MaxOutstanding)
	}
	telemetry.SetAttributes(ctx, telemetry.Generation(gen))
	c.setState(StateNegotiateActive)
	if neg != nil {
		logger.InfoCtx(ctx, "Negotiated", logger.KeyDialect, neg.Dialect, logger.KeyGeneration, gen)
	}
	return nil
}

func (c *Connection) doAuthenticate(ctx context.Context) error {
	c.setState(StateSessionSetup)
	if err := c.dialect.Authenticate(ctx, c.exchanger); err != nil {
		return c.fail(ctx, "authenticate", err)
	}
	c.setState(StateActive)
	if n := c.table.goLive(); n > 0 {
		logger.DebugCtx(ctx, "Released parked requests", logger.KeyOutstanding, n)
	}
	c.updateCapacity()
	c.wakeup()
	return nil
}

func (c *Connection) doAttach(ctx context.Context, share *Share) error {
	if c.State() == StateDead {
		return fmt.Errorf("%w: connection is dead", ErrNotConnected)
	}
	share.beginAttach()
	id, err := c.dialect.AttachShare(ctx, c.exchanger, share)
	share.finishAttach(id, err)
	if err != nil {
		return fmt.Errorf("attach %s: %w", share.Name, err)
	}

	c.sharesMu.Lock()
	c.shares[share.Name] = share
	c.sharesMu.Unlock()
	c.markReachable(ctx, share)
	logger.InfoCtx(ctx, "Share attached", logger.KeyShare, share.Name)
	return nil
}

// doDisconnect is a graceful teardown. Logoff is best effort.
func (c *Connection) doDisconnect(ctx context.Context) {
	if c.State() == StateActive {
		lctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		if d, ok := c.dialect.(ShareDetacher); ok {
			for _, s := range c.Shares() {
				if !s.Attached() {
					continue
				}
				if err := d.DetachShare(lctx, c.exchanger, s); err != nil {
					logger.DebugCtx(ctx, "Detach failed", logger.KeyShare, s.Name, logger.Err(err))
				}
			}
		}
		if err := c.dialect.Logoff(lctx, c.exchanger); err != nil {
			logger.DebugCtx(ctx, "Logoff failed", logger.Err(err))
		}
		cancel()
	}

	c.table.stop()
	c.gate.MarkDead()
	if err := c.tr.Disconnect(); err != nil {
		logger.DebugCtx(ctx, "Transport disconnect failed", logger.Err(err))
	}
	c.setState(StateNotConnected)
	for _, req := range c.table.outstanding() {
		c.complete(req, fmt.Errorf("%w: disconnected", ErrNotConnected))
	}

	c.sharesMu.Lock()
	for name, s := range c.shares {
		s.detach()
		delete(c.shares, name)
	}
	c.sharesMu.Unlock()
}

// fail moves the connection to Dead unless a pump already did, and returns
// the step error for the event's caller.
func (c *Connection) fail(ctx context.Context, step string, err error) error {
	err = fmt.Errorf("%s: %w", step, err)
	if c.State() != StateDead {
		c.enterDead(ctx, err)
	}
	return err
}

// enterDead tears down the transport and fails every outstanding request.
// Sent requests get ErrConnectionLost when the transport broke, and
// ErrNotConnected otherwise; unsent requests always get ErrNotConnected.
func (c *Connection) enterDead(ctx context.Context, cause error) {
	c.table.stop()
	c.gate.MarkDead()
	_ = c.tr.Disconnect()
	c.setState(StateDead)
	c.sendRetryAt = time.Time{}

	lost := errors.Is(cause, ErrConnectionLost)
	affected := make(map[*Share]struct{})
	for _, req := range c.table.outstanding() {
		err := fmt.Errorf("%w: %w", ErrNotConnected, cause)
		if req.state == RequestSent {
			if lost {
				err = cause
			}
			if s := req.opts.Share; s != nil {
				affected[s] = struct{}{}
			}
		}
		c.complete(req, err)
	}

	logger.WarnCtx(ctx, "Connection dead", logger.Err(cause))
	for s := range affected {
		c.markUnreachable(ctx, s)
	}
	c.notifier.OnConnectionDead(c)
}

// failStale fails requests sent under an earlier generation; their
// responses can never arrive on the new transport.
func (c *Connection) failStale(gen uint64) {
	for _, req := range c.table.snapshot(RequestSent) {
		if req.generation < gen {
			c.complete(req, ErrReconnected)
		}
	}
}

func (c *Connection) failCancelled() {
	for _, req := range c.table.outstanding() {
		c.table.mu.Lock()
		cancelled := req.cancelled
		c.table.mu.Unlock()
		if cancelled {
			c.complete(req, ErrInterrupted)
		}
	}
}

// complete finishes req exactly once: records the result, wakes the
// waiter, returns the gate slot and runs the completion hook.
func (c *Connection) complete(req *Request, err error) bool {
	c.table.mu.Lock()
	if req.state == RequestCompleted {
		c.table.mu.Unlock()
		return false
	}
	req.state = RequestCompleted
	req.err = err
	req.epoch++
	req.finished = time.Now()
	if req.abandoned || req.onDone != nil {
		c.table.removeLocked(req)
	}
	c.table.mu.Unlock()

	close(req.done)
	if req.holdsSlot {
		c.gate.Release()
	}
	c.stats.completed.Add(1)
	if errors.Is(err, ErrTimeout) {
		c.stats.timeouts.Add(1)
	}
	c.metrics.completed(req)
	if req.onDone != nil {
		req.onDone(req)
	}
	return true
}

// exchange runs one internal request to completion on the daemon
// goroutine, pumping the table while it waits.
func (c *Connection) exchange(ctx context.Context, payload []byte, share *Share) ([]byte, error) {
	req := newRequest(payload, RequestOptions{Share: share})
	req.internal = true
	if err := c.table.insert(req); err != nil {
		return nil, err
	}
	defer c.table.remove(req)

	for {
		c.pump()
		select {
		case <-req.done:
			return req.response(), req.err
		default:
		}

		select {
		case <-ctx.Done():
			c.complete(req, contextError(ctx.Err()))
			return nil, req.err
		case <-c.quit:
			c.complete(req, ErrClosed)
			return nil, ErrClosed
		default:
		}
		c.sleep(ctx.Done())
	}
}

// teardown runs once when the daemon exits.
func (c *Connection) teardown() {
	c.table.stop()
	c.gate.MarkDead()
	if err := c.tr.Disconnect(); err != nil {
		logger.DebugCtx(c.logCtx, "Transport disconnect failed", logger.Err(err))
	}
	for _, req := range c.table.outstanding() {
		c.complete(req, ErrClosed)
	}
	for _, ev := range c.events.close() {
		ev.finish(ErrClosed)
	}
	logger.InfoCtx(c.logCtx, "Connection daemon stopped", logger.KeyState, c.State().String())
}

func (c *Connection) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.metrics.transition(to)
	logger.InfoCtx(c.logCtx, "Connection state changed",
		logger.KeyFromState, from.String(),
		logger.KeyState, to.String())
}

// updateCapacity follows the dialect's current credit grant, if it reports one.
func (c *Connection) updateCapacity() {
	if cr, ok := c.dialect.(CapacityReporter); ok {
		if n := cr.Capacity(); n > 0 {
			c.gate.SetCapacity(n)
		}
	}
}

func (c *Connection) markReachable(ctx context.Context, s *Share) {
	if s.setReachable(true) {
		logger.InfoCtx(ctx, "Share reachable", logger.KeyShare, s.Name)
		c.notifier.OnShareReachable(s)
	}
}

func (c *Connection) markUnreachable(ctx context.Context, s *Share) {
	if s.setReachable(false) {
		c.metrics.unreachable()
		logger.WarnCtx(ctx, "Share unreachable", logger.KeyShare, s.Name)
		c.notifier.OnShareUnreachable(s)
	}
}

func (c *Connection) noteSend(now time.Time) {
	c.lastSend = now
	c.stats.lastSend.Store(now.UnixNano())
}

func (c *Connection) noteRecv(now time.Time) {
	c.lastRecv = now
	c.stats.lastRecv.Store(now.UnixNano())
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
