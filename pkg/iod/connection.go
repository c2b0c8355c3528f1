package iod

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/telemetry"
	"github.com/marmos91/smbiod/pkg/transport"
)

// Options configures a Connection.
type Options struct {
	// ID identifies the connection in logs and metrics. Defaults to the
	// server address.
	ID string

	Config   Config
	Notifier Notifier
	Metrics  *Metrics
}

// Connection is one logical session to one server endpoint. It owns the
// transport, the request table, the event queue and the multiplex gate,
// and runs a single daemon goroutine that performs every transport call
// and state transition.
type Connection struct {
	id       string
	server   string
	cfg      Config
	tr       transport.Transport
	dialect  Dialect
	notifier Notifier
	metrics  *Metrics
	logCtx   context.Context

	table  *table
	gate   *gate
	events eventQueue

	state      atomic.Int32
	generation atomic.Uint64
	negotiated atomic.Pointer[Negotiated]

	wake         chan struct{}
	quit         chan struct{}
	stopped      chan struct{}
	shutdownOnce sync.Once

	sharesMu sync.Mutex
	shares   map[string]*Share

	stats connStats

	// Owned by the daemon goroutine.
	timer       *time.Timer
	shutdown    bool
	lastSend    time.Time
	lastRecv    time.Time
	sendRetryAt time.Time
	keepalive   *Request
	exchanger   Exchanger
}

type connStats struct {
	sent       atomic.Uint64
	completed  atomic.Uint64
	timeouts   atomic.Uint64
	failures   atomic.Uint64
	keepalives atomic.Uint64
	lastSend   atomic.Int64
	lastRecv   atomic.Int64
}

// Stats is a point-in-time snapshot of a connection.
type Stats struct {
	ID           string
	Server       string
	State        State
	Generation   uint64
	Dialect      string
	Queued       int
	InFlight     int
	GateCapacity int
	GateInUse    int
	GateWaiting  int
	Sent         uint64
	Completed    uint64
	Timeouts     uint64
	Failures     uint64
	Keepalives   uint64
	LastSend     time.Time
	LastReceive  time.Time
}

// NewConnection creates a connection to server and starts its daemon. The
// connection starts NotConnected; post EventConnect (or call Establish)
// to bring it up.
func NewConnection(server string, tr transport.Transport, d Dialect, opts Options) (*Connection, error) {
	if tr == nil || d == nil {
		return nil, fmt.Errorf("%w: transport and dialect are required", ErrConfiguration)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.ID == "" {
		opts.ID = server
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}

	c := &Connection{
		id:       opts.ID,
		server:   server,
		cfg:      opts.Config,
		tr:       tr,
		dialect:  d,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		table:    newTable(),
		gate:     newGate(opts.Config.MaxOutstanding, opts.Metrics),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		shares:   make(map[string]*Share),
	}
	c.exchanger = daemonExchanger{c}
	c.logCtx = logger.WithContext(context.Background(), &logger.LogContext{ConnID: c.id, Server: server})
	tr.SetReadyFunc(c.wakeup)

	if opts.Config.MaxOutstanding == 0 {
		logger.ErrorCtx(c.logCtx, "Multiplex capacity is zero, every request will be rejected")
	}

	go c.run()
	return c, nil
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Server returns the remote endpoint address.
func (c *Connection) Server() string { return c.server }

// State returns the current state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Generation returns the number of successful negotiations so far.
func (c *Connection) Generation() uint64 { return c.generation.Load() }

// Negotiated returns the result of the last successful negotiation, or nil.
func (c *Connection) Negotiated() *Negotiated { return c.negotiated.Load() }

// Done is closed once the daemon has exited.
func (c *Connection) Done() <-chan struct{} { return c.stopped }

// Shares returns the shares attached on this connection, sorted by name.
func (c *Connection) Shares() []*Share {
	c.sharesMu.Lock()
	defer c.sharesMu.Unlock()
	out := make([]*Share, 0, len(c.shares))
	for _, s := range c.shares {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() Stats {
	queued, inflight := c.table.counts()
	s := Stats{
		ID:           c.id,
		Server:       c.server,
		State:        c.State(),
		Generation:   c.Generation(),
		Queued:       queued,
		InFlight:     inflight,
		GateCapacity: c.gate.Capacity(),
		GateInUse:    c.gate.InUse(),
		GateWaiting:  c.gate.Waiting(),
		Sent:         c.stats.sent.Load(),
		Completed:    c.stats.completed.Load(),
		Timeouts:     c.stats.timeouts.Load(),
		Failures:     c.stats.failures.Load(),
		Keepalives:   c.stats.keepalives.Load(),
	}
	if n := c.Negotiated(); n != nil {
		s.Dialect = n.Dialect
	}
	if ns := c.stats.lastSend.Load(); ns != 0 {
		s.LastSend = time.Unix(0, ns)
	}
	if ns := c.stats.lastRecv.Load(); ns != 0 {
		s.LastReceive = time.Unix(0, ns)
	}
	return s
}

// Submit queues payload for sending and returns its handle. It blocks on
// the multiplex gate until a slot is free, ctx is done or the connection
// dies. The daemon stamps the correlation id into payload when it is sent.
func (c *Connection) Submit(ctx context.Context, payload []byte, opts RequestOptions) (*Request, error) {
	select {
	case <-c.quit:
		return nil, ErrClosed
	default:
	}
	if st := c.State(); st == StateNotConnected || st == StateDead {
		return nil, fmt.Errorf("%w: connection is %s", ErrNotConnected, st)
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	req := newRequest(payload, opts)
	req.holdsSlot = true
	if err := c.table.insert(req); err != nil {
		c.gate.Release()
		return nil, err
	}
	c.metrics.submitted()
	c.wakeup()
	return req, nil
}

// Wait blocks until req completes or ctx is done. On completion the
// request is removed from the table and its response returned. If ctx
// expires the request stays queued so a late response is discarded
// safely; if ctx is cancelled the daemon fails it as interrupted.
func (c *Connection) Wait(ctx context.Context, req *Request) ([]byte, error) {
	select {
	case <-req.done:
		c.table.remove(req)
		return req.response(), req.err
	case <-ctx.Done():
	}

	c.table.mu.Lock()
	if req.state == RequestCompleted {
		c.table.mu.Unlock()
		c.table.remove(req)
		return req.response(), req.err
	}
	req.abandoned = true
	if errors.Is(ctx.Err(), context.Canceled) {
		req.cancelled = true
	}
	c.table.mu.Unlock()

	c.wakeup()
	return nil, contextError(ctx.Err())
}

// Cancel asks the daemon to fail req with ErrInterrupted on its next
// iteration. The network exchange itself is not aborted.
func (c *Connection) Cancel(req *Request) {
	c.table.mu.Lock()
	if req.state != RequestCompleted {
		req.cancelled = true
	}
	c.table.mu.Unlock()
	c.wakeup()
}

// Call submits payload and waits for its response.
func (c *Connection) Call(ctx context.Context, payload []byte, opts RequestOptions) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCall, telemetry.ConnID(c.id))
	defer span.End()

	req, err := c.Submit(ctx, payload, opts)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	resp, err := c.Wait(ctx, req)
	if err == nil {
		span.SetAttributes(telemetry.MessageID(req.ID()))
	}
	span.SetAttributes(telemetry.ErrorKind(Kind(err)))
	telemetry.RecordError(ctx, err)
	return resp, err
}

// PostEvent queues a control event. With sync set it waits until the
// daemon has handled the event and returns its result; the event is
// handled even if ctx expires first.
func (c *Connection) PostEvent(ctx context.Context, kind EventKind, share *Share, sync bool) error {
	if kind == EventAttachShare && share == nil {
		return fmt.Errorf("%w: attach requires a share", ErrConfiguration)
	}

	evCtx := ctx
	if !sync {
		evCtx = context.WithoutCancel(ctx)
	}
	ev := &Event{Kind: kind, Share: share, ctx: evCtx, sync: sync, done: make(chan struct{})}
	if !c.events.push(ev) {
		return ErrClosed
	}
	c.wakeup()

	if !sync {
		return nil
	}
	select {
	case <-ev.done:
		return ev.err
	case <-ctx.Done():
		return contextError(ctx.Err())
	case <-c.stopped:
		select {
		case <-ev.done:
			return ev.err
		default:
			return ErrClosed
		}
	}
}

// Establish brings the connection up synchronously: connect, negotiate,
// authenticate, then attach each share in order.
func (c *Connection) Establish(ctx context.Context, shares ...*Share) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanConnect, telemetry.ConnID(c.id), telemetry.Server(c.server))
	defer span.End()

	steps := []EventKind{EventConnect, EventNegotiate, EventAuthenticate}
	for _, kind := range steps {
		if err := c.PostEvent(ctx, kind, nil, true); err != nil {
			telemetry.RecordError(ctx, err)
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	for _, s := range shares {
		if err := c.PostEvent(ctx, EventAttachShare, s, true); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}
	return nil
}

// Shutdown stops the daemon and releases the transport. Outstanding
// requests and queued events fail with ErrClosed. It is safe to call more
// than once; every call waits for the daemon to exit or ctx to be done.
func (c *Connection) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		ev := &Event{Kind: EventShutdown, ctx: context.Background(), done: make(chan struct{})}
		c.events.push(ev)
		close(c.quit)
		c.wakeup()
	})

	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wakeup nudges the daemon out of its wait. It never blocks.
func (c *Connection) wakeup() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

type daemonExchanger struct{ c *Connection }

func (x daemonExchanger) Exchange(ctx context.Context, payload []byte, share *Share) ([]byte, error) {
	return x.c.exchange(ctx, payload, share)
}
