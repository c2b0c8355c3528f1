package iod

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for connections and requests. All
// methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// RequestsTotal counts completed requests by outcome (see Kind).
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes submit-to-completion latency in seconds.
	RequestDuration prometheus.Histogram

	// Outstanding tracks requests submitted but not yet completed.
	Outstanding prometheus.Gauge

	// GateWaiters tracks callers blocked on the multiplex gate.
	GateWaiters prometheus.Gauge

	// Transitions counts state transitions by target state.
	Transitions *prometheus.CounterVec

	// EventsTotal counts handled events by kind and outcome.
	EventsTotal *prometheus.CounterVec

	// FramesDropped counts discarded inbound frames by reason:
	// "malformed", "orphan", "duplicate", "unsolicited".
	FramesDropped *prometheus.CounterVec

	// Keepalives counts injected keepalive probes.
	Keepalives prometheus.Counter

	// Unreachable counts share unreachable notifications.
	Unreachable prometheus.Counter
}

// NewMetrics creates metrics and registers them with reg. If reg is nil
// the metrics are created but not registered. Metrics already registered
// by an earlier call are reused, so several managers can share a registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns, sub = "smbiod", "engine"
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_total",
			Help: "Completed requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "request_duration_seconds",
			Help:    "Time from submission to completion",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 18), // 0.5ms to ~65s
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "outstanding_requests",
			Help: "Requests submitted and not yet completed",
		}),
		GateWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "gate_waiters",
			Help: "Callers blocked on the multiplex gate",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "state_transitions_total",
			Help: "Connection state transitions by target state",
		}, []string{"state"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "events_total",
			Help: "Handled control events by kind and outcome",
		}, []string{"event", "outcome"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "frames_dropped_total",
			Help: "Inbound frames discarded by reason",
		}, []string{"reason"}),
		Keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "keepalives_total",
			Help: "Keepalive probes sent",
		}),
		Unreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "share_unreachable_total",
			Help: "Share unreachable notifications",
		}),
	}

	if reg != nil {
		m.RequestsTotal = register(reg, m.RequestsTotal)
		m.RequestDuration = register(reg, m.RequestDuration)
		m.Outstanding = register(reg, m.Outstanding)
		m.GateWaiters = register(reg, m.GateWaiters)
		m.Transitions = register(reg, m.Transitions)
		m.EventsTotal = register(reg, m.EventsTotal)
		m.FramesDropped = register(reg, m.FramesDropped)
		m.Keepalives = register(reg, m.Keepalives)
		m.Unreachable = register(reg, m.Unreachable)
	}
	return m
}

// register registers c, returning the existing collector if an identical
// one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) submitted() {
	if m == nil {
		return
	}
	m.Outstanding.Inc()
}

func (m *Metrics) completed(req *Request) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(Kind(req.err)).Inc()
	if !req.internal {
		m.Outstanding.Dec()
		m.RequestDuration.Observe(req.latency().Seconds())
	}
}

func (m *Metrics) gateWaiters(delta float64) {
	if m == nil {
		return
	}
	m.GateWaiters.Add(delta)
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) event(kind EventKind, err error) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind.String(), Kind(err)).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) keepalive() {
	if m == nil {
		return
	}
	m.Keepalives.Inc()
}

func (m *Metrics) unreachable() {
	if m == nil {
		return
	}
	m.Unreachable.Inc()
}
