// Package iod implements a per-connection client engine for stateful
// network filesystem protocols.
//
// A Connection owns one transport and one daemon goroutine. The daemon
// drives the connection state machine
//
//	NotConnected -> Reconnecting -> TransportActive -> NegotiateActive
//	             -> SessionSetup -> Active -> Dead
//
// from control Events, sends queued Requests in FIFO order, matches
// responses to Requests by correlation id, times out unresponsive exchanges
// and probes idle connections with keepalives. Application goroutines only
// ever Submit Requests, Wait for them, and post Events; every state
// transition and every transport call happens on the daemon goroutine.
//
// Wire formats are supplied by a Dialect. Share reachability changes and
// dead connections are reported through a Notifier.
package iod
