package client

// Credit-related constants
const (
	// DefaultCreditRequest is the number of credits each request asks for.
	// Servers grant up to this many per response, which grows the window
	// until it reaches the server's limit.
	DefaultCreditRequest = 64

	// MaximumCreditWindow caps the capacity reported to the engine.
	MaximumCreditWindow = 8192

	// initialCredits is the implicit grant a client starts every
	// connection with, enough for the NEGOTIATE request.
	initialCredits = 1
)

// creditWindow tracks the credits a server has granted on this
// connection. Each stamped request consumes one credit; each response
// returns the credits the server granted in its header. [MS-SMB2] 3.2.4.1.5
//
// The multiplex capacity is the balance plus the requests already
// charged: that is how many requests may be outstanding at once.
type creditWindow struct {
	balance  int
	inflight int
}

func (w *creditWindow) reset() {
	w.balance = initialCredits
	w.inflight = 0
}

// charge accounts for one outgoing request.
func (w *creditWindow) charge() {
	w.balance--
	w.inflight++
}

// grant accounts for an inbound response. Interim responses grant
// credits but leave the request outstanding.
func (w *creditWindow) grant(credits uint16, final bool) {
	w.balance += int(credits)
	if final && w.inflight > 0 {
		w.inflight--
	}
}

// capacity returns the concurrency window, at least one.
func (w *creditWindow) capacity() int {
	c := w.balance + w.inflight
	switch {
	case c < 1:
		return 1
	case c > MaximumCreditWindow:
		return MaximumCreditWindow
	default:
		return c
	}
}
