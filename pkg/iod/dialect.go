package iod

import "context"

// Exchanger performs one request/response exchange on behalf of the
// daemon. It is only valid inside Dialect callbacks.
type Exchanger interface {
	Exchange(ctx context.Context, payload []byte, share *Share) ([]byte, error)
}

// Negotiated carries what the dialect learned during negotiation.
type Negotiated struct {
	// Dialect names the negotiated protocol revision, for logs.
	Dialect string

	// MaxOutstanding is the server's initial concurrency grant; zero
	// means no limit beyond the configured one.
	MaxOutstanding int
}

// FrameInfo is what the engine needs to know about an inbound frame.
type FrameInfo struct {
	// ID is the correlation id the frame answers.
	ID uint64

	// Interim marks a "still working" reply: the request stays Sent and
	// its timeout restarts.
	Interim bool

	// More marks a non-terminal fragment of a multi-part response.
	More bool
}

// Dialect supplies the wire format of one protocol. All methods are called
// from the daemon goroutine only.
type Dialect interface {
	// Reset forgets per-session state before a new transport is opened.
	Reset()

	// Negotiate runs the protocol negotiation exchange.
	Negotiate(ctx context.Context, ex Exchanger) (*Negotiated, error)

	// Authenticate establishes the session.
	Authenticate(ctx context.Context, ex Exchanger) error

	// AttachShare attaches share and returns its attach id.
	AttachShare(ctx context.Context, ex Exchanger, share *Share) (uint64, error)

	// Logoff tears the session down gracefully.
	Logoff(ctx context.Context, ex Exchanger) error

	// KeepalivePayload builds a lightweight liveness probe.
	KeepalivePayload() ([]byte, error)

	// Stamp writes the correlation id and session-scoped fields into an
	// outgoing payload in place.
	Stamp(payload []byte, id uint64, share *Share) error

	// ParseFrame validates an inbound frame structurally and extracts its
	// correlation id.
	ParseFrame(frame []byte) (FrameInfo, error)
}

// CapacityReporter is implemented by dialects whose server grants a
// varying concurrency window. The gate follows it after every receive.
type CapacityReporter interface {
	Capacity() int
}

// ShareDetacher is implemented by dialects that release attached shares
// before logging off during a graceful disconnect.
type ShareDetacher interface {
	DetachShare(ctx context.Context, ex Exchanger, share *Share) error
}
