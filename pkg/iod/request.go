package iod

import (
	"bytes"
	"container/list"
	"time"
)

// RequestState is the lifecycle position of a Request.
type RequestState int

const (
	RequestNotSent RequestState = iota
	RequestSent
	RequestCompleted
)

func (s RequestState) String() string {
	switch s {
	case RequestNotSent:
		return "NotSent"
	case RequestSent:
		return "Sent"
	case RequestCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// RequestOptions tune a single submission.
type RequestOptions struct {
	// Timeout overrides the connection's request timeout: zero keeps the
	// default, a positive value is used only if it is longer than the
	// default, and a negative value is used verbatim (negated).
	Timeout time.Duration

	// MultiPart keeps the request open across fragments until one arrives
	// without the "more" marker.
	MultiPart bool

	// Share is the owning share, used for reachability tracking and for
	// stamping share-scoped fields.
	Share *Share
}

// Request is one outstanding protocol exchange. All mutable fields are
// guarded by the owning table's mutex; a waiter may read the result
// without locking once done is closed.
type Request struct {
	id      uint64
	payload []byte
	opts    RequestOptions

	// internal requests are issued by the daemon itself and bypass the gate.
	internal bool

	state     RequestState
	frames    [][]byte
	err       error
	attempts  int
	stampedID uint64
	stamped   bool
	timeSent  time.Time
	submitted time.Time
	finished  time.Time

	// generation is the connection generation the request was sent under.
	generation uint64

	// epoch counts completions; anything but 1 is a duplicate wakeup.
	epoch uint64

	cancelled bool
	abandoned bool
	holdsSlot bool

	// onDone runs on the daemon after completion, for requests nobody waits on.
	onDone func(*Request)

	done chan struct{}
	elem *list.Element
}

func newRequest(payload []byte, opts RequestOptions) *Request {
	return &Request{
		payload:   payload,
		opts:      opts,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the correlation id the request was sent with. Read it only
// after Done is closed; unsent requests are renumbered across reconnects.
func (r *Request) ID() uint64 { return r.id }

// Done is closed when the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// Share returns the owning share, or nil.
func (r *Request) Share() *Share { return r.opts.Share }

func (r *Request) latency() time.Duration {
	return r.finished.Sub(r.submitted)
}

// response returns the accumulated response bytes. Only valid after done.
func (r *Request) response() []byte {
	switch len(r.frames) {
	case 0:
		return nil
	case 1:
		return r.frames[0]
	default:
		return bytes.Join(r.frames, nil)
	}
}

// Fragments returns the individual frames received for a completed
// multi-part request. Only valid after Done is closed.
func (r *Request) Fragments() [][]byte {
	select {
	case <-r.done:
		return r.frames
	default:
		return nil
	}
}
