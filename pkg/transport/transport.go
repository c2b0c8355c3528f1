// Package transport defines the byte-level connection a Connection Daemon
// drives and provides a TCP implementation with NetBIOS session framing.
//
// A Transport is owned by exactly one goroutine (the daemon) for Open, Bind,
// Connect, Send and Disconnect. Receive never blocks: it returns the next
// complete frame or ErrWouldBlock, and the ready callback fires whenever a
// new frame (or a terminal error) becomes available.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrWouldBlock is returned by Receive when no complete frame is queued.
	ErrWouldBlock = errors.New("transport: would block")

	// ErrNotConnected is returned when Send or Receive is used before
	// Connect or after Disconnect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrFraming indicates the peer sent bytes that cannot be framed. The
	// stream position is lost, so it is always fatal.
	ErrFraming = errors.New("transport: framing error")

	// ErrFrameTooLarge is returned by Send for payloads that do not fit in
	// one session frame.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// Transport is the connection primitive consumed by the engine.
type Transport interface {
	// Open prepares a fresh endpoint. Any previous connection is dropped.
	Open() error

	// Bind fixes the local address used by the next Connect. Optional.
	Bind(localAddr string) error

	// Connect establishes the connection to remoteAddr.
	Connect(ctx context.Context, remoteAddr string) error

	// Send writes one complete frame and returns the payload bytes written.
	Send(p []byte) (int, error)

	// Receive returns the next complete frame, ErrWouldBlock if none is
	// queued, or the error that ended the connection.
	Receive() ([]byte, error)

	// Disconnect closes the connection. It is safe to call repeatedly.
	Disconnect() error

	// IsFatal reports whether err means the connection is unusable.
	IsFatal(err error) bool

	// SetReadyFunc registers the callback invoked when Receive has
	// something to return. It may be called from any goroutine.
	SetReadyFunc(fn func())
}
