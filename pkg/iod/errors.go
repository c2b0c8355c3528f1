package iod

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means no attempt was made: the connection is down or
	// went down before the request could be sent.
	ErrNotConnected = errors.New("iod: not connected")

	// ErrConnectionLost means a fatal transport error tore the connection
	// down while the request was in flight.
	ErrConnectionLost = errors.New("iod: connection lost")

	// ErrTimeout means the request's deadline elapsed without a response.
	ErrTimeout = errors.New("iod: request timed out")

	// ErrInterrupted means the caller cancelled its wait.
	ErrInterrupted = errors.New("iod: wait interrupted")

	// ErrProtocolAnomaly covers malformed, duplicate and orphan frames. It
	// is only ever logged and counted, never returned to a waiter.
	ErrProtocolAnomaly = errors.New("iod: protocol anomaly")

	// ErrReconnected means the request was in flight when the session was
	// renegotiated. It should be resubmitted.
	ErrReconnected = errors.New("iod: connection renegotiated")

	// ErrConfiguration reports unusable settings such as a zero
	// multiplex capacity.
	ErrConfiguration = errors.New("iod: configuration error")

	// ErrInvalidState is returned for an event the current state does not accept.
	ErrInvalidState = errors.New("iod: event not valid in current state")

	// ErrClosed is returned once the connection has been shut down.
	ErrClosed = errors.New("iod: connection closed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotConnected, "not_connected"},
	{ErrConnectionLost, "connection_lost"},
	{ErrTimeout, "timeout"},
	{ErrInterrupted, "interrupted"},
	{ErrProtocolAnomaly, "protocol_anomaly"},
	{ErrReconnected, "reconnected"},
	{ErrConfiguration, "configuration"},
	{ErrInvalidState, "invalid_state"},
	{ErrClosed, "closed"},
}

// Kind returns the taxonomy name of err for metrics labels and reports:
// "ok" for nil, "other" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}

// contextError maps a context error onto the taxonomy while keeping the
// original error in the chain.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}
