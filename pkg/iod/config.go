package iod

import (
	"fmt"
	"time"
)

// Config holds the per-connection tuning knobs.
type Config struct {
	// RequestTimeout is the default time a sent request may go without a
	// response.
	RequestTimeout time.Duration

	// TickInterval bounds how long the daemon sleeps between iterations.
	TickInterval time.Duration

	// KeepaliveInterval is the idle time after which a keepalive probe is
	// sent on an Active connection.
	KeepaliveInterval time.Duration

	// UnresponsiveWindow: shares are reported unreachable after half of it
	// passes with sends but no receives.
	UnresponsiveWindow time.Duration

	// MaxOutstanding caps concurrently outstanding ordinary requests.
	// Zero makes every Submit fail with ErrConfiguration.
	MaxOutstanding int

	// MaxSendAttempts bounds transient send failures for one request before
	// the connection is torn down.
	MaxSendAttempts int

	// SendRetryInterval is the pause after a transient send failure.
	SendRetryInterval time.Duration

	// LocalAddr is passed to Transport.Bind when set.
	LocalAddr string
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     30 * time.Second,
		TickInterval:       time.Second,
		KeepaliveInterval:  60 * time.Second,
		UnresponsiveWindow: 30 * time.Second,
		MaxOutstanding:     64,
		MaxSendAttempts:    12,
		SendRetryInterval:  5 * time.Second,
	}
}

// Validate checks the settings. A zero MaxOutstanding passes: it is
// reported by the gate on every Submit instead.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"request timeout", c.RequestTimeout},
		{"tick interval", c.TickInterval},
		{"keepalive interval", c.KeepaliveInterval},
		{"unresponsive window", c.UnresponsiveWindow},
		{"send retry interval", c.SendRetryInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrConfiguration, d.name, d.d)
		}
	}
	if c.MaxOutstanding < 0 {
		return fmt.Errorf("%w: max outstanding must not be negative, got %d", ErrConfiguration, c.MaxOutstanding)
	}
	if c.MaxSendAttempts < 1 {
		return fmt.Errorf("%w: max send attempts must be at least 1, got %d", ErrConfiguration, c.MaxSendAttempts)
	}
	return nil
}

// effectiveTimeout resolves a per-request override against the default:
// zero uses the default, a positive override only ever lengthens it, and a
// negative override is taken verbatim as an absolute timeout.
func (c Config) effectiveTimeout(override time.Duration) time.Duration {
	switch {
	case override == 0:
		return c.RequestTimeout
	case override < 0:
		return -override
	default:
		return max(c.RequestTimeout, override)
	}
}
