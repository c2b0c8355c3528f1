package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these consistently so
// log lines from the engine, the dialect and the CLI can be queried together.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection
	KeyConnID     = "conn_id"
	KeyServer     = "server"
	KeyLocalAddr  = "local_addr"
	KeyState      = "state"
	KeyFromState  = "from_state"
	KeyEvent      = "event"
	KeyGeneration = "generation"
	KeyShare      = "share"

	// Requests
	KeyMessageID   = "message_id"
	KeyAttempt     = "attempt"
	KeyTimeout     = "timeout"
	KeyOutstanding = "outstanding"
	KeyCapacity    = "capacity"
	KeySize        = "size"
	KeyDurationMs  = "duration_ms"

	// Protocol
	KeyCommand   = "command"
	KeyStatus    = "status"
	KeyDialect   = "dialect"
	KeySessionID = "session_id"
	KeyTreeID    = "tree_id"
	KeyCredits   = "credits"
	KeyUsername  = "username"
	KeyDomain    = "domain"

	KeyError = "error"
)

// Err returns an error attribute, or an empty attribute for nil errors.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration returns a duration_ms attribute measured from start.
func Duration(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0)
}
