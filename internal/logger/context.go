package logger

import (
	"context"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds connection-scoped logging fields carried through a
// context.Context. Empty fields are not emitted.
type LogContext struct {
	TraceID string
	SpanID  string
	ConnID  string
	Server  string
	Share   string
	Event   string
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return &LogContext{}
	}
	c := *lc
	return &c
}

// WithShare returns a copy with the share set
func (lc *LogContext) WithShare(share string) *LogContext {
	c := lc.Clone()
	c.Share = share
	return c
}

// WithEvent returns a copy with the event name set
func (lc *LogContext) WithEvent(event string) *LogContext {
	c := lc.Clone()
	c.Event = event
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	c.TraceID = traceID
	c.SpanID = spanID
	return c
}

// appendContextFields prepends LogContext fields to args so they appear
// first in the output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	add := func(key, val string) {
		if val != "" {
			out = append(out, key, val)
		}
	}
	add(KeyTraceID, lc.TraceID)
	add(KeySpanID, lc.SpanID)
	add(KeyConnID, lc.ConnID)
	add(KeyServer, lc.Server)
	add(KeyShare, lc.Share)
	add(KeyEvent, lc.Event)

	return append(out, args...)
}
