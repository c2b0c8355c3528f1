package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on connection and request spans.
const (
	AttrConnID     = "smbiod.conn_id"
	AttrServer     = "server.address"
	AttrState      = "smbiod.state"
	AttrEvent      = "smbiod.event"
	AttrGeneration = "smbiod.generation"
	AttrShare      = "smbiod.share"
	AttrMessageID  = "smbiod.message_id"
	AttrInternal   = "smbiod.internal"
	AttrErrorKind  = "smbiod.error_kind"

	AttrSMBCommand   = "smb.command"
	AttrSMBStatus    = "smb.status"
	AttrSMBDialect   = "smb.dialect"
	AttrSMBSessionID = "smb.session_id"
	AttrSMBTreeID    = "smb.tree_id"
)

// Span names.
const (
	SpanEvent   = "iod.event"
	SpanCall    = "iod.call"
	SpanConnect = "iod.establish"

	SpanSMBNegotiate    = "smb.NEGOTIATE"
	SpanSMBSessionSetup = "smb.SESSION_SETUP"
	SpanSMBTreeConnect  = "smb.TREE_CONNECT"
	SpanSMBLogoff       = "smb.LOGOFF"
)

// ConnID returns an attribute for the connection id
func ConnID(id string) attribute.KeyValue {
	return attribute.String(AttrConnID, id)
}

// Server returns an attribute for the remote endpoint
func Server(addr string) attribute.KeyValue {
	return attribute.String(AttrServer, addr)
}

// Event returns an attribute for the control event kind
func Event(kind string) attribute.KeyValue {
	return attribute.String(AttrEvent, kind)
}

// State returns an attribute for the connection state
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// Generation returns an attribute for the connection generation
func Generation(gen uint64) attribute.KeyValue {
	return attribute.Int64(AttrGeneration, int64(gen))
}

// Share returns an attribute for a share name
func Share(name string) attribute.KeyValue {
	return attribute.String(AttrShare, name)
}

// MessageID returns an attribute for a correlation id
func MessageID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrMessageID, int64(id))
}

// ErrorKind returns an attribute for the error taxonomy name
func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}

// SMBCommand returns an attribute for an SMB2 command name
func SMBCommand(name string) attribute.KeyValue {
	return attribute.String(AttrSMBCommand, name)
}

// SMBStatus returns an attribute for an NT_STATUS name
func SMBStatus(name string) attribute.KeyValue {
	return attribute.String(AttrSMBStatus, name)
}

// SMBDialect returns an attribute for the negotiated dialect
func SMBDialect(name string) attribute.KeyValue {
	return attribute.String(AttrSMBDialect, name)
}

// SMBSessionID returns an attribute for the SMB2 session id
func SMBSessionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSMBSessionID, int64(id))
}

// SMBTreeID returns an attribute for the SMB2 tree id
func SMBTreeID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrSMBTreeID, int64(id))
}
