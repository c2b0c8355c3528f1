// Package client implements the SMB2 dialect driven by the iod engine.
//
// The Dialect builds and parses the session-level exchanges a client
// needs before it can issue file operations:
//
//	NEGOTIATE        pick a dialect revision (2.0.2 to 3.0.2)
//	SESSION_SETUP    NTLMv2 (or anonymous) wrapped in SPNEGO, looping on
//	                 STATUS_MORE_PROCESSING_REQUIRED
//	TREE_CONNECT     attach \\server\share, yielding the TreeId
//	TREE_DISCONNECT  release a share on graceful disconnect
//	LOGOFF           end the session
//	ECHO             keepalive probe
//
// Outgoing requests are built with a zero MessageID, SessionId and TreeId;
// Stamp fills them in right before transmission so queued requests can be
// renumbered across reconnects. Every response header carries a credit
// grant, which the Dialect accumulates and reports as the multiplex
// capacity.
//
// Reference: [MS-SMB2] Sections 2.2.3 to 2.2.29
package client
