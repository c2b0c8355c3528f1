package client

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/marmos91/smbiod/internal/protocol/smb/header"
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
)

// ============================================================================
// Framing helpers
// ============================================================================

// NewRequest encodes a request header for cmd followed by body. The
// MessageID, SessionId and TreeId fields stay zero until the message is
// stamped.
func NewRequest(cmd types.Command, body []byte, creditRequest uint16) []byte {
	h := header.NewRequestHeader(cmd, creditRequest)
	return append(h.Encode(), body...)
}

// Response is a parsed response frame.
type Response struct {
	Header *header.SMB2Header
	Body   []byte
	frame  []byte
}

// ParseResponse splits a frame into header and body.
func ParseResponse(frame []byte) (*Response, error) {
	h, err := header.Parse(frame)
	if err != nil {
		return nil, err
	}
	if !h.IsResponse() {
		return nil, ErrNotResponse
	}
	return &Response{Header: h, Body: frame[header.HeaderSize:], frame: frame}, nil
}

// Err returns a *StatusError when the response carries an error status.
func (r *Response) Err() error {
	if r.Header.Status.IsError() {
		return &StatusError{Command: r.Header.Command, Status: r.Header.Status}
	}
	return nil
}

// buffer returns the variable part an offset/length pair points to.
// Offsets are relative to the start of the SMB2 header.
func (r *Response) buffer(offset, length uint16) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	start, end := int(offset), int(offset)+int(length)
	if start < header.HeaderSize || end > len(r.frame) {
		return nil, fmt.Errorf("%w: buffer [%d:%d] outside %d-byte message", ErrMalformed, start, end, len(r.frame))
	}
	return r.frame[start:end], nil
}

// ============================================================================
// NEGOTIATE [MS-SMB2] 2.2.3, 2.2.4
// ============================================================================

// EncodeNegotiateRequest builds a NEGOTIATE request body.
//
//	StructureSize (2)   always 36
//	DialectCount (2)
//	SecurityMode (2)
//	Reserved (2)
//	Capabilities (4)
//	ClientGuid (16)
//	ClientStartTime (8) zero: no 3.1.1 negotiate contexts
//	Dialects (2 * DialectCount)
func EncodeNegotiateRequest(dialects []types.Dialect, securityMode uint16, capabilities uint32, clientGUID uuid.UUID) []byte {
	buf := make([]byte, 36+2*len(dialects))
	binary.LittleEndian.PutUint16(buf[0:2], 36)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(dialects)))
	binary.LittleEndian.PutUint16(buf[4:6], securityMode)
	binary.LittleEndian.PutUint32(buf[8:12], capabilities)
	copy(buf[12:28], clientGUID[:])
	for i, d := range dialects {
		binary.LittleEndian.PutUint16(buf[36+2*i:], uint16(d))
	}
	return buf
}

// NegotiateResponse holds the fields of a NEGOTIATE response the client uses.
type NegotiateResponse struct {
	SecurityMode    uint16
	Dialect         types.Dialect
	ServerGUID      uuid.UUID
	Capabilities    uint32
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	SystemTime      time.Time
	SecurityBuffer  []byte
}

// SigningRequired reports whether the server demands signed messages.
func (n *NegotiateResponse) SigningRequired() bool {
	return n.SecurityMode&types.SMB2NegotiateSigningRequired != 0
}

// DecodeNegotiateResponse parses a NEGOTIATE response (65-byte structure).
func DecodeNegotiateResponse(r *Response) (*NegotiateResponse, error) {
	b := r.Body
	if len(b) < 64 {
		return nil, fmt.Errorf("%w: NEGOTIATE response too short: %d bytes", ErrMalformed, len(b))
	}

	n := &NegotiateResponse{
		SecurityMode:    binary.LittleEndian.Uint16(b[2:4]),
		Dialect:         types.Dialect(binary.LittleEndian.Uint16(b[4:6])),
		Capabilities:    binary.LittleEndian.Uint32(b[24:28]),
		MaxTransactSize: binary.LittleEndian.Uint32(b[28:32]),
		MaxReadSize:     binary.LittleEndian.Uint32(b[32:36]),
		MaxWriteSize:    binary.LittleEndian.Uint32(b[36:40]),
		SystemTime:      FiletimeToTime(binary.LittleEndian.Uint64(b[40:48])),
	}
	copy(n.ServerGUID[:], b[8:24])

	sec, err := r.buffer(binary.LittleEndian.Uint16(b[56:58]), binary.LittleEndian.Uint16(b[58:60]))
	if err != nil {
		return nil, err
	}
	n.SecurityBuffer = sec
	return n, nil
}

// ============================================================================
// SESSION_SETUP [MS-SMB2] 2.2.5, 2.2.6
// ============================================================================

const sessionSetupBufferOffset = header.HeaderSize + 24

// EncodeSessionSetupRequest builds a SESSION_SETUP request body.
//
//	StructureSize (2)         always 25
//	Flags (1)
//	SecurityMode (1)
//	Capabilities (4)
//	Channel (4)
//	SecurityBufferOffset (2)
//	SecurityBufferLength (2)
//	PreviousSessionId (8)
//	Buffer (variable)
func EncodeSessionSetupRequest(securityMode uint8, token []byte) []byte {
	buf := make([]byte, 24+len(token))
	binary.LittleEndian.PutUint16(buf[0:2], 25)
	buf[3] = securityMode
	binary.LittleEndian.PutUint16(buf[12:14], sessionSetupBufferOffset)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(token)))
	copy(buf[24:], token)
	return buf
}

// SessionSetupResponse holds a parsed SESSION_SETUP response.
type SessionSetupResponse struct {
	SessionFlags   uint16
	SecurityBuffer []byte
}

// DecodeSessionSetupResponse parses a SESSION_SETUP response (9-byte structure).
func DecodeSessionSetupResponse(r *Response) (*SessionSetupResponse, error) {
	b := r.Body
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: SESSION_SETUP response too short: %d bytes", ErrMalformed, len(b))
	}
	sec, err := r.buffer(binary.LittleEndian.Uint16(b[4:6]), binary.LittleEndian.Uint16(b[6:8]))
	if err != nil {
		return nil, err
	}
	return &SessionSetupResponse{
		SessionFlags:   binary.LittleEndian.Uint16(b[2:4]),
		SecurityBuffer: sec,
	}, nil
}

// ============================================================================
// TREE_CONNECT [MS-SMB2] 2.2.9, 2.2.10
// ============================================================================

const treeConnectPathOffset = header.HeaderSize + 8

// EncodeTreeConnectRequest builds a TREE_CONNECT request body for a UNC
// path such as \\server\share.
//
//	StructureSize (2) always 9
//	Flags (2)
//	PathOffset (2)
//	PathLength (2)
//	Buffer (variable) UTF-16LE path
func EncodeTreeConnectRequest(path string) []byte {
	p := encodeUTF16LE(path)
	buf := make([]byte, 8+len(p))
	binary.LittleEndian.PutUint16(buf[0:2], 9)
	binary.LittleEndian.PutUint16(buf[4:6], treeConnectPathOffset)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(p)))
	copy(buf[8:], p)
	return buf
}

// TreeConnectResponse holds a parsed TREE_CONNECT response.
type TreeConnectResponse struct {
	ShareType     uint8
	ShareFlags    uint32
	Capabilities  uint32
	MaximalAccess uint32
}

// DecodeTreeConnectResponse parses a TREE_CONNECT response (16-byte structure).
func DecodeTreeConnectResponse(r *Response) (*TreeConnectResponse, error) {
	b := r.Body
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: TREE_CONNECT response too short: %d bytes", ErrMalformed, len(b))
	}
	return &TreeConnectResponse{
		ShareType:     b[2],
		ShareFlags:    binary.LittleEndian.Uint32(b[4:8]),
		Capabilities:  binary.LittleEndian.Uint32(b[8:12]),
		MaximalAccess: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// UNCPath returns \\server\share.
func UNCPath(server, share string) string {
	return `\\` + server + `\` + share
}

// ============================================================================
// LOGOFF, TREE_DISCONNECT, ECHO [MS-SMB2] 2.2.7, 2.2.11, 2.2.28
// ============================================================================

// EncodeEmptyRequest builds the 4-byte body shared by LOGOFF,
// TREE_DISCONNECT and ECHO.
func EncodeEmptyRequest() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], 4)
	return buf
}

// ============================================================================
// Encoding helpers
// ============================================================================

// FiletimeToTime converts 100ns intervals since 1601-01-01 to time.Time.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	const epochDiff = 116444736000000000
	return time.Unix(0, (int64(ft)-epochDiff)*100).UTC()
}

func encodeUTF16LE(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, r := range u {
		binary.LittleEndian.PutUint16(b[2*i:], r)
	}
	return b
}
