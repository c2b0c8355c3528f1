// Package header provides SMB2 message header parsing, encoding and in-place
// stamping of the fields a client rewrites on every (re)send.
//
// # Header Structure (64 bytes)
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│ Offset │ Size │ Field           │ Description                       │
//	├────────┼──────┼─────────────────┼───────────────────────────────────┤
//	│   0    │  4   │ ProtocolID      │ 0xFE 'S' 'M' 'B' (0x424D53FE LE)  │
//	│   4    │  2   │ StructureSize   │ Always 64                         │
//	│   6    │  2   │ CreditCharge    │ Credits consumed by this request  │
//	│   8    │  4   │ Status          │ NT_STATUS (response only)         │
//	│  12    │  2   │ Command         │ SMB2 command code                 │
//	│  14    │  2   │ Credits         │ Credits requested/granted         │
//	│  16    │  4   │ Flags           │ Header flags                      │
//	│  20    │  4   │ NextCommand     │ Offset to next command (compound) │
//	│  24    │  8   │ MessageID       │ Unique message identifier         │
//	│  32    │  4   │ Reserved        │ Reserved (ProcessID in sync)      │
//	│  36    │  4   │ TreeID          │ Tree connection identifier        │
//	│  40    │  8   │ SessionID       │ Session identifier                │
//	│  48    │ 16   │ Signature       │ Message signature (if signed)     │
//	└────────┴──────┴─────────────────┴───────────────────────────────────┘
//
// Async responses (STATUS_PENDING interim replies) reuse bytes 32..40 as
// the 8-byte AsyncId; MessageID still identifies the originating request.
//
// Reference: [MS-SMB2] Section 2.2.1
package header

import (
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
)

// HeaderSize is the fixed size of SMB2 header (64 bytes).
const HeaderSize = 64

// Wire offsets of the fields the client stamps in place.
const (
	offCreditCharge = 6
	offCredits      = 14
	offMessageID    = 24
	offTreeID       = 36
	offSessionID    = 40
)

// SMB2Header represents the common SMB2 message header.
//
// Some fields have different meanings based on context:
//   - Status: Contains NT_STATUS in responses, ChannelSequence in requests
//   - Credits: Contains CreditRequest in requests, CreditResponse in responses
//   - Reserved/TreeID: ProcessID and TreeID in sync messages, AsyncID in async
//
// [MS-SMB2] Section 2.2.1
type SMB2Header struct {
	StructureSize uint16
	CreditCharge  uint16
	Status        types.Status
	Command       types.Command
	Credits       uint16
	Flags         types.HeaderFlags
	NextCommand   uint32
	MessageID     uint64
	Reserved      uint32
	TreeID        uint32
	SessionID     uint64
	Signature     [16]byte
}

// IsResponse returns true if this is a response header.
func (h *SMB2Header) IsResponse() bool {
	return h.Flags.IsResponse()
}

// IsAsync returns true if this is an async message.
func (h *SMB2Header) IsAsync() bool {
	return h.Flags.IsAsync()
}

// AsyncID returns the AsyncId of an async message, 0 otherwise.
func (h *SMB2Header) AsyncID() uint64 {
	if !h.IsAsync() {
		return 0
	}
	return uint64(h.TreeID)<<32 | uint64(h.Reserved)
}

// IsInterim reports whether this is a STATUS_PENDING interim response.
// The final response for the same MessageID follows later.
func (h *SMB2Header) IsInterim() bool {
	return h.IsResponse() && h.IsAsync() && h.Status == types.StatusPending
}
