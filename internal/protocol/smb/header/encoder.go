package header

import (
	"encoding/binary"

	"github.com/marmos91/smbiod/internal/protocol/smb/types"
)

// Encode serializes the header to wire format (little-endian)
func (h *SMB2Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[0:4], types.SMB2ProtocolID)
	binary.LittleEndian.PutUint16(buf[4:6], HeaderSize)
	binary.LittleEndian.PutUint16(buf[6:8], h.CreditCharge)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Status))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(h.Command))
	binary.LittleEndian.PutUint16(buf[14:16], h.Credits)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[20:24], h.NextCommand)
	binary.LittleEndian.PutUint64(buf[24:32], h.MessageID)
	binary.LittleEndian.PutUint32(buf[32:36], h.Reserved)
	binary.LittleEndian.PutUint32(buf[36:40], h.TreeID)
	binary.LittleEndian.PutUint64(buf[40:48], h.SessionID)
	copy(buf[48:64], h.Signature[:])

	return buf
}

// NewRequestHeader creates a request header for cmd. MessageID, SessionID
// and TreeID are left zero; they are stamped when the message is sent.
func NewRequestHeader(cmd types.Command, creditRequest uint16) *SMB2Header {
	return &SMB2Header{
		StructureSize: HeaderSize,
		CreditCharge:  1,
		Command:       cmd,
		Credits:       creditRequest,
	}
}

// Stamp rewrites MessageID, SessionID and TreeID of an encoded request in
// place. buf must hold at least a full header.
func Stamp(buf []byte, messageID, sessionID uint64, treeID uint32) error {
	if len(buf) < HeaderSize {
		return ErrMessageTooShort
	}
	if !IsSMB2Message(buf) {
		return ErrInvalidProtocolID
	}
	binary.LittleEndian.PutUint64(buf[offMessageID:offMessageID+8], messageID)
	binary.LittleEndian.PutUint64(buf[offSessionID:offSessionID+8], sessionID)
	binary.LittleEndian.PutUint32(buf[offTreeID:offTreeID+4], treeID)
	return nil
}

// SetCredits rewrites CreditCharge and the credit request of an encoded
// request in place.
func SetCredits(buf []byte, charge, request uint16) error {
	if len(buf) < HeaderSize {
		return ErrMessageTooShort
	}
	binary.LittleEndian.PutUint16(buf[offCreditCharge:offCreditCharge+2], charge)
	binary.LittleEndian.PutUint16(buf[offCredits:offCredits+2], request)
	return nil
}
