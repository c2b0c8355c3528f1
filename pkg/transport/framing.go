package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NetBIOS session service message types [RFC 1002] 4.3.1
const (
	nbSessionMessage   = 0x00
	nbSessionKeepAlive = 0x85

	nbHeaderSize = 4
	nbMaxLength  = 0x00FFFFFF
)

// readFrame reads one NetBIOS session message from r and returns its
// payload. Keepalive messages are skipped. Frames shorter than minSize or
// longer than maxSize are framing errors.
func readFrame(r io.Reader, minSize, maxSize int) ([]byte, error) {
	var hdr [nbHeaderSize]byte
	var msgLen int
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}

		switch hdr[0] {
		case nbSessionMessage:
			msgLen = int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		case nbSessionKeepAlive:
			continue
		default:
			return nil, fmt.Errorf("%w: unsupported NetBIOS message type 0x%02x", ErrFraming, hdr[0])
		}
		break
	}

	if msgLen > maxSize {
		return nil, fmt.Errorf("%w: message too large: %d bytes (max %d)", ErrFraming, msgLen, maxSize)
	}
	if msgLen < minSize {
		return nil, fmt.Errorf("%w: message too small: %d bytes (need %d)", ErrFraming, msgLen, minSize)
	}

	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// encodeFrame prefixes payload with a NetBIOS session message header.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > nbMaxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, nbHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	frame[0] = nbSessionMessage
	copy(frame[nbHeaderSize:], payload)
	return frame, nil
}
