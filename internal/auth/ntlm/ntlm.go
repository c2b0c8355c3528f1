// Package ntlm implements the client side of NTLM authentication for SMB.
//
// NTLM (NT LAN Manager) is a challenge-response authentication protocol
// defined in [MS-NLMP]. This package provides:
//   - NEGOTIATE (Type 1) message building
//   - CHALLENGE (Type 2) message parsing
//   - AUTHENTICATE (Type 3) message building with NTLMv2 responses
//   - Anonymous authentication
//
// The server-side helpers (BuildChallenge, ParseAuthenticate and
// ValidateNTLMv2Response) exist so a peer can be simulated in tests and
// in the probe tool.
package ntlm

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"io"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// =============================================================================
// NTLM Message Types
// =============================================================================

// MessageType identifies the three messages in the NTLM handshake.
// [MS-NLMP] Section 2.2.1
type MessageType uint32

const (
	// Negotiate (Type 1) is sent by the client to initiate authentication.
	Negotiate MessageType = 1

	// Challenge (Type 2) is sent by the server in response to Type 1.
	Challenge MessageType = 2

	// Authenticate (Type 3) is sent by the client to complete authentication.
	Authenticate MessageType = 3
)

// Signature is the 8-byte signature that identifies NTLM messages.
// [MS-NLMP] Section 2.2.1
var Signature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

// Common header offsets.
const (
	signatureOffset   = 0
	messageTypeOffset = 8
	headerSize        = 12
)

// Type 1 (NEGOTIATE) layout. [MS-NLMP] Section 2.2.1.1
const (
	negotiateFlagsOffset       = 12 // 4 bytes
	negotiateDomainFieldOffset = 16 // 8 bytes: DomainNameFields
	negotiateWorkstationOffset = 24 // 8 bytes: WorkstationFields
	negotiateBaseSize          = 32
)

// Type 2 (CHALLENGE) layout. [MS-NLMP] Section 2.2.1.2
const (
	challengeTargetNameOffset = 12 // 8 bytes: TargetNameFields
	challengeFlagsOffset      = 20 // 4 bytes
	challengeServerChalOffset = 24 // 8 bytes
	challengeTargetInfoOffset = 40 // 8 bytes: TargetInfoFields
	challengeBaseSize         = 48
	challengePayloadOffset    = 56 // after the optional Version
)

// Type 3 (AUTHENTICATE) layout. [MS-NLMP] Section 2.2.1.3
const (
	authLmResponseOffset     = 12
	authNtResponseOffset     = 20
	authDomainNameOffset     = 28
	authUserNameOffset       = 36
	authWorkstationOffset    = 44
	authSessionKeyOffset     = 52
	authNegotiateFlagsOffset = 60
	authBaseSize             = 64
)

const (
	serverChallengeSize = 8
	clientChallengeSize = 8
	ntProofSize         = 16
	blobHeaderSize      = 28
)

// =============================================================================
// NTLM Negotiate Flags
// =============================================================================

// NegotiateFlag controls authentication behavior and capabilities.
// [MS-NLMP] Section 2.2.2.5
type NegotiateFlag uint32

const (
	FlagUnicode             NegotiateFlag = 0x00000001
	FlagOEM                 NegotiateFlag = 0x00000002
	FlagRequestTarget       NegotiateFlag = 0x00000004
	FlagSign                NegotiateFlag = 0x00000010
	FlagSeal                NegotiateFlag = 0x00000020
	FlagLMKey               NegotiateFlag = 0x00000080
	FlagNTLM                NegotiateFlag = 0x00000200
	FlagAnonymous           NegotiateFlag = 0x00000800
	FlagDomainSupplied      NegotiateFlag = 0x00001000
	FlagWorkstationSupplied NegotiateFlag = 0x00002000
	FlagAlwaysSign          NegotiateFlag = 0x00008000
	FlagTargetTypeDomain    NegotiateFlag = 0x00010000
	FlagTargetTypeServer    NegotiateFlag = 0x00020000
	FlagExtendedSecurity    NegotiateFlag = 0x00080000
	FlagTargetInfo          NegotiateFlag = 0x00800000
	FlagVersion             NegotiateFlag = 0x02000000
	Flag128                 NegotiateFlag = 0x20000000
	FlagKeyExchange         NegotiateFlag = 0x40000000
	Flag56                  NegotiateFlag = 0x80000000
)

// DefaultClientFlags are offered in the NEGOTIATE message. Key exchange
// is not offered, so the session key is the NTLMv2 session base key.
const DefaultClientFlags = FlagUnicode |
	FlagRequestTarget |
	FlagSign |
	FlagNTLM |
	FlagAlwaysSign |
	FlagExtendedSecurity |
	FlagTargetInfo |
	Flag128 |
	Flag56

// =============================================================================
// AV_PAIR (TargetInfo)
// =============================================================================

// AvID represents AV_PAIR attribute IDs for the TargetInfo field.
// [MS-NLMP] Section 2.2.2.1
type AvID uint16

const (
	AvEOL             AvID = 0x0000
	AvNbComputerName  AvID = 0x0001
	AvNbDomainName    AvID = 0x0002
	AvDNSComputerName AvID = 0x0003
	AvDNSDomainName   AvID = 0x0004
	AvFlags           AvID = 0x0006
	AvTimestamp       AvID = 0x0007
)

// AvPair is one TargetInfo attribute.
type AvPair struct {
	ID    AvID
	Value []byte
}

// BuildTargetInfo encodes pairs followed by the AvEOL terminator.
func BuildTargetInfo(pairs ...AvPair) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(p.ID))
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(p.Value)))
		buf.Write(p.Value)
	}
	buf.Write([]byte{0, 0, 0, 0})
	return buf.Bytes()
}

// ParseTargetInfo decodes an AV_PAIR list up to the terminator.
func ParseTargetInfo(b []byte) ([]AvPair, error) {
	var pairs []AvPair
	for len(b) >= 4 {
		id := AvID(binary.LittleEndian.Uint16(b[0:2]))
		n := int(binary.LittleEndian.Uint16(b[2:4]))
		if id == AvEOL {
			return pairs, nil
		}
		if len(b) < 4+n {
			return nil, ErrMessageTooShort
		}
		pairs = append(pairs, AvPair{ID: id, Value: b[4 : 4+n]})
		b = b[4+n:]
	}
	return nil, ErrMessageTooShort
}

// UTF16Value encodes s for use as an AV_PAIR value.
func UTF16Value(s string) []byte { return encodeString(s) }

// =============================================================================
// Message Detection
// =============================================================================

// IsValid checks if the buffer starts with the NTLMSSP signature.
func IsValid(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	return bytes.Equal(buf[signatureOffset:signatureOffset+8], Signature)
}

// GetMessageType returns the NTLM message type, or 0 for an invalid buffer.
func GetMessageType(buf []byte) MessageType {
	if !IsValid(buf) {
		return 0
	}
	return MessageType(binary.LittleEndian.Uint32(buf[messageTypeOffset : messageTypeOffset+4]))
}

// =============================================================================
// Type 1: NEGOTIATE
// =============================================================================

// BuildNegotiate creates a NEGOTIATE message offering flags. Domain and
// workstation are not supplied.
func BuildNegotiate(flags NegotiateFlag) []byte {
	msg := make([]byte, negotiateBaseSize)
	copy(msg[signatureOffset:], Signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:], uint32(Negotiate))
	binary.LittleEndian.PutUint32(msg[negotiateFlagsOffset:], uint32(flags))
	putField(msg[negotiateDomainFieldOffset:], 0, negotiateBaseSize)
	putField(msg[negotiateWorkstationOffset:], 0, negotiateBaseSize)
	return msg
}

// =============================================================================
// Type 2: CHALLENGE
// =============================================================================

// ChallengeMessage holds the fields of a parsed CHALLENGE message.
type ChallengeMessage struct {
	Flags           NegotiateFlag
	ServerChallenge [8]byte
	TargetName      string
	TargetInfo      []byte
}

// Timestamp returns the server's MsvAvTimestamp as a FILETIME, if present.
func (c *ChallengeMessage) Timestamp() (uint64, bool) {
	pairs, err := ParseTargetInfo(c.TargetInfo)
	if err != nil {
		return 0, false
	}
	for _, p := range pairs {
		if p.ID == AvTimestamp && len(p.Value) == 8 {
			return binary.LittleEndian.Uint64(p.Value), true
		}
	}
	return 0, false
}

// ParseChallenge parses a CHALLENGE message.
func ParseChallenge(buf []byte) (*ChallengeMessage, error) {
	if len(buf) < challengeBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Challenge {
		return nil, ErrWrongMessageType
	}

	c := &ChallengeMessage{
		Flags: NegotiateFlag(binary.LittleEndian.Uint32(buf[challengeFlagsOffset:])),
	}
	copy(c.ServerChallenge[:], buf[challengeServerChalOffset:challengeServerChalOffset+serverChallengeSize])

	name, err := readField(buf, challengeTargetNameOffset)
	if err != nil {
		return nil, err
	}
	c.TargetName = decodeString(name, c.Flags&FlagUnicode != 0)

	info, err := readField(buf, challengeTargetInfoOffset)
	if err != nil {
		return nil, err
	}
	c.TargetInfo = append([]byte(nil), info...)
	return c, nil
}

// BuildChallenge creates a CHALLENGE message as a server would send it.
//
//	Offset  Size  Field
//	------  ----  ----------------
//	0       8     Signature
//	8       4     MessageType (2)
//	12      8     TargetNameFields
//	20      4     NegotiateFlags
//	24      8     ServerChallenge
//	32      8     Reserved
//	40      8     TargetInfoFields
//	48      8     Version (zero)
//	56      var   Payload
func BuildChallenge(serverChallenge [8]byte, flags NegotiateFlag, targetName string, targetInfo []byte) []byte {
	name := encodeString(targetName)
	nameOff := challengePayloadOffset
	infoOff := nameOff + len(name)

	msg := make([]byte, infoOff+len(targetInfo))
	copy(msg[signatureOffset:], Signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:], uint32(Challenge))
	putField(msg[challengeTargetNameOffset:], len(name), nameOff)
	binary.LittleEndian.PutUint32(msg[challengeFlagsOffset:], uint32(flags))
	copy(msg[challengeServerChalOffset:], serverChallenge[:])
	putField(msg[challengeTargetInfoOffset:], len(targetInfo), infoOff)
	copy(msg[nameOff:], name)
	copy(msg[infoOff:], targetInfo)
	return msg
}

// =============================================================================
// Type 3: AUTHENTICATE
// =============================================================================

// Credentials identify the client. An empty Username selects anonymous
// authentication.
type Credentials struct {
	Domain      string
	Username    string
	Password    string
	Workstation string
}

// Anonymous reports whether c requests an anonymous session.
func (c Credentials) Anonymous() bool { return c.Username == "" }

// AuthenticateResult is the outcome of building an AUTHENTICATE message.
type AuthenticateResult struct {
	Message []byte

	// SessionKey is the exported session key, nil for anonymous sessions.
	SessionKey []byte
}

// Randomness and time sources, replaced in tests.
var (
	randReader io.Reader = rand.Reader
	now                  = time.Now
)

// BuildAuthenticate answers challenge with an NTLMv2 response for creds.
// [MS-NLMP] Section 3.3.2
func BuildAuthenticate(challenge *ChallengeMessage, creds Credentials) (*AuthenticateResult, error) {
	flags := challenge.Flags & (DefaultClientFlags | FlagTargetTypeDomain | FlagTargetTypeServer)
	if challenge.Flags&FlagUnicode == 0 {
		return nil, ErrUnicodeRequired
	}

	var lm, nt, sessionKey []byte
	if creds.Anonymous() {
		flags |= FlagAnonymous
		lm = []byte{0}
	} else {
		var clientChallenge [clientChallengeSize]byte
		if _, err := io.ReadFull(randReader, clientChallenge[:]); err != nil {
			return nil, err
		}

		ts, fromServer := challenge.Timestamp()
		if !fromServer {
			ts = filetime(now())
		}

		v2 := ComputeNTLMv2Hash(ComputeNTHash(creds.Password), creds.Username, creds.Domain)
		blob := clientBlob(ts, clientChallenge, challenge.TargetInfo)
		proof := hmacMD5(v2[:], challenge.ServerChallenge[:], blob)
		nt = append(proof, blob...)

		if fromServer {
			lm = make([]byte, 24)
		} else {
			lm = append(hmacMD5(v2[:], challenge.ServerChallenge[:], clientChallenge[:]), clientChallenge[:]...)
		}
		sessionKey = hmacMD5(v2[:], proof)
	}

	domain := encodeString(creds.Domain)
	user := encodeString(creds.Username)
	ws := encodeString(creds.Workstation)

	msg := make([]byte, authBaseSize, authBaseSize+len(lm)+len(nt)+len(domain)+len(user)+len(ws))
	copy(msg[signatureOffset:], Signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:], uint32(Authenticate))
	binary.LittleEndian.PutUint32(msg[authNegotiateFlagsOffset:], uint32(flags))

	for _, f := range []struct {
		at   int
		data []byte
	}{
		{authLmResponseOffset, lm},
		{authNtResponseOffset, nt},
		{authDomainNameOffset, domain},
		{authUserNameOffset, user},
		{authWorkstationOffset, ws},
		{authSessionKeyOffset, nil},
	} {
		putField(msg[f.at:], len(f.data), len(msg))
		msg = append(msg, f.data...)
	}

	return &AuthenticateResult{Message: msg, SessionKey: sessionKey}, nil
}

// clientBlob builds the NTLMv2 client challenge structure:
// RespType, HiRespType, reserved, timestamp, client challenge, reserved,
// the server's AV pairs and a trailing zero word.
func clientBlob(ts uint64, clientChallenge [8]byte, targetInfo []byte) []byte {
	blob := make([]byte, blobHeaderSize+len(targetInfo)+4)
	blob[0] = 0x01
	blob[1] = 0x01
	binary.LittleEndian.PutUint64(blob[8:16], ts)
	copy(blob[16:24], clientChallenge[:])
	copy(blob[blobHeaderSize:], targetInfo)
	return blob
}

// AuthenticateMessage contains parsed fields from an AUTHENTICATE message.
type AuthenticateMessage struct {
	LmChallengeResponse []byte
	NtChallengeResponse []byte
	Domain              string
	Username            string
	Workstation         string
	NegotiateFlags      NegotiateFlag
	IsAnonymous         bool
}

// ParseAuthenticate parses an AUTHENTICATE message.
func ParseAuthenticate(buf []byte) (*AuthenticateMessage, error) {
	if len(buf) < authBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Authenticate {
		return nil, ErrWrongMessageType
	}

	msg := &AuthenticateMessage{
		NegotiateFlags: NegotiateFlag(binary.LittleEndian.Uint32(buf[authNegotiateFlagsOffset:])),
	}
	msg.IsAnonymous = msg.NegotiateFlags&FlagAnonymous != 0
	unicode := msg.NegotiateFlags&FlagUnicode != 0

	fields := []struct {
		at  int
		set func([]byte)
	}{
		{authLmResponseOffset, func(b []byte) { msg.LmChallengeResponse = append([]byte(nil), b...) }},
		{authNtResponseOffset, func(b []byte) { msg.NtChallengeResponse = append([]byte(nil), b...) }},
		{authDomainNameOffset, func(b []byte) { msg.Domain = decodeString(b, unicode) }},
		{authUserNameOffset, func(b []byte) { msg.Username = decodeString(b, unicode) }},
		{authWorkstationOffset, func(b []byte) { msg.Workstation = decodeString(b, unicode) }},
	}
	for _, f := range fields {
		b, err := readField(buf, f.at)
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			f.set(b)
		}
	}
	return msg, nil
}

// =============================================================================
// NTLMv2 Cryptography
// =============================================================================

// ComputeNTHash returns MD4(UTF16LE(password)). [MS-NLMP] Section 3.3.1
func ComputeNTHash(password string) [16]byte {
	h := md4.New()
	h.Write(encodeString(password))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeNTLMv2Hash returns HMAC-MD5(ntHash, UTF16LE(UPPER(user) + domain)).
// [MS-NLMP] Section 3.3.2 (NTOWFv2)
func ComputeNTLMv2Hash(ntHash [16]byte, username, domain string) [16]byte {
	var out [16]byte
	copy(out[:], hmacMD5(ntHash[:], encodeString(strings.ToUpper(username)+domain)))
	return out
}

// ValidateNTLMv2Response checks an NTLMv2 NtChallengeResponse as a server
// would and returns the session base key.
func ValidateNTLMv2Response(ntHash [16]byte, username, domain string, serverChallenge [8]byte, ntResponse []byte) ([16]byte, error) {
	var key [16]byte
	if len(ntResponse) < ntProofSize+8 {
		return key, ErrResponseTooShort
	}

	v2 := ComputeNTLMv2Hash(ntHash, username, domain)
	proof := ntResponse[:ntProofSize]
	expected := hmacMD5(v2[:], serverChallenge[:], ntResponse[ntProofSize:])
	if !hmac.Equal(proof, expected) {
		return key, ErrAuthenticationFailed
	}
	copy(key[:], hmacMD5(v2[:], proof))
	return key, nil
}

func hmacMD5(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(md5.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// filetime converts t to 100ns intervals since 1601-01-01.
func filetime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + 116444736000000000
}

// =============================================================================
// Encoding Helpers
// =============================================================================

// putField writes a Len/MaxLen/Offset security buffer descriptor.
func putField(b []byte, length, offset int) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(length))
	binary.LittleEndian.PutUint16(b[2:4], uint16(length))
	binary.LittleEndian.PutUint32(b[4:8], uint32(offset))
}

// readField returns the payload a descriptor at off points to.
func readField(buf []byte, off int) ([]byte, error) {
	n := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	at := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
	if n == 0 {
		return nil, nil
	}
	if at < 0 || at+n > len(buf) {
		return nil, ErrFieldOutOfRange
	}
	return buf[at : at+n], nil
}

func encodeString(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, r := range u {
		binary.LittleEndian.PutUint16(b[2*i:], r)
	}
	return b
}

// decodeString decodes UTF-16LE or OEM (treated as Latin-1) text.
func decodeString(buf []byte, isUnicode bool) string {
	if !isUnicode {
		return string(buf)
	}
	u := make([]uint16, len(buf)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return string(utf16.Decode(u))
}

// =============================================================================
// Errors
// =============================================================================

// Error types for NTLM message handling.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMessageTooShort      Error = "ntlm: message too short"
	ErrInvalidSignature     Error = "ntlm: invalid signature"
	ErrWrongMessageType     Error = "ntlm: wrong message type"
	ErrFieldOutOfRange      Error = "ntlm: field points outside message"
	ErrUnicodeRequired      Error = "ntlm: server did not negotiate unicode"
	ErrResponseTooShort     Error = "ntlm: response too short"
	ErrAuthenticationFailed Error = "ntlm: authentication failed"
)
