// Package types contains the SMB2 protocol constants a client needs to drive a
// session: command codes, header flags, dialects, capabilities and NT_STATUS.
// Reference: [MS-SMB2] - Server Message Block (SMB) Protocol Versions 2 and 3
package types

import "fmt"

// SMB2ProtocolID is the SMB2 protocol identifier (little-endian: 0xFE 'S' 'M' 'B')
const SMB2ProtocolID uint32 = 0x424D53FE

// Command is an SMB2 command code [MS-SMB2] 2.2.1
type Command uint16

const (
	SMB2Negotiate      Command = 0x0000
	SMB2SessionSetup   Command = 0x0001
	SMB2Logoff         Command = 0x0002
	SMB2TreeConnect    Command = 0x0003
	SMB2TreeDisconnect Command = 0x0004
	SMB2Create         Command = 0x0005
	SMB2Close          Command = 0x0006
	SMB2Flush          Command = 0x0007
	SMB2Read           Command = 0x0008
	SMB2Write          Command = 0x0009
	SMB2Lock           Command = 0x000A
	SMB2Ioctl          Command = 0x000B
	SMB2Cancel         Command = 0x000C
	SMB2Echo           Command = 0x000D
	SMB2QueryDirectory Command = 0x000E
	SMB2ChangeNotify   Command = 0x000F
	SMB2QueryInfo      Command = 0x0010
	SMB2SetInfo        Command = 0x0011
	SMB2OplockBreak    Command = 0x0012
)

var commandNames = map[Command]string{
	SMB2Negotiate:      "NEGOTIATE",
	SMB2SessionSetup:   "SESSION_SETUP",
	SMB2Logoff:         "LOGOFF",
	SMB2TreeConnect:    "TREE_CONNECT",
	SMB2TreeDisconnect: "TREE_DISCONNECT",
	SMB2Create:         "CREATE",
	SMB2Close:          "CLOSE",
	SMB2Flush:          "FLUSH",
	SMB2Read:           "READ",
	SMB2Write:          "WRITE",
	SMB2Lock:           "LOCK",
	SMB2Ioctl:          "IOCTL",
	SMB2Cancel:         "CANCEL",
	SMB2Echo:           "ECHO",
	SMB2QueryDirectory: "QUERY_DIRECTORY",
	SMB2ChangeNotify:   "CHANGE_NOTIFY",
	SMB2QueryInfo:      "QUERY_INFO",
	SMB2SetInfo:        "SET_INFO",
	SMB2OplockBreak:    "OPLOCK_BREAK",
}

// String returns the command name as used in [MS-SMB2].
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// HeaderFlags is the SMB2 header Flags field [MS-SMB2] 2.2.1.1
type HeaderFlags uint32

const (
	SMB2FlagsServerToRedir   HeaderFlags = 0x00000001 // Response flag
	SMB2FlagsAsyncCommand    HeaderFlags = 0x00000002
	SMB2FlagsRelatedOps      HeaderFlags = 0x00000004
	SMB2FlagsSigned          HeaderFlags = 0x00000008
	SMB2FlagsPriorityMask    HeaderFlags = 0x00000070
	SMB2FlagsDfsOperations   HeaderFlags = 0x10000000
	SMB2FlagsReplayOperation HeaderFlags = 0x20000000
)

// IsResponse reports whether the server-to-redirector bit is set.
func (f HeaderFlags) IsResponse() bool { return f&SMB2FlagsServerToRedir != 0 }

// IsAsync reports whether the message uses an AsyncId.
func (f HeaderFlags) IsAsync() bool { return f&SMB2FlagsAsyncCommand != 0 }

// IsSigned reports whether the message carries a signature.
func (f HeaderFlags) IsSigned() bool { return f&SMB2FlagsSigned != 0 }

// IsRelated reports whether the message is a related compound operation.
func (f HeaderFlags) IsRelated() bool { return f&SMB2FlagsRelatedOps != 0 }

// Dialect is an SMB2 dialect revision [MS-SMB2] 2.2.3
type Dialect uint16

const (
	SMB2Dialect0202 Dialect = 0x0202 // SMB 2.0.2
	SMB2Dialect0210 Dialect = 0x0210 // SMB 2.1
	SMB2Dialect0300 Dialect = 0x0300 // SMB 3.0
	SMB2Dialect0302 Dialect = 0x0302 // SMB 3.0.2
	SMB2Dialect0311 Dialect = 0x0311 // SMB 3.1.1
	SMB2DialectWild Dialect = 0x02FF // Wildcard
)

// String returns the dotted dialect revision.
func (d Dialect) String() string {
	switch d {
	case SMB2Dialect0202:
		return "2.0.2"
	case SMB2Dialect0210:
		return "2.1"
	case SMB2Dialect0300:
		return "3.0"
	case SMB2Dialect0302:
		return "3.0.2"
	case SMB2Dialect0311:
		return "3.1.1"
	case SMB2DialectWild:
		return "2.???"
	default:
		return "unknown"
	}
}

// ParseDialect parses a dotted revision such as "2.1" or "3.0.2".
func ParseDialect(s string) (Dialect, error) {
	for _, d := range []Dialect{SMB2Dialect0202, SMB2Dialect0210, SMB2Dialect0300, SMB2Dialect0302, SMB2Dialect0311} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown SMB2 dialect %q", s)
}

// SMB2 Capabilities [MS-SMB2] 2.2.3
const (
	SMB2CapDFS               uint32 = 0x00000001
	SMB2CapLeasing           uint32 = 0x00000002
	SMB2CapLargeMTU          uint32 = 0x00000004
	SMB2CapMultiChannel      uint32 = 0x00000008
	SMB2CapPersistentHandles uint32 = 0x00000010
	SMB2CapDirectoryLeasing  uint32 = 0x00000020
	SMB2CapEncryption        uint32 = 0x00000040
)

// Security mode [MS-SMB2] 2.2.3
const (
	SMB2NegotiateSigningEnabled  uint16 = 0x0001
	SMB2NegotiateSigningRequired uint16 = 0x0002
)

// Session Flags [MS-SMB2] 2.2.6
const (
	SMB2SessionFlagIsGuest     uint16 = 0x0001
	SMB2SessionFlagIsNull      uint16 = 0x0002
	SMB2SessionFlagEncryptData uint16 = 0x0004
)

// Share Types [MS-SMB2] 2.2.10
const (
	SMB2ShareTypeDisk  uint8 = 0x01
	SMB2ShareTypePipe  uint8 = 0x02
	SMB2ShareTypePrint uint8 = 0x03
)
