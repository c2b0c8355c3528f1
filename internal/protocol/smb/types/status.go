package types

import "fmt"

// Status is an NT_STATUS code [MS-ERREF] 2.3
type Status uint32

const (
	StatusSuccess                Status = 0x00000000
	StatusPending                Status = 0x00000103
	StatusMoreProcessingRequired Status = 0xC0000016
	StatusInvalidParameter       Status = 0xC000000D
	StatusAccessDenied           Status = 0xC0000022
	StatusBufferOverflow         Status = 0x80000005
	StatusNotSupported           Status = 0xC00000BB
	StatusBadNetworkName         Status = 0xC00000CC
	StatusNetworkNameDeleted     Status = 0xC00000C9
	StatusUserSessionDeleted     Status = 0xC0000203
	StatusNetworkSessionExpired  Status = 0xC000035C
	StatusInvalidDeviceRequest   Status = 0xC0000010
	StatusInternalError          Status = 0xC00000E5
	StatusInsufficientResources  Status = 0xC000009A
	StatusRequestNotAccepted     Status = 0xC00000D0
	StatusLogonFailure           Status = 0xC000006D
	StatusAccountDisabled        Status = 0xC0000072
	StatusPasswordExpired        Status = 0xC0000071
	StatusCancelled              Status = 0xC0000120
)

var statusNames = map[Status]string{
	StatusSuccess:                "STATUS_SUCCESS",
	StatusPending:                "STATUS_PENDING",
	StatusMoreProcessingRequired: "STATUS_MORE_PROCESSING_REQUIRED",
	StatusInvalidParameter:       "STATUS_INVALID_PARAMETER",
	StatusAccessDenied:           "STATUS_ACCESS_DENIED",
	StatusBufferOverflow:         "STATUS_BUFFER_OVERFLOW",
	StatusNotSupported:           "STATUS_NOT_SUPPORTED",
	StatusBadNetworkName:         "STATUS_BAD_NETWORK_NAME",
	StatusNetworkNameDeleted:     "STATUS_NETWORK_NAME_DELETED",
	StatusUserSessionDeleted:     "STATUS_USER_SESSION_DELETED",
	StatusNetworkSessionExpired:  "STATUS_NETWORK_SESSION_EXPIRED",
	StatusInvalidDeviceRequest:   "STATUS_INVALID_DEVICE_REQUEST",
	StatusInternalError:          "STATUS_INTERNAL_ERROR",
	StatusInsufficientResources:  "STATUS_INSUFFICIENT_RESOURCES",
	StatusRequestNotAccepted:     "STATUS_REQUEST_NOT_ACCEPTED",
	StatusLogonFailure:           "STATUS_LOGON_FAILURE",
	StatusAccountDisabled:        "STATUS_ACCOUNT_DISABLED",
	StatusPasswordExpired:        "STATUS_PASSWORD_EXPIRED",
	StatusCancelled:              "STATUS_CANCELLED",
}

// String returns a human-readable name for the status code.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_0x%08X", uint32(s))
}

// IsSuccess returns true if the status indicates success
func (s Status) IsSuccess() bool {
	// NT_STATUS success codes have the high bit clear
	return s&0x80000000 == 0
}

// IsError returns true if the status indicates an error
func (s Status) IsError() bool {
	// NT_STATUS error codes have the two high bits set (0xC0000000)
	return s&0xC0000000 == 0xC0000000
}

// IsWarning returns true if the status indicates a warning
func (s Status) IsWarning() bool {
	return s&0xC0000000 == 0x80000000
}
