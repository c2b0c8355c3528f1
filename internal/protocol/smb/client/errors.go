package client

import (
	"errors"
	"fmt"

	"github.com/marmos91/smbiod/internal/protocol/smb/types"
)

var (
	// ErrNotResponse is returned for an inbound frame without the
	// server-to-redirector flag.
	ErrNotResponse = errors.New("smb2: frame is not a response")

	// ErrMalformed is returned when a response body is shorter than its
	// fixed structure or points outside the message.
	ErrMalformed = errors.New("smb2: malformed response")

	// ErrDialectNotOffered means the server picked a revision the client
	// did not offer.
	ErrDialectNotOffered = errors.New("smb2: server selected a dialect that was not offered")

	// ErrNoNTLM means the server's SPNEGO hints do not include NTLM.
	ErrNoNTLM = errors.New("smb2: server does not offer NTLM")

	// ErrTooManyRounds means SESSION_SETUP kept asking for more processing.
	ErrTooManyRounds = errors.New("smb2: too many SESSION_SETUP rounds")
)

// StatusError is a response that carried an NT_STATUS error code.
type StatusError struct {
	Command types.Command
	Status  types.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("smb2 %s: %s", e.Command, e.Status)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status types.Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
