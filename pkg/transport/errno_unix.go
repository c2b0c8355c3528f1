//go:build unix

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isFatalErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.ECONNRESET, unix.EPIPE, unix.ECONNABORTED, unix.ECONNREFUSED,
		unix.ENETUNREACH, unix.EHOSTUNREACH, unix.ENETDOWN, unix.ENOTCONN, unix.ETIMEDOUT:
		return true
	}
	return false
}

func isTransientErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.EAGAIN, unix.EINTR, unix.ENOBUFS, unix.ENOMEM:
		return true
	}
	return false
}
