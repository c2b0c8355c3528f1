//go:build unix

package transport

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsFatalErrno(t *testing.T) {
	wrap := func(errno unix.Errno) error {
		return &net.OpError{Op: "write", Err: os.NewSyscallError("write", errno)}
	}

	assert.True(t, IsFatal(wrap(unix.ECONNRESET)))
	assert.True(t, IsFatal(wrap(unix.EPIPE)))
	assert.True(t, IsFatal(wrap(unix.ETIMEDOUT)))
	assert.False(t, IsFatal(wrap(unix.EAGAIN)))
	assert.False(t, IsFatal(wrap(unix.ENOBUFS)))
}
