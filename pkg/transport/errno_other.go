//go:build !unix

package transport

func isFatalErrno(error) bool { return false }

func isTransientErrno(error) bool { return false }
