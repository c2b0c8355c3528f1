package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
)

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// MinMessageSize and MaxMessageSize bound accepted frame payloads.
	// Anything outside the range desynchronizes the stream and is fatal.
	MinMessageSize int
	MaxMessageSize int
}

// DefaultTCPConfig returns settings suitable for SMB2 over port 445.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		DialTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MinMessageSize: 4,
		MaxMessageSize: 8 << 20,
	}
}

// TCP is a Transport over a TCP stream with NetBIOS session framing
// (direct-hosted SMB, [MS-SMB2] 2.1). A reader goroutine queues complete
// frames and invokes the ready callback.
type TCP struct {
	cfg TCPConfig

	mu         sync.Mutex
	opened     bool
	localAddr  net.Addr
	conn       net.Conn
	frames     [][]byte
	readErr    error
	readerDone chan struct{}
	ready      func()
}

// NewTCP creates a TCP transport.
func NewTCP(cfg TCPConfig) *TCP {
	def := DefaultTCPConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MinMessageSize <= 0 {
		cfg.MinMessageSize = def.MinMessageSize
	}
	return &TCP{cfg: cfg}
}

// Open implements Transport.
func (t *TCP) Open() error {
	if err := t.Disconnect(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = true
	t.localAddr = nil
	t.frames = nil
	t.readErr = nil
	return nil
}

// Bind implements Transport.
func (t *TCP) Bind(localAddr string) error {
	if localAddr == "" {
		return nil
	}
	addr, err := net.ResolveTCPAddr("tcp", localAddr)
	if err != nil {
		return fmt.Errorf("resolve local address %q: %w", localAddr, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ErrNotConnected
	}
	t.localAddr = addr
	return nil
}

// Connect implements Transport.
func (t *TCP) Connect(ctx context.Context, remoteAddr string) error {
	t.mu.Lock()
	if !t.opened {
		t.mu.Unlock()
		return ErrNotConnected
	}
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport: already connected")
	}
	dialer := net.Dialer{Timeout: t.cfg.DialTimeout, LocalAddr: t.localAddr}
	t.mu.Unlock()

	conn, err := dialer.DialContext(ctx, "tcp", remoteAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", remoteAddr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.readerDone = done
	t.mu.Unlock()

	go t.readLoop(conn, done)

	logger.Debug("Transport connected", logger.KeyServer, remoteAddr, logger.KeyLocalAddr, conn.LocalAddr().String())
	return nil
}

func (t *TCP) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		frame, err := readFrame(conn, t.cfg.MinMessageSize, t.cfg.MaxMessageSize)

		t.mu.Lock()
		current := t.conn == conn
		if current {
			if err != nil {
				t.readErr = err
			} else {
				t.frames = append(t.frames, frame)
			}
		}
		ready := t.ready
		t.mu.Unlock()

		if current && ready != nil {
			ready()
		}
		if err != nil {
			if current {
				logger.Debug("Transport reader stopped", logger.Err(err))
			}
			return
		}
	}
}

// Send implements Transport.
func (t *TCP) Send(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	frame, err := encodeFrame(p)
	if err != nil {
		return 0, err
	}
	if t.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}

	written, err := conn.Write(frame)
	if err != nil && written > 0 {
		// The peer has a truncated frame; the stream cannot be resynchronized.
		err = fmt.Errorf("%w: partial write of %d/%d bytes: %w", ErrFraming, written, len(frame), err)
	}
	return max(written-nbHeaderSize, 0), err
}

// Receive implements Transport.
func (t *TCP) Receive() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) > 0 {
		frame := t.frames[0]
		t.frames[0] = nil
		t.frames = t.frames[1:]
		return frame, nil
	}
	if t.readErr != nil {
		return nil, t.readErr
	}
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return nil, ErrWouldBlock
}

// Disconnect implements Transport.
func (t *TCP) Disconnect() error {
	t.mu.Lock()
	conn, done := t.conn, t.readerDone
	t.conn = nil
	t.readerDone = nil
	t.frames = nil
	t.readErr = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// SetReadyFunc implements Transport.
func (t *TCP) SetReadyFunc(fn func()) {
	t.mu.Lock()
	t.ready = fn
	t.mu.Unlock()
}

// IsFatal implements Transport.
func (t *TCP) IsFatal(err error) bool {
	return IsFatal(err)
}

// IsFatal classifies connection errors. Timeouts and resource exhaustion
// are transient; end of stream, resets and framing loss are fatal. Errors
// that cannot be classified are treated as fatal.
func IsFatal(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrWouldBlock),
		errors.Is(err, ErrFrameTooLarge):
		return false
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, ErrFraming),
		errors.Is(err, ErrNotConnected),
		isFatalErrno(err):
		return true
	case isTransientErrno(err):
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return true
}
