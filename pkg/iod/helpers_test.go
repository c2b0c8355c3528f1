package iod

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbiod/pkg/transport"
)

// Test wire format: 8-byte little-endian correlation id, one flag byte,
// then the body.
const (
	flagInterim byte = 1 << iota
	flagMore
)

var errTransient = errors.New("transient")

func msg(body string) []byte {
	return append(make([]byte, 9), body...)
}

func frame(id uint64, flags byte, body string) []byte {
	b := make([]byte, 9, 9+len(body))
	binary.LittleEndian.PutUint64(b, id)
	b[8] = flags
	return append(b, body...)
}

func bodyOf(p []byte) string { return string(p[9:]) }

func idOf(p []byte) uint64 { return binary.LittleEndian.Uint64(p) }

type sentFrame struct {
	id   uint64
	body string
}

// fakeTransport is an in-memory transport. respond plays the server: it
// runs on every successful Send and returns the frames to deliver back.
type fakeTransport struct {
	mu         sync.Mutex
	opened     bool
	connected  bool
	openErr    error
	connectErr error
	sendErrs   []error
	partial    []error
	recvErr    error
	inbox      [][]byte
	sent       []sentFrame
	ready      func()
	respond    func(id uint64, body string) [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{respond: echo}
}

// echo answers every request with "re:" + body.
func echo(id uint64, body string) [][]byte {
	return [][]byte{frame(id, 0, "re:"+body)}
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeTransport) Bind(string) error { return nil }

func (f *fakeTransport) Connect(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.recvErr = nil
	f.inbox = nil
	return nil
}

func (f *fakeTransport) Send(p []byte) (int, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return 0, transport.ErrNotConnected
	}
	if len(f.partial) > 0 {
		// Half the frame reaches the wire before the error.
		err := f.partial[0]
		f.partial = f.partial[1:]
		f.mu.Unlock()
		return len(p) / 2, err
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			f.mu.Unlock()
			return 0, err
		}
	}
	id, body := idOf(p), bodyOf(p)
	f.sent = append(f.sent, sentFrame{id: id, body: body})
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		f.push(respond(id, body)...)
	}
	return len(p), nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) > 0 {
		b := f.inbox[0]
		f.inbox = f.inbox[1:]
		return b, nil
	}
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if !f.connected {
		return nil, transport.ErrNotConnected
	}
	return nil, transport.ErrWouldBlock
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsFatal(err error) bool {
	if errors.Is(err, errTransient) {
		return false
	}
	return transport.IsFatal(err)
}

func (f *fakeTransport) SetReadyFunc(fn func()) {
	f.mu.Lock()
	f.ready = fn
	f.mu.Unlock()
}

// push delivers frames as if they had arrived from the server.
func (f *fakeTransport) push(frames ...[]byte) {
	if len(frames) == 0 {
		return
	}
	f.mu.Lock()
	f.inbox = append(f.inbox, frames...)
	ready := f.ready
	f.mu.Unlock()
	if ready != nil {
		ready()
	}
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	f.recvErr = err
	ready := f.ready
	f.mu.Unlock()
	if ready != nil {
		ready()
	}
}

func (f *fakeTransport) setRespond(fn func(id uint64, body string) [][]byte) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeTransport) sentFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) sentBodies() []string {
	var out []string
	for _, s := range f.sentFrames() {
		out = append(out, s.body)
	}
	return out
}

// testDialect drives the fake wire format.
type testDialect struct {
	mu       sync.Mutex
	negErr   error
	authErr  error
	capacity int
	resets   int
}

func (d *testDialect) Reset() {
	d.mu.Lock()
	d.resets++
	d.mu.Unlock()
}

func (d *testDialect) Negotiate(ctx context.Context, ex Exchanger) (*Negotiated, error) {
	d.mu.Lock()
	negErr, capacity := d.negErr, d.capacity
	d.mu.Unlock()
	if negErr != nil {
		return nil, negErr
	}
	if _, err := ex.Exchange(ctx, msg("negotiate"), nil); err != nil {
		return nil, err
	}
	return &Negotiated{Dialect: "test", MaxOutstanding: capacity}, nil
}

func (d *testDialect) Authenticate(ctx context.Context, ex Exchanger) error {
	d.mu.Lock()
	authErr := d.authErr
	d.mu.Unlock()
	if authErr != nil {
		return authErr
	}
	_, err := ex.Exchange(ctx, msg("auth"), nil)
	return err
}

func (d *testDialect) AttachShare(ctx context.Context, ex Exchanger, share *Share) (uint64, error) {
	resp, err := ex.Exchange(ctx, msg("attach:"+share.Name), share)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(bodyOf(resp), "re:") {
		return 0, fmt.Errorf("attach refused: %s", bodyOf(resp))
	}
	return 7, nil
}

func (d *testDialect) Logoff(ctx context.Context, ex Exchanger) error {
	_, err := ex.Exchange(ctx, msg("logoff"), nil)
	return err
}

func (d *testDialect) KeepalivePayload() ([]byte, error) { return msg("ping"), nil }

func (d *testDialect) Stamp(payload []byte, id uint64, _ *Share) error {
	if len(payload) < 9 {
		return fmt.Errorf("payload too short: %d bytes", len(payload))
	}
	binary.LittleEndian.PutUint64(payload, id)
	return nil
}

func (d *testDialect) ParseFrame(b []byte) (FrameInfo, error) {
	if len(b) < 9 {
		return FrameInfo{}, fmt.Errorf("frame too short: %d bytes", len(b))
	}
	return FrameInfo{
		ID:      idOf(b),
		Interim: b[8]&flagInterim != 0,
		More:    b[8]&flagMore != 0,
	}, nil
}

// creditDialect also reports a server-granted capacity.
type creditDialect struct {
	testDialect
	credits int
}

func (d *creditDialect) Capacity() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credits
}

// recorder is a Notifier that records calls.
type recorder struct {
	mu          sync.Mutex
	unreachable []string
	reachable   []string
	dead        int
}

func (r *recorder) OnShareUnreachable(s *Share) {
	r.mu.Lock()
	r.unreachable = append(r.unreachable, s.Name)
	r.mu.Unlock()
}

func (r *recorder) OnShareReachable(s *Share) {
	r.mu.Lock()
	r.reachable = append(r.reachable, s.Name)
	r.mu.Unlock()
}

func (r *recorder) OnConnectionDead(*Connection) {
	r.mu.Lock()
	r.dead++
	r.mu.Unlock()
}

func (r *recorder) counts() (unreachable, reachable, dead int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unreachable), len(r.reachable), r.dead
}

func testConfig() Config {
	return Config{
		RequestTimeout:     time.Second,
		TickInterval:       10 * time.Millisecond,
		KeepaliveInterval:  time.Hour,
		UnresponsiveWindow: time.Hour,
		MaxOutstanding:     64,
		MaxSendAttempts:    3,
		SendRetryInterval:  5 * time.Millisecond,
	}
}

type harness struct {
	conn    *Connection
	tr      *fakeTransport
	dialect *testDialect
	notes   *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithDialect(t, cfg, &testDialect{})
}

func newHarnessWithDialect(t *testing.T, cfg Config, d Dialect) *harness {
	t.Helper()
	h := &harness{tr: newFakeTransport(), notes: &recorder{}}
	if td, ok := d.(*testDialect); ok {
		h.dialect = td
	}
	conn, err := NewConnection("fake:445", h.tr, d, Options{ID: t.Name(), Config: cfg, Notifier: h.notes})
	require.NoError(t, err)
	h.conn = conn
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Shutdown(ctx)
	})
	return h
}

// establish brings the harness connection to Active with the given shares.
func (h *harness) establish(t *testing.T, shares ...*Share) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.conn.Establish(ctx, shares...))
	require.Equal(t, StateActive, h.conn.State())
}

// hold makes the fake server stop answering; the ids it would have
// answered are returned by the accessor.
func (h *harness) hold() func() []uint64 {
	var mu sync.Mutex
	var ids []uint64
	h.tr.setRespond(func(id uint64, _ string) [][]byte {
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
		return nil
	})
	return func() []uint64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]uint64(nil), ids...)
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
