package iod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbiod/pkg/transport"
)

func TestEstablish(t *testing.T) {
	h := newHarness(t, testConfig())
	share := NewShare("data")

	h.establish(t, share)

	assert.Equal(t, uint64(1), h.conn.Generation())
	assert.True(t, share.Attached())
	assert.Equal(t, uint64(7), share.ID())
	assert.Equal(t, uint64(1), share.Generation())
	assert.Equal(t, []*Share{share}, h.conn.Shares())
	assert.Equal(t, "test", h.conn.Negotiated().Dialect)
	assert.Equal(t, []string{"negotiate", "auth", "attach:data"}, h.tr.sentBodies())

	// Correlation ids start at zero on a fresh transport.
	sent := h.tr.sentFrames()
	for i, f := range sent {
		assert.Equal(t, uint64(i), f.id)
	}
}

func TestCall(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)

	resp, err := h.conn.Call(waitCtx(t), msg("hello"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "re:hello", bodyOf(resp))

	st := h.conn.Stats()
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 0, st.InFlight)
	assert.Equal(t, 0, st.GateInUse)
	assert.Equal(t, "test", st.Dialect)
	assert.False(t, st.LastReceive.IsZero())
}

func TestSubmitBeforeConnect(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.conn.Submit(waitCtx(t), msg("early"), RequestOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEventRejectedInWrongState(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.conn.PostEvent(waitCtx(t), EventAuthenticate, nil, true)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateNotConnected, h.conn.State())
}

func TestAttachRequiresShare(t *testing.T) {
	h := newHarness(t, testConfig())
	err := h.conn.PostEvent(waitCtx(t), EventAttachShare, nil, true)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEstablishFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		step  string
	}{
		{"open", func(h *harness) { h.tr.openErr = errors.New("no sockets") }, "Connect"},
		{"connect", func(h *harness) { h.tr.connectErr = errors.New("refused") }, "Negotiate"},
		{"negotiate", func(h *harness) { h.dialect.negErr = errors.New("no common dialect") }, "Negotiate"},
		{"authenticate", func(h *harness) { h.dialect.authErr = errors.New("logon failure") }, "AuthenticateSession"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			tt.setup(h)

			err := h.conn.Establish(waitCtx(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.step)
			assert.Equal(t, StateDead, h.conn.State())

			_, _, dead := h.notes.counts()
			assert.Equal(t, 1, dead)

			// A dead connection refuses work and attaches fail immediately.
			_, err = h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{})
			assert.ErrorIs(t, err, ErrNotConnected)
			err = h.conn.PostEvent(waitCtx(t), EventAttachShare, NewShare("s"), true)
			assert.ErrorIs(t, err, ErrNotConnected)
		})
	}
}

func TestCapacityIsFIFO(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutstanding = 2
	h := newHarness(t, cfg)
	h.establish(t)
	held := h.hold()
	ctx := waitCtx(t)

	var reqs [5]*Request
	var err error
	reqs[0], err = h.conn.Submit(ctx, msg("r1"), RequestOptions{})
	require.NoError(t, err)
	reqs[1], err = h.conn.Submit(ctx, msg("r2"), RequestOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 2; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.conn.Submit(ctx, msg(fmt.Sprintf("r%d", i+1)), RequestOptions{})
			assert.NoError(t, err)
			reqs[i] = r
		}()
		require.Eventually(t, func() bool { return h.conn.gate.Waiting() == i-1 }, time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(held()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, h.conn.gate.InUse())

	// Answer in order; each answer admits exactly the next waiter, which
	// must reach the wire before the following answer.
	for n := 0; n < 5; n++ {
		h.tr.push(frame(held()[n], 0, "ok"))
		want := min(n+3, 5)
		require.Eventually(t, func() bool { return len(held()) >= want }, time.Second, time.Millisecond)
	}
	wg.Wait()

	for i, r := range reqs {
		resp, err := h.conn.Wait(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "ok", bodyOf(resp), "request %d", i)
	}

	var bodies []string
	for _, f := range h.tr.sentFrames()[2:] {
		bodies = append(bodies, f.body)
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5"}, bodies)
	assert.Equal(t, 0, h.conn.gate.InUse())
}

func TestZeroCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutstanding = 0
	h := newHarness(t, cfg)
	h.establish(t)

	_, err := h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRequestTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	held := h.hold()

	start := time.Now()
	_, err := h.conn.Call(waitCtx(t), msg("slow"), RequestOptions{Timeout: -50 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Timeouts never tear the connection down, and a late reply is dropped.
	assert.Equal(t, StateActive, h.conn.State())
	h.tr.push(frame(held()[0], 0, "late"))

	h.tr.setRespond(echo)
	resp, err := h.conn.Call(waitCtx(t), msg("next"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "re:next", bodyOf(resp))
	assert.Equal(t, uint64(1), h.conn.Stats().Timeouts)
}

func TestResponseBeforeTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.setRespond(func(id uint64, body string) [][]byte {
		go func() {
			time.Sleep(20 * time.Millisecond)
			h.tr.push(frame(id, 0, "re:"+body))
		}()
		return nil
	})

	resp, err := h.conn.Call(waitCtx(t), msg("quick"), RequestOptions{Timeout: -200 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "re:quick", bodyOf(resp))
	assert.Zero(t, h.conn.Stats().Timeouts)
}

func TestDelayedEchoRespectsCapacity(t *testing.T) {
	const delay = 30 * time.Millisecond
	cfg := testConfig()
	cfg.MaxOutstanding = 2
	h := newHarness(t, cfg)
	h.establish(t)

	var mu sync.Mutex
	var inflight, peak int
	h.tr.setRespond(func(id uint64, body string) [][]byte {
		mu.Lock()
		inflight++
		peak = max(peak, inflight)
		mu.Unlock()
		go func() {
			time.Sleep(delay)
			mu.Lock()
			inflight--
			mu.Unlock()
			h.tr.push(frame(id, 0, "re:"+body))
		}()
		return nil
	})

	before := h.conn.Stats().Completed
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.conn.Call(waitCtx(t), msg(fmt.Sprintf("r%d", i)), RequestOptions{})
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("re:r%d", i), bodyOf(resp))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak)
	assert.Less(t, time.Since(start), 10*delay)
	assert.Equal(t, uint64(5), h.conn.Stats().Completed-before)
}

func TestInterimResponseExtendsDeadline(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)

	h.tr.setRespond(func(id uint64, _ string) [][]byte {
		go func() {
			for i := 0; i < 3; i++ {
				h.tr.push(frame(id, flagInterim, ""))
				time.Sleep(50 * time.Millisecond)
			}
			h.tr.push(frame(id, 0, "done"))
		}()
		return nil
	})

	resp, err := h.conn.Call(waitCtx(t), msg("long"), RequestOptions{Timeout: -100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "done", bodyOf(resp))
}

func TestMultiPartResponse(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.setRespond(func(id uint64, _ string) [][]byte {
		return [][]byte{
			frame(id, flagMore, "a"),
			frame(id, flagMore, "b"),
			frame(id, 0, "c"),
		}
	})

	req, err := h.conn.Submit(waitCtx(t), msg("list"), RequestOptions{MultiPart: true})
	require.NoError(t, err)
	<-req.Done()
	frags := req.Fragments()
	require.Len(t, frags, 3)
	assert.Equal(t, "c", bodyOf(frags[2]))

	resp, err := h.conn.Wait(waitCtx(t), req)
	require.NoError(t, err)
	assert.Len(t, resp, 3*10)
}

func TestSinglePartTakesFirstFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.setRespond(func(id uint64, _ string) [][]byte {
		return [][]byte{frame(id, flagMore, "first"), frame(id, 0, "second")}
	})

	resp, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", bodyOf(resp))
}

func TestAnomalousFramesAreDropped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.setRespond(func(id uint64, body string) [][]byte {
		return [][]byte{
			{0x01, 0x02},                // malformed
			frame(id+1000, 0, "orphan"), // unknown id
			frame(id, 0, "re:"+body),
			frame(id, 0, "duplicate"),
		}
	})

	resp, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "re:x", bodyOf(resp))
	assert.Equal(t, StateActive, h.conn.State())
}

func TestFatalReceiveKillsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.SendRetryInterval = time.Hour
	h := newHarness(t, cfg)
	share := NewShare("data")
	h.establish(t, share)
	h.hold()

	ctx := waitCtx(t)
	var sent []*Request
	for i := range 3 {
		req, err := h.conn.Submit(ctx, msg(fmt.Sprintf("sent%d", i)), RequestOptions{Share: share})
		require.NoError(t, err)
		sent = append(sent, req)
	}
	require.Eventually(t, func() bool { return h.conn.Stats().InFlight == 3 }, time.Second, time.Millisecond)

	// A transient failure parks the rest of the queue until the retry interval.
	h.tr.mu.Lock()
	h.tr.sendErrs = []error{errTransient}
	h.tr.mu.Unlock()
	var queued []*Request
	for i := range 2 {
		req, err := h.conn.Submit(ctx, msg(fmt.Sprintf("queued%d", i)), RequestOptions{})
		require.NoError(t, err)
		queued = append(queued, req)
	}
	require.Eventually(t, func() bool { return h.conn.Stats().Queued == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 5, h.conn.gate.InUse())

	h.tr.fail(io.EOF)

	for _, req := range sent {
		_, err := h.conn.Wait(ctx, req)
		require.ErrorIs(t, err, ErrConnectionLost)
		assert.Equal(t, "connection_lost", Kind(err))
	}
	for _, req := range queued {
		_, err := h.conn.Wait(ctx, req)
		require.ErrorIs(t, err, ErrNotConnected)
		assert.Equal(t, "not_connected", Kind(err))
	}
	assert.Equal(t, StateDead, h.conn.State())
	assert.Equal(t, 0, h.conn.gate.InUse())

	st := h.conn.Stats()
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 0, st.InFlight)

	require.Eventually(t, func() bool {
		_, _, dead := h.notes.counts()
		return dead == 1
	}, time.Second, time.Millisecond)
	assert.False(t, share.Reachable())
	unreachable, _, _ := h.notes.counts()
	assert.Equal(t, 1, unreachable)
}

func TestPartialSendKillsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.mu.Lock()
	h.tr.partial = []error{errTransient}
	h.tr.mu.Unlock()

	_, err := h.conn.Call(waitCtx(t), msg("big"), RequestOptions{})
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, StateDead, h.conn.State())
	assert.NotContains(t, h.tr.sentBodies(), "big")
	assert.Equal(t, 0, h.conn.gate.InUse())
}

func TestDisconnectFailsOutstanding(t *testing.T) {
	h := newHarness(t, testConfig())
	share := NewShare("data")
	h.establish(t, share)

	h.hold()
	req, err := h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{Timeout: -10 * time.Second})
	require.NoError(t, err)

	// Logoff is best effort; the held server never answers it.
	require.NoError(t, h.conn.PostEvent(waitCtx(t), EventDisconnect, nil, true))

	_, err = h.conn.Wait(waitCtx(t), req)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateNotConnected, h.conn.State())
	assert.False(t, share.Attached())
	assert.Empty(t, h.conn.Shares())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	require.NoError(t, h.conn.PostEvent(waitCtx(t), EventDisconnect, nil, true))

	h.establish(t)
	assert.Equal(t, uint64(2), h.conn.Generation())

	// Ids restart at zero on the new transport.
	var zeroIDs int
	for _, f := range h.tr.sentFrames() {
		if f.id == 0 {
			zeroIDs++
		}
	}
	assert.Equal(t, 2, zeroIDs)

	resp, err := h.conn.Call(waitCtx(t), msg("again"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "re:again", bodyOf(resp))
}

func TestStaleRequestsFailOnRenegotiate(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.hold()

	req, err := h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.conn.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	// Every route into Reconnecting drains the table first, so forge an
	// in-flight request from an older generation.
	h.conn.table.mu.Lock()
	req.generation = 0
	h.conn.table.mu.Unlock()
	h.conn.generation.Store(0)

	h.tr.setRespond(func(id uint64, body string) [][]byte {
		if body == "x" {
			return nil
		}
		return echo(id, body)
	})
	h.conn.state.Store(int32(StateReconnecting))
	require.NoError(t, h.conn.PostEvent(waitCtx(t), EventNegotiate, nil, true))

	_, err = h.conn.Wait(waitCtx(t), req)
	assert.ErrorIs(t, err, ErrReconnected)
}

func TestParkedRequestsAreRenumbered(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := waitCtx(t)
	require.NoError(t, h.conn.PostEvent(ctx, EventConnect, nil, true))
	require.NoError(t, h.conn.PostEvent(ctx, EventNegotiate, nil, true))

	req, err := h.conn.Submit(ctx, msg("parked"), RequestOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, req.ID(), parkedBase)

	require.NoError(t, h.conn.PostEvent(ctx, EventAuthenticate, nil, true))
	resp, err := h.conn.Wait(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "re:parked", bodyOf(resp))

	sent := h.tr.sentFrames()
	require.Len(t, sent, 3)
	assert.Equal(t, sentFrame{id: 2, body: "parked"}, sent[2])
}

func TestCancelInterruptsWait(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.hold()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := h.conn.Submit(ctx, msg("x"), RequestOptions{})
	require.NoError(t, err)
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = h.conn.Wait(ctx, req)
	assert.ErrorIs(t, err, ErrInterrupted)
	require.Eventually(t, func() bool { return h.conn.gate.InUse() == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.conn.table.len() == 0 }, time.Second, time.Millisecond)
}

func TestCancelBeforeSend(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := waitCtx(t)
	require.NoError(t, h.conn.PostEvent(ctx, EventConnect, nil, true))

	req, err := h.conn.Submit(ctx, msg("x"), RequestOptions{})
	require.NoError(t, err)
	h.conn.Cancel(req)

	_, err = h.conn.Wait(ctx, req)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, h.tr.sentFrames())
}

func TestWaitDeadlineKeepsRequestQueued(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	held := h.hold()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := h.conn.Submit(ctx, msg("x"), RequestOptions{})
	require.NoError(t, err)

	_, err = h.conn.Wait(ctx, req)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, h.conn.gate.InUse())
	require.Eventually(t, func() bool { return len(held()) == 1 }, time.Second, time.Millisecond)

	// The late reply completes the abandoned request and frees its slot.
	h.tr.push(frame(held()[0], 0, "late"))
	require.Eventually(t, func() bool { return h.conn.gate.InUse() == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.conn.table.len() == 0 }, time.Second, time.Millisecond)
}

func TestTransientSendIsRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.mu.Lock()
	h.tr.sendErrs = []error{errTransient, errTransient}
	h.tr.mu.Unlock()

	resp, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "re:x", bodyOf(resp))
}

func TestSendStallKillsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.mu.Lock()
	h.tr.sendErrs = []error{errTransient, errTransient, errTransient}
	h.tr.mu.Unlock()

	_, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
	require.Eventually(t, func() bool { return h.conn.State() == StateDead }, time.Second, time.Millisecond)
}

func TestFatalSendKillsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.mu.Lock()
	h.tr.sendErrs = []error{io.ErrUnexpectedEOF}
	h.tr.mu.Unlock()

	_, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDead, h.conn.State())
}

func TestOversizedRequestFailsAlone(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.tr.mu.Lock()
	h.tr.sendErrs = []error{transport.ErrFrameTooLarge}
	h.tr.mu.Unlock()

	_, err := h.conn.Call(waitCtx(t), msg("big"), RequestOptions{})
	assert.ErrorIs(t, err, transport.ErrFrameTooLarge)
	assert.Equal(t, StateActive, h.conn.State())
}

func TestStampFailureFailsRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)

	_, err := h.conn.Call(waitCtx(t), []byte{1, 2}, RequestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stamp request")
	assert.Equal(t, StateActive, h.conn.State())
}

func TestKeepalive(t *testing.T) {
	cfg := testConfig()
	cfg.KeepaliveInterval = 30 * time.Millisecond
	h := newHarness(t, cfg)
	h.establish(t)

	require.Eventually(t, func() bool {
		for _, b := range h.tr.sentBodies() {
			if b == "ping" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, h.conn.Stats().Keepalives, uint64(1))
	assert.Equal(t, StateActive, h.conn.State())
}

func TestSoftUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.UnresponsiveWindow = 40 * time.Millisecond
	h := newHarness(t, cfg)
	share := NewShare("data")
	h.establish(t, share)
	held := h.hold()

	req, err := h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{Share: share})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !share.Reachable() }, time.Second, time.Millisecond)
	unreachable, _, _ := h.notes.counts()
	assert.Equal(t, 1, unreachable)
	assert.Equal(t, StateActive, h.conn.State())

	h.tr.push(frame(held()[0], 0, "back"))
	_, err = h.conn.Wait(waitCtx(t), req)
	require.NoError(t, err)
	assert.True(t, share.Reachable())
	_, reachable, _ := h.notes.counts()
	assert.Equal(t, 1, reachable)
}

func TestCapacityFollowsCredits(t *testing.T) {
	d := &creditDialect{credits: 3}
	h := newHarnessWithDialect(t, testConfig(), d)
	h.establish(t)

	assert.Equal(t, 3, h.conn.gate.Capacity())

	d.mu.Lock()
	d.credits = 500
	d.mu.Unlock()
	_, err := h.conn.Call(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.conn.gate.Capacity() == 64 }, time.Second, time.Millisecond)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	h.establish(t)
	h.hold()

	req, err := h.conn.Submit(waitCtx(t), msg("x"), RequestOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.conn.Shutdown(waitCtx(t)))
		}()
	}
	wg.Wait()

	_, err = h.conn.Wait(waitCtx(t), req)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = h.conn.Submit(waitCtx(t), msg("y"), RequestOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.conn.PostEvent(waitCtx(t), EventConnect, nil, true), ErrClosed)

	select {
	case <-h.conn.Done():
	default:
		t.Fatal("daemon still running")
	}
}

func TestShutdownDuringEstablish(t *testing.T) {
	h := newHarness(t, testConfig())
	h.hold()

	errc := make(chan error, 1)
	go func() { errc <- h.conn.Establish(context.Background()) }()
	require.Eventually(t, func() bool { return h.conn.State() == StateTransportActive }, time.Second, time.Millisecond)

	require.NoError(t, h.conn.Shutdown(waitCtx(t)))
	err := <-errc
	assert.ErrorIs(t, err, ErrClosed)
}
