package iod

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/pkg/transport"
)

// Reasons a received frame is dropped, as reported in metrics.
const (
	dropMalformed   = "malformed"
	dropOrphan      = "orphan"
	dropDuplicate   = "duplicate"
	dropUnsolicited = "unsolicited"
)

// recvPump drains every frame the transport has buffered and delivers each
// to its request by correlation id.
func (c *Connection) recvPump() {
	if !c.State().connected() {
		return
	}

	for {
		frame, err := c.tr.Receive()
		if errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err != nil {
			if c.tr.IsFatal(err) {
				c.enterDead(c.logCtx, fmt.Errorf("%w: receive: %w", ErrConnectionLost, err))
				return
			}
			logger.DebugCtx(c.logCtx, "Transient receive failure", logger.Err(err))
			break
		}

		info, err := c.dialect.ParseFrame(frame)
		if err != nil {
			c.drop(dropMalformed, 0, len(frame), err)
			continue
		}
		now := time.Now()
		c.noteRecv(now)
		c.deliver(frame, info, now)
	}

	if c.State() == StateActive {
		c.updateCapacity()
	}
}

// deliver routes one parsed frame. Interim frames and non-final fragments
// only extend the request's deadline.
func (c *Connection) deliver(frame []byte, info FrameInfo, now time.Time) {
	req := c.table.lookup(info.ID)
	if req == nil {
		c.drop(dropOrphan, info.ID, len(frame), nil)
		return
	}

	c.table.mu.Lock()
	switch req.state {
	case RequestCompleted:
		c.table.mu.Unlock()
		c.drop(dropDuplicate, info.ID, len(frame), ErrProtocolAnomaly)
		return
	case RequestNotSent:
		c.table.mu.Unlock()
		c.drop(dropUnsolicited, info.ID, len(frame), ErrProtocolAnomaly)
		return
	}

	final := true
	switch {
	case info.Interim:
		req.timeSent = now
		final = false
	case req.opts.MultiPart:
		req.frames = append(req.frames, frame)
		if info.More {
			req.timeSent = now
			final = false
		}
	default:
		req.frames = [][]byte{frame}
	}
	c.table.mu.Unlock()

	if s := req.opts.Share; s != nil {
		c.markReachable(c.logCtx, s)
	}
	if final {
		c.complete(req, nil)
	}
}

func (c *Connection) drop(reason string, id uint64, size int, err error) {
	c.metrics.dropped(reason)
	logger.DebugCtx(c.logCtx, "Dropping frame",
		"reason", reason,
		logger.KeyMessageID, id,
		logger.KeySize, size,
		logger.Err(err))
}
