package iod

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/pkg/transport"
)

// sendPump transmits NotSent requests in submission order. Ordinary
// requests wait until the session is Active; internal ones go out as soon
// as the transport is up. A transient send failure stops the pass and is
// retried after SendRetryInterval.
func (c *Connection) sendPump() {
	st := c.State()
	if !st.connected() {
		return
	}
	now := time.Now()
	if now.Before(c.sendRetryAt) {
		return
	}

	for _, req := range c.table.snapshot(RequestNotSent) {
		if !req.internal && st != StateActive {
			continue
		}
		c.table.mu.Lock()
		cancelled := req.cancelled
		c.table.mu.Unlock()
		if cancelled {
			continue
		}

		if !req.stamped || req.stampedID != req.id {
			if err := c.dialect.Stamp(req.payload, req.id, req.opts.Share); err != nil {
				c.complete(req, fmt.Errorf("stamp request: %w", err))
				continue
			}
			req.stamped, req.stampedID = true, req.id
		}

		req.attempts++
		n, err := c.tr.Send(req.payload)
		switch {
		case err != nil && n > 0:
			// Part of the frame is on the wire, so resending would corrupt the stream.
			err = fmt.Errorf("%w: partial send of %d/%d bytes: %w", ErrConnectionLost, n, len(req.payload), err)
		case err == nil && n < len(req.payload):
			err = fmt.Errorf("%w: short write of %d/%d bytes", ErrConnectionLost, n, len(req.payload))
		}
		if err == nil {
			c.table.mu.Lock()
			req.state = RequestSent
			req.timeSent = now
			req.generation = c.generation.Load()
			c.table.mu.Unlock()
			c.noteSend(now)
			c.stats.sent.Add(1)
			continue
		}

		switch {
		case errors.Is(err, transport.ErrFrameTooLarge):
			c.complete(req, err)
			continue
		case errors.Is(err, ErrConnectionLost) || c.tr.IsFatal(err):
			c.enterDead(c.logCtx, fmt.Errorf("%w: send: %w", ErrConnectionLost, err))
			return
		}

		logger.DebugCtx(c.logCtx, "Send did not progress",
			logger.KeyMessageID, req.id,
			logger.KeyAttempt, req.attempts,
			logger.Err(err))
		if req.attempts >= c.cfg.MaxSendAttempts {
			c.complete(req, fmt.Errorf("%w: no progress after %d send attempts: %w", ErrNotConnected, req.attempts, err))
			c.enterDead(c.logCtx, fmt.Errorf("%w: send stalled: %w", ErrConnectionLost, err))
			return
		}
		c.sendRetryAt = now.Add(c.cfg.SendRetryInterval)
		return
	}
}
