package iod

import (
	"fmt"
	"time"

	"github.com/marmos91/smbiod/internal/logger"
)

// supervise enforces request timeouts, flags shares whose requests have
// gone quiet and injects a keepalive on an idle session.
//
// A request times out only once strictly more than its effective timeout
// has elapsed since it was sent (or since its last interim response).
// Timeouts never tear the connection down by themselves.
func (c *Connection) supervise(now time.Time) {
	if !c.State().connected() {
		return
	}

	half := c.cfg.UnresponsiveWindow / 2
	quiet := now.Sub(c.lastRecv) >= half
	for _, req := range c.table.snapshot(RequestSent) {
		timeout := c.cfg.effectiveTimeout(req.opts.Timeout)
		waited := now.Sub(req.timeSent)
		if waited > timeout {
			logger.DebugCtx(c.logCtx, "Request timed out",
				logger.KeyMessageID, req.id,
				logger.KeyTimeout, timeout.String())
			c.complete(req, fmt.Errorf("%w after %s", ErrTimeout, timeout))
			continue
		}
		if s := req.opts.Share; s != nil && quiet && waited >= half {
			c.markUnreachable(c.logCtx, s)
		}
	}

	if c.State() == StateActive && c.keepalive == nil &&
		now.Sub(latest(c.lastSend, c.lastRecv)) >= c.cfg.KeepaliveInterval {
		c.sendKeepalive()
	}
}

// sendKeepalive queues an internal no-op request. A successful reply
// proves the session alive and restores every attached share.
func (c *Connection) sendKeepalive() {
	payload, err := c.dialect.KeepalivePayload()
	if err != nil {
		logger.DebugCtx(c.logCtx, "Keepalive unavailable", logger.Err(err))
		return
	}

	req := newRequest(payload, RequestOptions{})
	req.internal = true
	req.onDone = func(r *Request) {
		c.keepalive = nil
		if r.err != nil {
			logger.DebugCtx(c.logCtx, "Keepalive failed", logger.Err(r.err))
			return
		}
		for _, s := range c.Shares() {
			c.markReachable(c.logCtx, s)
		}
	}
	if err := c.table.insert(req); err != nil {
		return
	}
	c.keepalive = req
	c.stats.keepalives.Add(1)
	c.metrics.keepalive()
	logger.DebugCtx(c.logCtx, "Keepalive queued", logger.KeyMessageID, req.id)
	c.wakeup()
}
