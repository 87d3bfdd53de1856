package network

import (
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

// scheduleReconnect starts one background reconnect loop
func (c *Client) scheduleReconnect(cause error) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.backoff < c.opts.ReconnectMin {
		c.backoff = c.opts.ReconnectMin
	}
	if ce, ok := session.AsCloseError(cause); ok && ce.Disposition == session.RateLimited {
		c.backoff = c.opts.ReconnectMax
	}
	backoff := c.backoff
	c.mu.Unlock()

	c.wg.Add(1)
	go c.reconnectLoop(backoff)
}

// reconnectLoop retries the logon with exponential backoff. The loop ends
// once a transport is open; a later failure schedules a new one and the
// backoff keeps growing until the session reaches Online.
func (c *Client) reconnectLoop(backoff time.Duration) {
	defer c.wg.Done()

	for {
		c.log.Infof("🔄 Connection lost, reconnecting in %v...", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.opts.ReconnectMax {
			backoff = c.opts.ReconnectMax
		}
		c.mu.Lock()
		c.backoff = backoff
		c.mu.Unlock()

		if err := c.connect(c.ctx, false); err != nil {
			c.log.Warnf("❌ Reconnection failed: %v", err)
			continue
		}

		c.log.Info("✅ Reconnected to login server")
		c.reconnecting.Store(false)
		return
	}
}

func (c *Client) startKeepalive() {
	c.wg.Add(1)
	go c.keepaliveLoop()
}

// keepaliveLoop sends a ping on the session connection at every tick
func (c *Client) keepaliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		if c.session.State() != session.Online {
			continue
		}
		if err := c.Send(protocol.NewPing()); err != nil {
			c.log.Warnf("⚠️  Keepalive ping failed: %v", err)
		}
	}
}
