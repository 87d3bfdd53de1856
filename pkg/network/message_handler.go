package network

import (
	"errors"
	"io"
	"net"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

// readLoop feeds frames of conn to the dispatcher in arrival order
func (c *Client) readLoop(conn *Conn) {
	defer c.wg.Done()

	for {
		f, err := protocol.ReadFrame(conn.nc)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.handleFrame(conn, f)
	}
}

func (c *Client) handleFrame(conn *Conn, f *protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("🔥 Recovered from panic on channel %d: %v", f.Header.Channel, r)
		}
	}()

	switch f.Header.Channel {
	case protocol.ChannelNew:
		c.onNewChannel(conn)

	case protocol.ChannelData:
		p, err := protocol.PacketFromFrame(f)
		if err != nil {
			c.observer.DecodeError()
			if de, ok := protocol.AsDecodeError(err); ok {
				c.log.Warnw("Malformed SNAC dropped", "error", err, "bytes", de.Dump())
			} else {
				c.log.Warnw("Malformed SNAC dropped", "error", err)
			}
			return
		}
		_ = c.disp.Dispatch(conn, p)

	case protocol.ChannelClose:
		c.onClose(conn, f.Payload)

	case protocol.ChannelError:
		c.log.Warnw("Server reported a channel error", "conn", conn.id, "length", len(f.Payload))

	case protocol.ChannelPing:
		c.log.Debugw("Keepalive from server", "conn", conn.id)

	default:
		c.log.Warnf("Unknown channel: 0x%02x", f.Header.Channel)
	}
}

// onClose handles a close-channel frame: the logon reply on the login
// connection, or a server-initiated disconnect
func (c *Client) onClose(conn *Conn, payload []byte) {
	tlvs, err := protocol.ParseTLVs(payload)
	if err != nil {
		c.observer.DecodeError()
		c.log.Warnw("Malformed close frame", "error", err)
		tlvs = protocol.NewTLVBlock()
	}

	if c.session.State() == session.AwaitingLogonReply {
		c.logonResult(conn, tlvs)
		return
	}
	if conn.retired.Load() {
		return
	}

	_, cause := session.ParseClose(tlvs)
	if cause == nil || errors.Is(cause, session.ErrNoRedirect) {
		cause = &session.CloseError{Disposition: session.Forced}
	}
	c.log.Warnf("⚠️  Server closed the connection: %v", cause)
	c.teardown(cause, teardownLost)
}

// connectionLost runs when the read loop of conn ends
func (c *Client) connectionLost(conn *Conn, err error) {
	if conn.closed.Load() || conn.retired.Load() {
		conn.Close()
		return
	}
	if de, ok := protocol.AsDecodeError(err); ok {
		c.observer.DecodeError()
		c.log.Warnw("Stream desynchronized", "error", err, "bytes", de.Dump())
	} else if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = ErrConnClosed
	}
	c.teardown(err, teardownLost)
}
