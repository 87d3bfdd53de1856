package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Service counter indexes of the two connections a logon uses
const (
	loginService   = 0
	serviceService = 1
)

const writeTimeout = 10 * time.Second

// Conn is one FLAP transport. Writes are serialized so the sequence number
// stamped by the encoder matches the order frames reach the wire.
type Conn struct {
	id      uint64
	service int
	nc      net.Conn
	client  *Client

	wmu     sync.Mutex
	closed  atomic.Bool
	retired atomic.Bool
}

func newConn(id uint64, service int, nc net.Conn, client *Client) *Conn {
	return &Conn{id: id, service: service, nc: nc, client: client}
}

// ID implements event.Conn
func (c *Conn) ID() uint64 { return c.id }

// Write encodes req under correlation key and transmits it
func (c *Conn) Write(req protocol.Request, key uint16) (*protocol.Outbound, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return nil, fmt.Errorf("%w: conn %d", ErrConnClosed, c.id)
	}

	out, err := protocol.Encode(req, c.client.encodeContext(c.service, key))
	if err != nil {
		return nil, err
	}

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return nil, err
	}
	if _, err := c.nc.Write(out.Bytes); err != nil {
		return nil, fmt.Errorf("write %s: %w", out.Name, err)
	}

	c.client.observer.PacketOut(out.Name)
	c.client.log.Debugw("Sent packet", "conn", c.id, "name", out.Name, "seq", out.Sequence, "key", out.SubSequence)
	return out, nil
}

// retire marks a connection that is being replaced; its read loop ending is
// not a connection loss
func (c *Conn) retire() { c.retired.Store(true) }

// Close shuts the transport once
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.nc.Close()
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn(%d, %s)", c.id, c.nc.RemoteAddr())
}
