package network

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Handler processes one inbound data-channel packet. Handlers must not block:
// a multi-step exchange registers an event and returns.
type Handler func(conn *Conn, p *protocol.Packet) error

// Table routes the subtypes of one family
type Table map[uint16]Handler

// Dispatcher routes packets by family and subtype
type Dispatcher struct {
	families map[uint16]Table
	log      *zap.SugaredLogger
	observer Observer
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(log *zap.SugaredLogger, observer Observer) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{families: make(map[uint16]Table), log: log, observer: observer}
}

// Register installs the routing table of family, merging with any earlier one
func (d *Dispatcher) Register(family uint16, table Table) {
	t, ok := d.families[family]
	if !ok {
		t = make(Table, len(table))
		d.families[family] = t
	}
	for sub, h := range table {
		t[sub] = h
	}
}

// Handles reports whether a handler exists for the pair
func (d *Dispatcher) Handles(family, subtype uint16) bool {
	_, ok := d.families[family][subtype]
	return ok
}

// Dispatch runs the handler for p. Unknown pairs are logged and dropped with
// ErrUnknownSnac. A panicking handler is recovered and reported as an error.
func (d *Dispatcher) Dispatch(conn *Conn, p *protocol.Packet) (err error) {
	d.observer.PacketIn(p.Family, p.Subtype)

	h, ok := d.families[p.Family][p.Subtype]
	if !ok {
		d.observer.Unhandled(p.Family, p.Subtype)
		d.log.Warnf("Unknown SNAC 0x%04x/0x%04x (%d bytes), dropping", p.Family, p.Subtype, len(p.Payload))
		return fmt.Errorf("%w: 0x%04x/0x%04x", ErrUnknownSnac, p.Family, p.Subtype)
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("🔥 Handler for 0x%04x/0x%04x panicked: %v", p.Family, p.Subtype, r)
			err = fmt.Errorf("%w: 0x%04x/0x%04x: %v", ErrHandlerPanic, p.Family, p.Subtype, r)
		}
	}()

	if err = h(conn, p); err != nil {
		d.report(p, err)
	}
	return err
}

func (d *Dispatcher) report(p *protocol.Packet, err error) {
	if de, ok := protocol.AsDecodeError(err); ok {
		d.observer.DecodeError()
		if len(de.Bytes) == 0 {
			de.Bytes = p.Raw
		}
		d.log.Warnw("Malformed packet dropped",
			"family", fmt.Sprintf("0x%04x", p.Family),
			"subtype", fmt.Sprintf("0x%04x", p.Subtype),
			"error", err,
			"bytes", de.Dump())
		return
	}
	d.log.Warnw("Handler failed",
		"family", fmt.Sprintf("0x%04x", p.Family),
		"subtype", fmt.Sprintf("0x%04x", p.Subtype),
		"error", err)
}
