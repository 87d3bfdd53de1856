package event

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

var (
	ErrEngineStopped    = errors.New("event engine stopped")
	ErrConnectionClosed = errors.New("connection already torn down")
	ErrKeysExhausted    = errors.New("no free correlation key")
)

// Conn is the connection a request is written to. Write encodes req with
// the given correlation key and transmits it; it must serialize writers so
// frame sequence order matches wire order.
type Conn interface {
	ID() uint64
	Write(req protocol.Request, key uint16) (*protocol.Outbound, error)
}

// Observer receives table activity, e.g. for metrics
type Observer interface {
	EventOpened(kind Kind)
	EventClosed(kind Kind, r Result)
	CorrelationMiss(kind Kind)
}

type nopObserver struct{}

func (nopObserver) EventOpened(Kind)         {}
func (nopObserver) EventClosed(Kind, Result) {}
func (nopObserver) CorrelationMiss(Kind)     {}

// Options tune a tracked send
type Options struct {
	Contact string
	Data    any

	// Reply family and subtype, for replies matched by ResolveBySubtype
	ReplyFamily  uint16
	ReplySubtype uint16
}

// tables is the resolver-owned state. Nothing outside the resolver goroutine
// touches it.
type tables struct {
	running  map[uint16]*Event
	extended map[uint16]*Event
	roster   map[uint16]*RosterOp
	closed   map[uint64]bool
}

func (t *tables) inUse(key uint16) bool {
	if _, ok := t.running[key]; ok {
		return true
	}
	if _, ok := t.extended[key]; ok {
		return true
	}
	_, ok := t.roster[key]
	return ok
}

type op func(*tables)

// Engine correlates replies with the requests that caused them. A single
// resolver goroutine owns the running, extended and roster tables; every
// mutation reaches it through one channel per table, and connection
// teardown has its own channel.
type Engine struct {
	seq      *protocol.Sequencer
	log      *zap.SugaredLogger
	observer Observer

	runningOps  chan op
	extendedOps chan op
	rosterOps   chan op
	teardownOps chan op

	quit chan struct{}
	done chan struct{}
}

// NewEngine creates and starts an engine drawing keys from seq
func NewEngine(seq *protocol.Sequencer, log *zap.SugaredLogger, observer Observer) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	e := &Engine{
		seq:         seq,
		log:         log,
		observer:    observer,
		runningOps:  make(chan op),
		extendedOps: make(chan op),
		rosterOps:   make(chan op),
		teardownOps: make(chan op),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go e.resolve()
	return e
}

func (e *Engine) resolve() {
	defer close(e.done)

	t := &tables{
		running:  make(map[uint16]*Event),
		extended: make(map[uint16]*Event),
		roster:   make(map[uint16]*RosterOp),
		closed:   make(map[uint64]bool),
	}

	for {
		select {
		case fn := <-e.teardownOps:
			fn(t)
		case fn := <-e.runningOps:
			fn(t)
		case fn := <-e.extendedOps:
			fn(t)
		case fn := <-e.rosterOps:
			fn(t)
		case <-e.quit:
			e.sweep(t, func(uint64) bool { return true }, ErrEngineStopped)
			return
		}
	}
}

// do runs fn on the resolver and waits for it to finish
func (e *Engine) do(ch chan op, fn op) error {
	finished := make(chan struct{})
	select {
	case ch <- func(t *tables) { fn(t); close(finished) }:
	case <-e.quit:
		return ErrEngineStopped
	}
	<-finished
	return nil
}

// Stop cancels everything outstanding and ends the resolver
func (e *Engine) Stop() {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
	<-e.done
}

// allocate returns the next sub-sequence that no pending entry holds
func (e *Engine) allocate(t *tables) (uint16, error) {
	for i := 0; i <= 0xffff; i++ {
		key := e.seq.NextSubSequence()
		if !t.inUse(key) {
			return key, nil
		}
	}
	return 0, ErrKeysExhausted
}

// SendExpect registers a running event for req and writes it to conn. The
// event exists before the bytes leave, so a fast reply always finds it.
func (e *Engine) SendExpect(conn Conn, req protocol.Request, opts Options) (*Event, error) {
	return e.send(e.runningOps, Running, conn, req, opts)
}

// SendExtended registers a multi-part event for req and writes it to conn
func (e *Engine) SendExtended(conn Conn, req protocol.Request, opts Options) (*Event, error) {
	return e.send(e.extendedOps, Extended, conn, req, opts)
}

func (e *Engine) send(ch chan op, kind Kind, conn Conn, req protocol.Request, opts Options) (*Event, error) {
	var (
		ev     *Event
		regErr error
	)
	err := e.do(ch, func(t *tables) {
		if t.closed[conn.ID()] {
			regErr = ErrConnectionClosed
			return
		}
		key, err := e.allocate(t)
		if err != nil {
			regErr = err
			return
		}
		ev = newEvent(kind, key, conn.ID(), opts)
		ev.Name = protocol.RequestName(req)
		if kind == Extended {
			t.extended[key] = ev
		} else {
			t.running[key] = ev
		}
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}
	e.observer.EventOpened(kind)

	if _, err := conn.Write(req, ev.Key); err != nil {
		e.fail(ch, kind, ev.Key, err)
		return ev, fmt.Errorf("failed to send %s: %w", ev.Name, err)
	}
	return ev, nil
}

func (e *Engine) fail(ch chan op, kind Kind, key uint16, cause error) {
	_ = e.do(ch, func(t *tables) {
		table := t.running
		if kind == Extended {
			table = t.extended
		}
		if ev, ok := table[key]; ok {
			delete(table, key)
			if ev.finish(Failed, nil, cause) {
				e.observer.EventClosed(kind, Failed)
			}
		}
	})
}

// SendFireAndForget writes req without tracking a reply. It still draws a
// key that no pending event holds.
func (e *Engine) SendFireAndForget(conn Conn, req protocol.Request) error {
	var (
		key    uint16
		regErr error
	)
	err := e.do(e.runningOps, func(t *tables) {
		if t.closed[conn.ID()] {
			regErr = ErrConnectionClosed
			return
		}
		key, regErr = e.allocate(t)
	})
	if err != nil {
		return err
	}
	if regErr != nil {
		return regErr
	}
	if _, err := conn.Write(req, key); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.RequestName(req), err)
	}
	return nil
}

// Resolve removes and completes the running event holding key. A miss is
// logged and reported as false.
func (e *Engine) Resolve(key uint16, r Result, sub any) (*Event, bool) {
	var ev *Event
	_ = e.do(e.runningOps, func(t *tables) {
		if found, ok := t.running[key]; ok {
			delete(t.running, key)
			ev = found
		}
	})
	if ev == nil {
		e.observer.CorrelationMiss(Running)
		e.log.Warnw("No pending event for reply", "key", key, "result", r.String())
		return nil, false
	}
	if ev.finish(r, sub, nil) {
		e.observer.EventClosed(Running, r)
	}
	return ev, true
}

// ResolveBySubtype completes the oldest running event that expects a reply of
// family and subtype. Used where the reply does not echo the request id.
func (e *Engine) ResolveBySubtype(family, subtype uint16, r Result, sub any) (*Event, bool) {
	var ev *Event
	_ = e.do(e.runningOps, func(t *tables) {
		for _, candidate := range t.running {
			if candidate.ReplyFamily != family || candidate.ReplySubtype != subtype {
				continue
			}
			if ev == nil || candidate.Created.Before(ev.Created) {
				ev = candidate
			}
		}
		if ev != nil {
			delete(t.running, ev.Key)
		}
	})
	if ev == nil {
		e.observer.CorrelationMiss(Running)
		return nil, false
	}
	if ev.finish(r, sub, nil) {
		e.observer.EventClosed(Running, r)
	}
	return ev, true
}

// ResolveExtended adds part to the extended event holding key. While more is
// true the event stays in the table; the last part removes and completes it.
func (e *Engine) ResolveExtended(key uint16, r Result, part *protocol.Packet, more bool) (*Event, bool) {
	var (
		ev       *Event
		finished bool
	)
	_ = e.do(e.extendedOps, func(t *tables) {
		found, ok := t.extended[key]
		if !ok {
			return
		}
		ev = found
		ev.addPart(part)
		if !more {
			delete(t.extended, key)
			finished = true
		}
	})
	if ev == nil {
		e.observer.CorrelationMiss(Extended)
		e.log.Warnw("No extended event for reply", "key", key)
		return nil, false
	}
	if finished && ev.finish(r, nil, nil) {
		e.observer.EventClosed(Extended, r)
	}
	return ev, true
}

// Lookup returns the running or extended event holding key without removing it
func (e *Engine) Lookup(key uint16) (*Event, bool) {
	var ev *Event
	_ = e.do(e.runningOps, func(t *tables) {
		if found, ok := t.running[key]; ok {
			ev = found
			return
		}
		ev = t.extended[key]
	})
	return ev, ev != nil
}

// Expire marks an outstanding event as timed out. The engine never does this
// on its own.
func (e *Engine) Expire(key uint16) bool {
	var (
		ev   *Event
		kind Kind
	)
	_ = e.do(e.runningOps, func(t *tables) {
		if found, ok := t.running[key]; ok {
			delete(t.running, key)
			ev, kind = found, Running
		} else if found, ok := t.extended[key]; ok {
			delete(t.extended, key)
			ev, kind = found, Extended
		}
	})
	if ev == nil {
		return false
	}
	if ev.finish(TimedOut, nil, nil) {
		e.observer.EventClosed(kind, TimedOut)
	}
	return true
}

// Outstanding lists running and extended events older than age
func (e *Engine) Outstanding(age time.Duration) []*Event {
	var out []*Event
	_ = e.do(e.runningOps, func(t *tables) {
		for _, ev := range t.running {
			if ev.Age() >= age {
				out = append(out, ev)
			}
		}
		for _, ev := range t.extended {
			if ev.Age() >= age {
				out = append(out, ev)
			}
		}
	})
	return out
}

// Counts reports the size of each table
func (e *Engine) Counts() (running, extended, roster int) {
	_ = e.do(e.runningOps, func(t *tables) {
		running, extended, roster = len(t.running), len(t.extended), len(t.roster)
	})
	return
}

// CancelAll tears down every event that targeted connID. The connection is
// marked closed first, so no send can register against it afterwards; the
// tables are then swept in order: running, extended, roster.
func (e *Engine) CancelAll(connID uint64) int {
	var n int
	err := e.do(e.teardownOps, func(t *tables) {
		t.closed[connID] = true
		n = e.sweep(t, func(id uint64) bool { return id == connID }, nil)
	})
	if err != nil {
		return 0
	}
	if n > 0 {
		e.log.Infow("Cancelled pending events", "conn", connID, "count", n)
	}
	return n
}

func (e *Engine) sweep(t *tables, match func(uint64) bool, cause error) int {
	n := 0
	for key, ev := range t.running {
		if match(ev.ConnID) {
			delete(t.running, key)
			if ev.finish(Cancelled, nil, cause) {
				e.observer.EventClosed(Running, Cancelled)
			}
			n++
		}
	}
	for key, ev := range t.extended {
		if match(ev.ConnID) {
			delete(t.extended, key)
			if ev.finish(Cancelled, nil, cause) {
				e.observer.EventClosed(Extended, Cancelled)
			}
			n++
		}
	}
	for key, rop := range t.roster {
		if match(rop.ConnID) {
			delete(t.roster, key)
			if rop.Event.finish(Cancelled, nil, cause) {
				e.observer.EventClosed(Roster, Cancelled)
			}
			n++
		}
	}
	return n
}
