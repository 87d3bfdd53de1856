package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Result is the outcome of a pending event
type Result int

const (
	Pending Result = iota
	Success
	Acked
	Failed
	TimedOut
	Cancelled
	Error
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Acked:
		return "acked"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case Error:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Kind says which table an event lives in
type Kind int

const (
	// Running events resolve on the first reply
	Running Kind = iota
	// Extended events accumulate replies until the last part arrives
	Extended
	// Roster events track a server-side list mutation
	Roster
)

func (k Kind) String() string {
	switch k {
	case Running:
		return "running"
	case Extended:
		return "extended"
	case Roster:
		return "roster"
	}
	return "unknown"
}

// Event is a request waiting for its reply. Exported fields are written by
// the resolver only; the outcome is read through the accessor methods.
type Event struct {
	ID      uuid.UUID
	Key     uint16
	ConnID  uint64
	Kind    Kind
	Name    string
	Contact string // target account id, if any
	Data    any    // caller payload carried with the event
	Created time.Time

	ReplyFamily  uint16
	ReplySubtype uint16

	mu     sync.Mutex
	result Result
	err    error
	sub    any
	parts  []*protocol.Packet
	done   chan struct{}
}

func newEvent(kind Kind, key uint16, connID uint64, opts Options) *Event {
	return &Event{
		ID:      uuid.New(),
		Key:     key,
		ConnID:  connID,
		Kind:    kind,
		Contact: opts.Contact,
		Data:    opts.Data,
		Created: time.Now(),
		done:    make(chan struct{}),

		ReplyFamily:  opts.ReplyFamily,
		ReplySubtype: opts.ReplySubtype,
	}
}

// finish records the outcome and wakes waiters. Only the first call wins.
func (e *Event) finish(r Result, sub any, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result != Pending {
		return false
	}
	e.result = r
	e.sub = sub
	e.err = err
	close(e.done)
	return true
}

func (e *Event) addPart(p *protocol.Packet) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.parts = append(e.parts, p)
	e.mu.Unlock()
}

// Done is closed once the event resolves
func (e *Event) Done() <-chan struct{} { return e.done }

// Wait blocks until the event resolves or ctx ends
func (e *Event) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.Result(), e.Err()
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Result returns the current outcome
func (e *Event) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Err returns the error attached to a failed event
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// SubResult returns the handler-specific detail attached at resolution
func (e *Event) SubResult() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sub
}

// Parts returns the replies accumulated so far
func (e *Event) Parts() []*protocol.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*protocol.Packet, len(e.parts))
	copy(out, e.parts)
	return out
}

// Age returns how long the event has been outstanding
func (e *Event) Age() time.Duration { return time.Since(e.Created) }

func (e *Event) String() string {
	return fmt.Sprintf("%s %s key=%d conn=%d (%s)", e.Kind, e.Name, e.Key, e.ConnID, e.Result())
}
