package event

import (
	"fmt"
	"sort"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// RosterAction is the server-side list mutation a roster op carries
type RosterAction int

const (
	RosterAdd RosterAction = iota
	RosterRemove
	RosterUpdate
	RosterRenameGroup
	RosterExport
	RosterPrivacy
	RosterClear
)

func (a RosterAction) String() string {
	switch a {
	case RosterAdd:
		return "add"
	case RosterRemove:
		return "remove"
	case RosterUpdate:
		return "update"
	case RosterRenameGroup:
		return "rename-group"
	case RosterExport:
		return "export"
	case RosterPrivacy:
		return "privacy"
	case RosterClear:
		return "clear"
	}
	return "unknown"
}

// RosterOp is a pending server-side list mutation awaiting its update ack.
// It is immutable once registered; the outcome lives on Event.
type RosterOp struct {
	Key     uint16
	ConnID  uint64
	Action  RosterAction
	Contact string // account id, or group name for group ops
	Items   []protocol.RosterItem

	// A corrective re-add points at the op whose ack asked for it
	Parent     uint16
	Corrective bool

	Event *Event
}

func (op *RosterOp) String() string {
	return fmt.Sprintf("roster %s %q key=%d", op.Action, op.Contact, op.Key)
}

// SendRoster registers op under a fresh key and writes req to conn. The
// caller fills Action, Contact, Items and the corrective link; Key, ConnID
// and Event are set here.
func (e *Engine) SendRoster(conn Conn, req protocol.Request, op RosterOp) (*RosterOp, error) {
	var (
		registered *RosterOp
		regErr     error
	)
	err := e.do(e.rosterOps, func(t *tables) {
		if t.closed[conn.ID()] {
			regErr = ErrConnectionClosed
			return
		}
		key, err := e.allocate(t)
		if err != nil {
			regErr = err
			return
		}
		op.Key = key
		op.ConnID = conn.ID()
		op.Event = newEvent(Roster, key, conn.ID(), Options{Contact: op.Contact})
		op.Event.Name = protocol.RequestName(req)
		registered = &op
		t.roster[key] = registered
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}
	e.observer.EventOpened(Roster)

	if _, err := conn.Write(req, registered.Key); err != nil {
		e.ResolveRoster(registered.Key, Failed, err)
		return registered, fmt.Errorf("failed to send %s: %w", registered.Event.Name, err)
	}
	return registered, nil
}

// PeekRoster returns the pending op holding key without removing it
func (e *Engine) PeekRoster(key uint16) (*RosterOp, bool) {
	var found *RosterOp
	_ = e.do(e.rosterOps, func(t *tables) {
		found = t.roster[key]
	})
	return found, found != nil
}

// ResolveRoster removes the op holding key and completes its event. sub is
// attached as the sub-result (an ack code or an error).
func (e *Engine) ResolveRoster(key uint16, r Result, sub any) (*RosterOp, bool) {
	var found *RosterOp
	_ = e.do(e.rosterOps, func(t *tables) {
		if op, ok := t.roster[key]; ok {
			delete(t.roster, key)
			found = op
		}
	})
	if found == nil {
		e.observer.CorrelationMiss(Roster)
		e.log.Warnw("No pending roster operation for ack", "key", key)
		return nil, false
	}
	var err error
	if cause, ok := sub.(error); ok {
		err = cause
	}
	if found.Event.finish(r, sub, err) {
		e.observer.EventClosed(Roster, r)
	}
	return found, true
}

// PendingRoster lists the ops outstanding on connID in key order
func (e *Engine) PendingRoster(connID uint64) []*RosterOp {
	var out []*RosterOp
	_ = e.do(e.rosterOps, func(t *tables) {
		for _, op := range t.roster {
			if op.ConnID == connID {
				out = append(out, op)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
