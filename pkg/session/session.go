// Package session tracks the logon lifecycle of one ICQ account: the state
// machine from the login server through the service redirect to Online, the
// rights handshake that gates user actions, and idempotent logoff.
//
// A Session holds no sockets. The network client drives it and asks it what
// to do with each outbound action.
package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// DefaultMaxQueue bounds the actions held while the session is not Online
const DefaultMaxQueue = 64

// DefaultRequiredFamilies are the families whose rights must be confirmed
// before the session goes Online: session, profile, presence list,
// messaging, privacy and roster.
var DefaultRequiredFamilies = []uint16{
	protocol.FamilyService,
	protocol.FamilyLocation,
	protocol.FamilyBuddy,
	protocol.FamilyMessage,
	protocol.FamilyBOS,
	protocol.FamilyList,
}

// Options configure a Session
type Options struct {
	Generation       protocol.Generation
	Seq              *protocol.Sequencer
	RequiredFamilies []uint16
	MaxQueue         int
	Log              *zap.SugaredLogger

	// OnChange is called after every transition, outside the session lock
	OnChange func(from, to State)
}

// Session is the per-account state struct. It owns the sequence counters
// handed to the codec and the event engine.
type Session struct {
	mu sync.Mutex

	state    State
	gen      protocol.Generation
	seq      *protocol.Sequencer
	required []uint16
	granted  map[uint16]bool
	queue    []protocol.Request
	maxQueue int
	connID   uint64
	register bool
	verify   bool
	redirect *Redirect
	closeErr error

	log      *zap.SugaredLogger
	onChange func(from, to State)
}

// New creates a Disconnected session
func New(opts Options) *Session {
	if opts.Seq == nil {
		opts.Seq = protocol.NewSequencer(0)
	}
	if opts.Generation == 0 {
		opts.Generation = protocol.GenerationTCPv7
	}
	if opts.RequiredFamilies == nil {
		opts.RequiredFamilies = DefaultRequiredFamilies
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = DefaultMaxQueue
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Session{
		state:    Disconnected,
		gen:      opts.Generation,
		seq:      opts.Seq,
		required: append([]uint16(nil), opts.RequiredFamilies...),
		granted:  make(map[uint16]bool),
		maxQueue: opts.MaxQueue,
		log:      opts.Log,
		onChange: opts.OnChange,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Generation() protocol.Generation { return s.gen }

// Sequencer returns the counters shared with the codec and event engine
func (s *Session) Sequencer() *protocol.Sequencer { return s.seq }

// ConnID returns the id of the connection the session currently speaks on
func (s *Session) ConnID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Registering reports whether the current connection is a registration one
func (s *Session) Registering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register
}

// NeedsVerification reports whether the next registration attempt must
// fetch a verification image first
func (s *Session) NeedsVerification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verify
}

// SetNeedsVerification records that the server asked for image verification
func (s *Session) SetNeedsVerification(v bool) {
	s.mu.Lock()
	s.verify = v
	s.mu.Unlock()
}

// LastClose returns the error that ended the previous connection, if any
func (s *Session) LastClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Redirect returns the pending service redirect
func (s *Session) Redirect() *Redirect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect
}

// transition moves the session while s.mu is held and returns a notifier to
// run after unlocking
func (s *Session) transition(to State) (func(), error) {
	from := s.state
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	s.state = to
	s.log.Debugw("Session transition", "from", from.String(), "to", to.String())
	cb := s.onChange
	return func() {
		if cb != nil {
			cb(from, to)
		}
	}, nil
}

// Transition performs a plain edge with no side effects
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	notify, err := s.transition(to)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	notify()
	return nil
}

// BeginConnect starts a logon (or registration) on connection connID
func (s *Session) BeginConnect(connID uint64, register bool) error {
	s.mu.Lock()
	notify, err := s.transition(ConnectingLoginServer)
	if err == nil {
		s.connID = connID
		s.register = register
		s.redirect = nil
		s.closeErr = nil
		s.granted = make(map[uint16]bool)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	notify()
	return nil
}

// BeginRedirect records the service host and cookie from the logon reply
func (s *Session) BeginRedirect(r *Redirect) error {
	s.mu.Lock()
	notify, err := s.transition(Redirected)
	if err == nil {
		s.redirect = r
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	notify()
	return nil
}

// ServiceEstablished switches the session to the service connection once
// the cookie has been sent on it. It returns the id of the login connection,
// whose bookkeeping the caller closes now and not earlier.
func (s *Session) ServiceEstablished(connID uint64) (uint64, error) {
	s.mu.Lock()
	notify, err := s.transition(ServiceConnected)
	old := s.connID
	if err == nil {
		s.connID = connID
		s.redirect = nil
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	notify()
	return old, nil
}

// GrantRights records that the rights reply for family arrived. When the
// last required family is granted the session goes Online and the queued
// actions are returned in submission order for the caller to send.
func (s *Session) GrantRights(family uint16) ([]protocol.Request, bool) {
	s.mu.Lock()
	s.granted[family] = true
	if s.state != ServiceConnected || !s.allGrantedLocked() {
		s.mu.Unlock()
		return nil, false
	}
	notify, err := s.transition(Online)
	if err != nil {
		s.mu.Unlock()
		return nil, false
	}
	flush := s.queue
	s.queue = nil
	s.mu.Unlock()

	notify()
	s.log.Infof("✅ Session online, flushing %d queued actions", len(flush))
	return flush, true
}

// Granted reports whether rights for family have been confirmed
func (s *Session) Granted(family uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted[family]
}

// Missing lists the required families still awaiting rights
func (s *Session) Missing() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint16
	for _, f := range s.required {
		if !s.granted[f] {
			out = append(out, f)
		}
	}
	return out
}

func (s *Session) allGrantedLocked() bool {
	for _, f := range s.required {
		if !s.granted[f] {
			return false
		}
	}
	return true
}

// Submit decides what to do with a user-visible action. It returns true when
// the action was queued for the Online transition and false when the caller
// should send it now.
func (s *Session) Submit(req protocol.Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Online:
		return false, nil
	case !s.state.Connected() || s.state.IsRegistering():
		return false, fmt.Errorf("%w: cannot send %s in state %s", ErrNotConnected, protocol.RequestName(req), s.state)
	}
	if len(s.queue) >= s.maxQueue {
		return false, fmt.Errorf("%w: dropping %s", ErrQueueFull, protocol.RequestName(req))
	}
	s.queue = append(s.queue, req)
	return true, nil
}

// Queued returns the number of actions waiting for Online
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// BeginLogoff moves the session to LoggingOff and drops queued actions. Only
// the first call per connection returns true; later calls are no-ops so an
// explicit logoff racing an unexpected close tears down once.
func (s *Session) BeginLogoff(cause error) (uint64, bool) {
	s.mu.Lock()
	if s.state == LoggingOff || s.state == Disconnected {
		s.mu.Unlock()
		return 0, false
	}
	notify, err := s.transition(LoggingOff)
	if err != nil {
		s.mu.Unlock()
		return 0, false
	}
	s.queue = nil
	s.closeErr = cause
	id := s.connID
	s.mu.Unlock()

	notify()
	return id, true
}

// FinishLogoff completes teardown. It is safe to call when already
// Disconnected.
func (s *Session) FinishLogoff() {
	s.mu.Lock()
	if s.state != LoggingOff {
		s.mu.Unlock()
		return
	}
	notify, err := s.transition(Disconnected)
	if err == nil {
		s.granted = make(map[uint16]bool)
		s.redirect = nil
		s.connID = 0
	}
	s.mu.Unlock()
	if err == nil {
		notify()
	}
}
