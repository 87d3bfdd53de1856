package protocol

import (
	"math/rand/v2"
	"sync"
	"time"
)

// loginFix seeds a service's FLAP sequence when its connection opens
var loginFix = [...]uint16{
	5695, 23595, 23620, 23049, 0x2886, 0x2493, 23620, 23049, 2853, 17372, 1255,
	1796, 1657, 13606, 1930, 23918, 31234, 30120, 0x1BEA, 0x5342, 0x30CC,
	0x2294, 0x5697, 0x25FA, 0x3303, 0x078A, 0x0FC5, 0x25D6, 0x26EE, 0x7570,
	0x7F33, 0x4E94, 0x07C9, 0x7339, 0x42A8,
}

// Sequencer holds every counter a session stamps into outgoing packets.
// One Sequencer belongs to one session; it is safe for concurrent use.
type Sequencer struct {
	mu sync.Mutex

	rng *rand.Rand

	flap        [MaxServices]uint16
	flapStarted [MaxServices]bool
	subSequence uint16

	udpSequence    uint16
	udpSubSequence uint16
	sessionID      uint32
}

// NewSequencer creates a sequencer. A zero seed uses the clock.
func NewSequencer(seed uint64) *Sequencer {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Sequencer{rng: rand.New(rand.NewPCG(seed, seed^0x5a54414c))}
}

func clampService(service int) int {
	if service < 0 || service >= MaxServices {
		return 0
	}
	return service
}

// InitService reseeds the FLAP counter of service from the login-fix table
func (s *Sequencer) InitService(service int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initServiceLocked(clampService(service))
}

func (s *Sequencer) initServiceLocked(service int) {
	s.flap[service] = loginFix[s.rng.IntN(len(loginFix)-1)]
	s.flapStarted[service] = true
}

// NextFlap returns the next FLAP sequence of service, seeding it on first use
func (s *Sequencer) NextFlap(service int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	service = clampService(service)
	if !s.flapStarted[service] {
		s.initServiceLocked(service)
	}
	v := s.flap[service]
	s.flap[service]++
	return v
}

// NextSubSequence returns the next 16-bit SNAC sub-sequence, wrapping
func (s *Sequencer) NextSubSequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.subSequence
	s.subSequence++
	return v
}

// SetSubSequence positions the SNAC counter, used by tests and on reconnect
func (s *Sequencer) SetSubSequence(v uint16) {
	s.mu.Lock()
	s.subSequence = v
	s.mu.Unlock()
}

// LegacySequence returns the (seq, subseq) pair a legacy command is stamped with
func (s *Sequencer) LegacySequence(cmd uint16) (uint16, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case LegacyCmdAck, LegacyCmdLogon, LegacyCmdRegister:
		return 0, 0
	case LegacyCmdPing:
		v := s.udpSequence
		s.udpSequence++
		return v, 0
	default:
		seq, sub := s.udpSequence, s.udpSubSequence
		s.udpSequence++
		s.udpSubSequence++
		return seq, sub
	}
}

// ResetForRegister restarts the legacy counters for a registration packet and
// returns the pair and session id the packet carries
func (s *Sequencer) ResetForRegister(gen Generation) (uint16, uint16, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == GenerationUDPv5 {
		s.sessionID = s.rng.Uint32() & 0x3FFFFFFF
	}
	s.udpSequence = uint16(s.rng.Uint32() & 0x7FFF)
	seq := s.udpSequence
	s.udpSequence++
	s.udpSubSequence = 1
	return seq, 1, s.sessionID
}

// SessionID returns the legacy v5 session id
func (s *Sequencer) SessionID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID sets the legacy v5 session id
func (s *Sequencer) SetSessionID(id uint32) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Uint32 returns a random value from the session's generator
func (s *Sequencer) Uint32() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Uint32()
}

// IntN returns a random value in [0, n)
func (s *Sequencer) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
