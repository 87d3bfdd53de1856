// Package notify carries discrete signals from the protocol core to front
// ends. A signal holds everything needed to render it; subscribers never
// reach back into the core's tables.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind names a signal
type Kind string

const (
	PresenceChanged   Kind = "presence_changed"
	MessageReceived   Kind = "message_received"
	RosterChanged     Kind = "roster_changed"
	Logon             Kind = "logon"
	Logoff            Kind = "logoff"
	SearchResult      Kind = "search_result"
	VerificationImage Kind = "verification_image"
	NewOwner          Kind = "new_owner"
	Typing            Kind = "typing"
	InfoReceived      Kind = "info_received"
	EventDone         Kind = "event_done"
)

// Signal is one notification
type Signal struct {
	ID      uuid.UUID `json:"id"`
	Kind    Kind      `json:"kind"`
	Contact string    `json:"contact,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

func (s Signal) String() string {
	if s.Contact == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Contact)
}

// New builds a signal stamped with a fresh id and the current time
func New(kind Kind, contact string, data any) Signal {
	return Signal{ID: uuid.New(), Kind: kind, Contact: contact, Data: data, Time: time.Now()}
}

// Publisher accepts signals
type Publisher interface {
	Publish(Signal)
}

// Discard drops every signal
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Signal) {}

// Payloads carried in Signal.Data

type Presence struct {
	Status   uint32 `json:"status"`
	Online   bool   `json:"online"`
	Idle     bool   `json:"idle"`
	IP       string `json:"ip,omitempty"`
	Client   string `json:"client,omitempty"`
	Previous uint32 `json:"previous"`
}

type Message struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	Offline   bool      `json:"offline"`
	Multi     bool      `json:"multi"`
	Sent      time.Time `json:"sent"`
	RawType   uint16    `json:"raw_type"`
	SMSSender string    `json:"sms_sender,omitempty"`

	// Sender details carried by authorization and "added you" notices
	Alias     string   `json:"alias,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Contacts  []string `json:"contacts,omitempty"`
}

type RosterChange struct {
	Action string `json:"action"`
	Group  string `json:"group,omitempty"`
	Result string `json:"result,omitempty"`
}

type Session struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Retry  bool   `json:"retry"`
}

type Search struct {
	UIN       uint32 `json:"uin"`
	Alias     string `json:"alias"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Auth      bool   `json:"auth"`
	Last      bool   `json:"last"`
	More      uint32 `json:"more,omitempty"`
}

type Verification struct {
	MIME  string `json:"mime"`
	Image []byte `json:"image"`
}

type TypingState struct {
	Active bool `json:"active"`
}

type Info struct {
	UIN         uint32 `json:"uin,omitempty"`
	Alias       string `json:"alias,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	City        string `json:"city,omitempty"`
	AwayMessage string `json:"away_message,omitempty"`
	Profile     string `json:"profile,omitempty"`
}

type Done struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Bus fans signals out to subscribers. A subscriber whose buffer is full
// misses the signal instead of stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uuid.UUID]chan Signal
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]chan Signal)}
}

// Subscribe returns a channel of signals and a function that cancels the
// subscription and closes the channel
func (b *Bus) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	id := uuid.New()
	ch := make(chan Signal, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(s Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped on full buffers
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Multi publishes to every publisher in order
type Multi []Publisher

func (m Multi) Publish(s Signal) {
	for _, p := range m {
		if p != nil {
			p.Publish(s)
		}
	}
}

// Func adapts a function to Publisher
type Func func(Signal)

func (f Func) Publish(s Signal) { f(s) }
