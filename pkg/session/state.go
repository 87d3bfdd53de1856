package session

import "fmt"

// State is a step of the logon lifecycle
type State int

const (
	Disconnected State = iota
	ConnectingLoginServer
	AwaitingNewChannelAck

	// Registration sub-states
	AwaitingRegistrationStart
	AwaitingVerificationImage
	AwaitingNewUinReply

	LoginFlow
	AwaitingSalt
	AwaitingLogonReply
	Redirected
	ServiceConnected
	Online
	LoggingOff
)

var stateNames = map[State]string{
	Disconnected:              "disconnected",
	ConnectingLoginServer:     "connecting_login_server",
	AwaitingNewChannelAck:     "awaiting_new_channel_ack",
	AwaitingRegistrationStart: "awaiting_registration_start",
	AwaitingVerificationImage: "awaiting_verification_image",
	AwaitingNewUinReply:       "awaiting_new_uin_reply",
	LoginFlow:                 "login_flow",
	AwaitingSalt:              "awaiting_salt",
	AwaitingLogonReply:        "awaiting_logon_reply",
	Redirected:                "redirected",
	ServiceConnected:          "service_connected",
	Online:                    "online",
	LoggingOff:                "logging_off",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsRegistering reports whether s belongs to the registration flow
func (s State) IsRegistering() bool {
	return s >= AwaitingRegistrationStart && s <= AwaitingNewUinReply
}

// Connected reports whether a transport is open in state s
func (s State) Connected() bool {
	return s != Disconnected && s != LoggingOff
}

// transitions lists the forward edges. LoggingOff is reachable from every
// state except Disconnected and is handled separately.
var transitions = map[State][]State{
	Disconnected:              {ConnectingLoginServer},
	ConnectingLoginServer:     {AwaitingNewChannelAck},
	AwaitingNewChannelAck:     {AwaitingRegistrationStart, LoginFlow, ServiceConnected},
	AwaitingRegistrationStart: {AwaitingVerificationImage, AwaitingNewUinReply},
	AwaitingVerificationImage: {AwaitingNewUinReply},
	AwaitingNewUinReply:       {},
	LoginFlow:                 {AwaitingSalt, AwaitingLogonReply},
	AwaitingSalt:              {AwaitingLogonReply},
	AwaitingLogonReply:        {Redirected},
	Redirected:                {AwaitingNewChannelAck, ServiceConnected},
	ServiceConnected:          {Online},
	Online:                    {},
	LoggingOff:                {Disconnected},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	if to == LoggingOff {
		return from != Disconnected && from != LoggingOff
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
