package iod

// State is the connection state.
type State int32

const (
	StateNotConnected State = iota
	StateReconnecting
	StateTransportActive
	StateNegotiateActive
	StateSessionSetup
	StateActive
	StateDead
)

var stateNames = [...]string{
	StateNotConnected:    "NotConnected",
	StateReconnecting:    "Reconnecting",
	StateTransportActive: "TransportActive",
	StateNegotiateActive: "NegotiateActive",
	StateSessionSetup:    "SessionSetup",
	StateActive:          "Active",
	StateDead:            "Dead",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// MarshalText renders the state by name in JSON and YAML reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// connected reports whether the transport is up in s.
func (s State) connected() bool {
	return s >= StateTransportActive && s <= StateActive
}

// EventKind identifies a control event for the daemon.
type EventKind int

const (
	EventConnect EventKind = iota
	EventNegotiate
	EventAuthenticate
	EventAttachShare
	EventDisconnect
	EventShutdown
	EventNewRequest
)

var eventNames = [...]string{
	EventConnect:      "Connect",
	EventNegotiate:    "Negotiate",
	EventAuthenticate: "AuthenticateSession",
	EventAttachShare:  "AttachShare",
	EventDisconnect:   "Disconnect",
	EventShutdown:     "Shutdown",
	EventNewRequest:   "NewRequest",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "Unknown"
}

type stateSet uint16

func statesOf(states ...State) stateSet {
	var s stateSet
	for _, st := range states {
		s |= 1 << st
	}
	return s
}

func (s stateSet) has(st State) bool { return s&(1<<st) != 0 }

var anyState = statesOf(StateNotConnected, StateReconnecting, StateTransportActive,
	StateNegotiateActive, StateSessionSetup, StateActive, StateDead)

// accepts is the single table of which states each event may be handled
// in. AttachShare is accepted in Dead only so it can fail immediately.
var accepts = map[EventKind]stateSet{
	EventConnect:      statesOf(StateNotConnected, StateDead),
	EventNegotiate:    statesOf(StateReconnecting),
	EventAuthenticate: statesOf(StateNegotiateActive),
	EventAttachShare:  statesOf(StateActive, StateDead),
	EventDisconnect:   anyState,
	EventShutdown:     anyState,
	EventNewRequest:   anyState,
}

// Accepts reports whether an event of kind k may be handled in state s.
func (s State) Accepts(k EventKind) bool {
	return accepts[k].has(s)
}
