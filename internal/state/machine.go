// Package state tracks the camera's connection lifecycle and call lifecycle as two
// independent variables joined only by named guard predicates.
package state

import "github.com/sirupsen/logrus"

// ConnectionState is the signalling connection/registration lifecycle. The order
// of the constants is relied on by AtLeast.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	ConnectionError
	Connected
	Registering
	RegistrationError
	Registered
	Closed
)

var connectionNames = [...]string{
	Disconnected:      "disconnected",
	Connecting:        "connecting",
	ConnectionError:   "connection-error",
	Connected:         "connected",
	Registering:       "registering",
	RegistrationError: "registration-error",
	Registered:        "registered",
	Closed:            "closed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionNames) {
		return "unknown"
	}
	return connectionNames[s]
}

// CallState is the overall call activity across all peers.
type CallState int

const (
	CallIdle CallState = iota
	CallNegotiating
	CallOffering
	CallAnswering
	CallStarted
	CallStopping
	CallStopped
	CallError
)

var callNames = [...]string{
	CallIdle:        "idle",
	CallNegotiating: "negotiating",
	CallOffering:    "offering",
	CallAnswering:   "answering",
	CallStarted:     "started",
	CallStopping:    "stopping",
	CallStopped:     "stopped",
	CallError:       "error",
}

func (s CallState) String() string {
	if s < 0 || int(s) >= len(callNames) {
		return "unknown"
	}
	return callNames[s]
}

// Failure classifies a terminal error by the state it occurred in.
type Failure int

const (
	FailureNone Failure = iota
	FailureConnection
	FailureRegistration
	FailureCall
	FailureGeneric
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureConnection:
		return "connection"
	case FailureRegistration:
		return "registration"
	case FailureCall:
		return "call"
	default:
		return "generic"
	}
}

// Observer is notified after every state write.
type Observer interface {
	StateChanged(conn ConnectionState, call CallState)
}

// Machine holds the process-wide connection and call state. It is owned by the
// event loop; none of its methods are safe for concurrent use.
type Machine struct {
	conn     ConnectionState
	call     CallState
	failure  Failure
	observer Observer
	log      logrus.FieldLogger
}

func New(log logrus.FieldLogger, observer Observer) *Machine {
	return &Machine{
		log:      log.WithField("component", "state"),
		observer: observer,
	}
}

func (m *Machine) Connection() ConnectionState { return m.conn }
func (m *Machine) Call() CallState             { return m.call }
func (m *Machine) Failure() Failure            { return m.failure }

// SetConnection unconditionally records a new connection state.
func (m *Machine) SetConnection(s ConnectionState) {
	if s == m.conn {
		return
	}
	m.log.Debugf("connection %s -> %s", m.conn, s)
	m.conn = s
	m.notify()
}

// SetCall unconditionally records a new call state.
func (m *Machine) SetCall(s CallState) {
	if s == m.call {
		return
	}
	m.log.Debugf("call %s -> %s", m.call, s)
	m.call = s
	m.notify()
}

// AtLeast reports whether the connection lifecycle has reached floor.
func (m *Machine) AtLeast(floor ConnectionState) bool {
	return m.conn >= floor
}

// IsRegistered is true only while registered with the server; Closed sorts after
// Registered but does not count.
func (m *Machine) IsRegistered() bool {
	return m.conn == Registered
}

// IsNegotiating is true while at least one peer is being offered to, answered, or
// is streaming.
func (m *Machine) IsNegotiating() bool {
	return m.call >= CallOffering && m.call <= CallStarted
}

// CanOffer guards acting on a locally created offer.
func (m *Machine) CanOffer() bool {
	return m.IsRegistered() && m.IsNegotiating()
}

// CanAnswer guards acting on a remote offer or a locally created answer. The
// call must have reached Answering; Started still admits further peers.
func (m *Machine) CanAnswer() bool {
	return m.IsRegistered() && m.call >= CallAnswering && m.call <= CallStarted
}

// Fail maps the current state to its error variant and returns the failure
// class. The caller is expected to shut down.
func (m *Machine) Fail() Failure {
	switch {
	case m.conn == Connecting:
		m.failure = FailureConnection
		m.SetConnection(ConnectionError)
	case m.conn == Registering:
		m.failure = FailureRegistration
		m.SetConnection(RegistrationError)
	case m.call >= CallNegotiating && m.call <= CallStopped:
		m.failure = FailureCall
		m.SetCall(CallError)
	default:
		m.failure = FailureGeneric
	}
	return m.failure
}

func (m *Machine) notify() {
	if m.observer != nil {
		m.observer.StateChanged(m.conn, m.call)
	}
}
