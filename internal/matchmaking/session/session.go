// Package session implements the Session Actor: a per-client WebSocket
// state machine that forwards client intents to the per-mode Matchmaker and
// relays server-originated messages delivered through the Subscription
// Registry back onto the client's socket. Message handling is cooperative
// and non-re-entrant: a session only ever processes one event at a time.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

// Sentinel errors a Matchmaker implementation returns from Enqueue/Dequeue
// to distinguish an expected rejection (the client should see a typed
// protocol error, not an internal one) from a genuine infrastructure
// failure.
var (
	ErrAlreadyInQueue = errors.New("session: player already in queue")
	ErrNotInQueue     = errors.New("session: player not in queue")
)

// State is one node of the session's explicit transition table (spec §4.8).
type State string

const (
	StateIdle          State = "idle"
	StateEnqueuing     State = "enqueuing"
	StateInQueue       State = "in_queue"
	StateDequeuing     State = "dequeuing"
	StateDequeued      State = "dequeued"
	StateCompleted     State = "completed"
	StateDisconnecting State = "disconnecting"
	StateError         State = "error"
)

// ViolationSeverity classifies an out-of-table transition attempt.
type ViolationSeverity string

const (
	SeverityMinor    ViolationSeverity = "minor"
	SeverityMajor    ViolationSeverity = "major"
	SeverityCritical ViolationSeverity = "critical"
)

// Violation describes a transition the table does not permit.
type Violation struct {
	From     State
	Event    string
	Severity ViolationSeverity
}

func (v Violation) Error() string {
	return fmt.Sprintf("session: illegal transition from %s on %s (%s)", v.From, v.Event, v.Severity)
}

// Matchmaker is the subset of matchmaker.Matchmaker a Session depends on;
// declared here (not imported) so session never holds a handle back into
// the matchmaker package beyond this narrow one-way contract.
type Matchmaker interface {
	Enqueue(playerID uuid.UUID, metadata string) error
	Dequeue(playerID uuid.UUID) error
}

// SubscriptionRegistry is the subset of subscription.Registry a Session
// needs to (de)register its own delivery handle.
type SubscriptionRegistry interface {
	Register(playerID uuid.UUID, handle subscription.Handle) error
	Deregister(playerID uuid.UUID, handle subscription.Handle)
}

// Sender is implemented by the WebSocket connection wrapper; Session never
// touches the raw socket directly.
type Sender interface {
	Send(msg protocol.ServerMessage) error
	Close() error
}

// Session is one connected client's state machine.
type Session struct {
	PlayerID uuid.UUID
	GameMode string

	state State
	sub   SubscriptionRegistry
	mm    Matchmaker
	out   Sender

	closed bool
}

func New(playerID uuid.UUID, sub SubscriptionRegistry, mm Matchmaker, out Sender) *Session {
	return &Session{
		PlayerID: playerID,
		state:    StateIdle,
		sub:      sub,
		mm:       mm,
		out:      out,
	}
}

// State reports the session's current machine state.
func (s *Session) State() State { return s.state }

// Deliver implements subscription.Handle: server-originated messages land
// here and are relayed onto the socket, driving the matching state
// transition.
func (s *Session) Deliver(msg protocol.ServerMessage) bool {
	if s.closed {
		return false
	}
	switch msg.Type {
	case protocol.ServerEnqueued:
		if s.state != StateEnqueuing {
			s.violate(s.state, "server_enqueued", SeverityMinor)
			return !s.closed
		}
		s.state = StateInQueue
	case protocol.ServerDequeued:
		if s.state != StateDequeuing {
			s.violate(s.state, "server_dequeued", SeverityMinor)
			return !s.closed
		}
		s.state = StateDequeued
	case protocol.ServerMatchFound:
		s.state = StateCompleted
	case protocol.ServerError:
		s.state = StateError
	}
	if err := s.out.Send(msg); err != nil {
		return false
	}
	if s.state == StateCompleted || s.state == StateError {
		_ = s.out.Close()
	}
	return true
}

// HandleClientMessage processes one inbound client frame.
func (s *Session) HandleClientMessage(msg protocol.ClientMessage) error {
	switch msg.Type {
	case protocol.ClientEnqueue:
		return s.handleEnqueue(msg)
	case protocol.ClientDequeue:
		return s.handleDequeue(msg)
	case protocol.ClientClose:
		return s.handleClose()
	default:
		return s.out.Send(protocol.Error(protocol.ErrInvalidMessageFormat, "unknown message type"))
	}
}

func (s *Session) handleEnqueue(msg protocol.ClientMessage) error {
	if s.state != StateIdle {
		return s.out.Send(protocol.Error(protocol.ErrAlreadyInQueue, "already enqueued or in progress"))
	}
	s.GameMode = msg.GameMode
	if err := s.mm.Enqueue(s.PlayerID, msg.Metadata); err != nil {
		if errors.Is(err, ErrAlreadyInQueue) {
			return s.out.Send(protocol.Error(protocol.ErrAlreadyInQueue, "already enqueued"))
		}
		s.state = StateError
		return s.out.Send(protocol.Error(protocol.ErrInternalError, err.Error()))
	}
	s.state = StateEnqueuing
	return nil
}

func (s *Session) handleDequeue(msg protocol.ClientMessage) error {
	if s.state != StateInQueue {
		return s.out.Send(protocol.Error(protocol.ErrNotInQueue, "not currently queued"))
	}
	if err := s.mm.Dequeue(s.PlayerID); err != nil {
		if errors.Is(err, ErrNotInQueue) {
			return s.out.Send(protocol.Error(protocol.ErrNotInQueue, "not currently queued"))
		}
		s.state = StateError
		return s.out.Send(protocol.Error(protocol.ErrInternalError, err.Error()))
	}
	s.state = StateDequeuing
	return nil
}

func (s *Session) handleClose() error {
	prev := s.state
	s.state = StateDisconnecting
	s.closed = true
	if prev == StateInQueue || prev == StateEnqueuing {
		_ = s.mm.Dequeue(s.PlayerID)
	}
	return s.out.Close()
}

// violate records an illegal transition attempt. Critical violations force
// an immediate close; Minor/Major are absorbed (stray late server messages
// after a client already moved on) and simply leave state unchanged.
func (s *Session) violate(from State, event string, severity ViolationSeverity) Violation {
	v := Violation{From: from, Event: event, Severity: severity}
	if severity == SeverityCritical {
		s.closed = true
		_ = s.out.Close()
	}
	return v
}
