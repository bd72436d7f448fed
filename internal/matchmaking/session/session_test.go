package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

type fakeMatchmaker struct {
	enqueueErr error
	dequeueErr error
	enqueued   bool
	dequeued   bool
}

func (f *fakeMatchmaker) Enqueue(playerID uuid.UUID, metadata string) error {
	f.enqueued = true
	return f.enqueueErr
}

func (f *fakeMatchmaker) Dequeue(playerID uuid.UUID) error {
	f.dequeued = true
	return f.dequeueErr
}

type fakeSender struct {
	sent   []protocol.ServerMessage
	closed bool
}

func (f *fakeSender) Send(msg protocol.ServerMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

type fakeRegistry struct{}

func (fakeRegistry) Register(uuid.UUID, subscription.Handle) error { return nil }
func (fakeRegistry) Deregister(uuid.UUID, subscription.Handle)     {}

func TestEnqueueTransitionsIdleToEnqueuingThenInQueue(t *testing.T) {
	mm := &fakeMatchmaker{}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)

	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue, GameMode: "normal_1v1"}); err != nil {
		t.Fatalf("handle enqueue: %v", err)
	}
	if s.State() != StateEnqueuing {
		t.Fatalf("expected state enqueuing, got %s", s.State())
	}
	if !mm.enqueued {
		t.Fatal("expected matchmaker.Enqueue to be called")
	}

	s.Deliver(protocol.Enqueued("pod-a"))
	if s.State() != StateInQueue {
		t.Fatalf("expected state in_queue after server ack, got %s", s.State())
	}
	if len(out.sent) != 1 || out.sent[0].Type != protocol.ServerEnqueued {
		t.Fatalf("expected enqueued message forwarded to client, got %+v", out.sent)
	}
}

func TestDoubleEnqueueReturnsAlreadyInQueue(t *testing.T) {
	mm := &fakeMatchmaker{}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)

	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if len(out.sent) != 1 || out.sent[0].Code != protocol.ErrAlreadyInQueue {
		t.Fatalf("expected already_in_queue error, got %+v", out.sent)
	}
}

func TestDequeueWhenNotQueuedReturnsNotInQueue(t *testing.T) {
	mm := &fakeMatchmaker{}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)

	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientDequeue}); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(out.sent) != 1 || out.sent[0].Code != protocol.ErrNotInQueue {
		t.Fatalf("expected not_in_queue error, got %+v", out.sent)
	}
}

func TestMatchFoundCompletesAndClosesSession(t *testing.T) {
	mm := &fakeMatchmaker{}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)
	_ = s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue})
	s.Deliver(protocol.Enqueued("pod-a"))

	s.Deliver(protocol.MatchFound(uuid.New(), "", "opponent-1", "addr:1"))
	if s.State() != StateCompleted {
		t.Fatalf("expected state completed, got %s", s.State())
	}
	if !out.closed {
		t.Fatal("expected session socket to be closed on match_found")
	}
}

func TestCloseWhileEnqueuedDequeuesBestEffort(t *testing.T) {
	mm := &fakeMatchmaker{}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)
	_ = s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue})
	s.Deliver(protocol.Enqueued("pod-a"))

	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientClose}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.State() != StateDisconnecting {
		t.Fatalf("expected state disconnecting, got %s", s.State())
	}
	if !mm.dequeued {
		t.Fatal("expected best-effort dequeue on close")
	}
	if !out.closed {
		t.Fatal("expected socket closed")
	}
}

func TestEnqueueFailurePropagatesInternalError(t *testing.T) {
	mm := &fakeMatchmaker{enqueueErr: errors.New("redis down")}
	out := &fakeSender{}
	s := New(uuid.New(), fakeRegistry{}, mm, out)

	if err := s.HandleClientMessage(protocol.ClientMessage{Type: protocol.ClientEnqueue}); err != nil {
		t.Fatalf("handle enqueue: %v", err)
	}
	if s.State() != StateError {
		t.Fatalf("expected state error, got %s", s.State())
	}
	if len(out.sent) != 1 || out.sent[0].Code != protocol.ErrInternalError {
		t.Fatalf("expected internal_error sent to client, got %+v", out.sent)
	}
}
