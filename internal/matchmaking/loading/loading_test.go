package loading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

type fakeQueue struct {
	mu       sync.Mutex
	requeued [][]string
}

func (f *fakeQueue) Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (int64, int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, playerIDs)
	return 0, int64(len(playerIDs)), int64(len(playerIDs)), nil
}

type fakeHandle struct {
	mu       sync.Mutex
	received []protocol.ServerMessage
}

func (f *fakeHandle) Deliver(msg protocol.ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return true
}

func newHarness(t *testing.T) (*Manager, *subscription.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sub := subscription.New()
	emitter := events.New(rdb, zap.NewNop(), events.Config{QueueSize: 16, WorkerCount: 1})
	return New(rdb, &fakeQueue{}, sub, emitter, zap.NewNop()), sub
}

func TestAckTriggersOnAllReadyWhenEveryPlayerAcks(t *testing.T) {
	m, _ := newHarness(t)
	ctx := context.Background()
	sessionID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	done := make(chan struct{})
	sess := Session{SessionID: sessionID, GameMode: "normal_1v1", Players: []uuid.UUID{p1, p2}, TTL: 2 * time.Second}
	if err := m.Begin(ctx, sess, func() { close(done) }); err != nil {
		t.Fatalf("begin: %v", err)
	}

	ready, err := m.Ack(ctx, sessionID, p1)
	if err != nil {
		t.Fatalf("ack p1: %v", err)
	}
	if ready {
		t.Fatal("expected not all ready after only p1 acked")
	}
	ready, err = m.Ack(ctx, sessionID, p2)
	if err != nil {
		t.Fatalf("ack p2: %v", err)
	}
	if !ready {
		t.Fatal("expected all ready after both acked")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onAllReady callback")
	}
}

func TestExpiryRequeuesSurvivorsAndNotifiesStragglers(t *testing.T) {
	m, sub := newHarness(t)
	ctx := context.Background()
	sessionID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	h1, h2 := &fakeHandle{}, &fakeHandle{}
	_ = sub.Register(p1, h1)
	_ = sub.Register(p2, h2)

	sess := Session{SessionID: sessionID, GameMode: "normal_1v1", Players: []uuid.UUID{p1, p2}, TTL: 250 * time.Millisecond}
	if err := m.Begin(ctx, sess, func() {}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.Ack(ctx, sessionID, p1); err != nil {
		t.Fatalf("ack p1: %v", err)
	}

	time.Sleep(700 * time.Millisecond)

	fq := m.q.(*fakeQueue)
	fq.mu.Lock()
	requeued := fq.requeued
	fq.mu.Unlock()
	if len(requeued) != 1 || len(requeued[0]) != 1 || requeued[0][0] != p1.String() {
		t.Fatalf("expected p1 requeued as survivor, got %+v", requeued)
	}

	h2.mu.Lock()
	defer h2.mu.Unlock()
	if len(h2.received) == 0 {
		t.Fatal("expected straggler p2 to receive a timeout notification")
	}
}
