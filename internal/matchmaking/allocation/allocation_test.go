package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/loadbalancer"
	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/provider"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

type fakeHandle struct {
	received []protocol.ServerMessage
}

func (f *fakeHandle) Deliver(msg protocol.ServerMessage) bool {
	f.received = append(f.received, msg)
	return true
}

type fakeQueue struct {
	requeued [][]string
}

func (f *fakeQueue) Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (int64, int64, int64, error) {
	f.requeued = append(f.requeued, playerIDs)
	return 0, int64(len(playerIDs)), int64(len(playerIDs)), nil
}

func newHarness(t *testing.T) (*Coordinator, *redis.Client, *subscription.Registry, *fakeQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sub := subscription.New()
	lb := loadbalancer.New()
	q := &fakeQueue{}
	emitter := events.New(rdb, zap.NewNop(), events.Config{QueueSize: 16, WorkerCount: 1})
	return New(rdb, q, sub, lb, emitter, provider.NewMock(0, "addr:9"), zap.NewNop(), Config{
		TokenTTL:        time.Minute,
		ProviderTimeout: time.Second,
		MaxRetries:      2,
		WatchdogDelay:   time.Hour,
	}), rdb, sub, q
}

func TestAllocateSuccessForwardsMatchFoundToBoth(t *testing.T) {
	c, _, sub, _ := newHarness(t)
	p1 := protocol.PlayerCandidate{PlayerID: uuid.New()}
	p2 := protocol.PlayerCandidate{PlayerID: uuid.New()}

	h1, h2 := &fakeHandle{}, &fakeHandle{}
	_ = sub.Register(p1.PlayerID, h1)
	_ = sub.Register(p2.PlayerID, h2)

	if err := c.Allocate(context.Background(), "normal_1v1", p1, p2); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(h1.received) != 1 || h1.received[0].Type != protocol.ServerMatchFound {
		t.Fatalf("expected p1 to receive match_found, got %+v", h1.received)
	}
	if len(h2.received) != 1 || h2.received[0].Type != protocol.ServerMatchFound {
		t.Fatalf("expected p2 to receive match_found, got %+v", h2.received)
	}
	if h1.received[0].ServerAddress != "addr:9" {
		t.Fatalf("expected server_address addr:9, got %q", h1.received[0].ServerAddress)
	}
}

func TestAllocateRetriesOnTransientFailureThenRequeues(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := subscription.New()
	lb := loadbalancer.New()
	q := &fakeQueue{}
	emitter := events.New(rdb, zap.NewNop(), events.Config{QueueSize: 16, WorkerCount: 1})
	c := New(rdb, q, sub, lb, emitter, provider.NewMock(1, "addr:9"), zap.NewNop(), Config{
		TokenTTL:        time.Minute,
		ProviderTimeout: time.Second,
		MaxRetries:      2,
		WatchdogDelay:   time.Hour,
	})

	p1 := protocol.PlayerCandidate{PlayerID: uuid.New()}
	p2 := protocol.PlayerCandidate{PlayerID: uuid.New()}

	if err := c.Allocate(context.Background(), "normal_1v1", p1, p2); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(q.requeued) != 1 {
		t.Fatalf("expected one requeue after the single transient failure, got %d", len(q.requeued))
	}
}

func TestAllocateExceedingMaxRetriesNotifiesBothPlayers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := subscription.New()
	lb := loadbalancer.New()
	q := &fakeQueue{}
	emitter := events.New(rdb, zap.NewNop(), events.Config{QueueSize: 16, WorkerCount: 1})
	c := New(rdb, q, sub, lb, emitter, provider.NewMock(100, "addr:9"), zap.NewNop(), Config{
		TokenTTL:        time.Minute,
		ProviderTimeout: time.Second,
		MaxRetries:      2,
		WatchdogDelay:   time.Hour,
	})

	p1 := protocol.PlayerCandidate{PlayerID: uuid.New()}
	p2 := protocol.PlayerCandidate{PlayerID: uuid.New()}
	h1, h2 := &fakeHandle{}, &fakeHandle{}
	_ = sub.Register(p1.PlayerID, h1)
	_ = sub.Register(p2.PlayerID, h2)

	// deterministic session id means retries accumulate across calls for
	// the same pair, exactly as they would across re-matched ticks.
	for i := 0; i < 3; i++ {
		if err := c.Allocate(context.Background(), "normal_1v1", p1, p2); err != nil {
			t.Fatalf("allocate attempt %d: %v", i, err)
		}
	}

	if len(h1.received) != 1 || h1.received[0].Code != protocol.ErrMaxRetriesExceeded {
		t.Fatalf("expected p1 to receive exactly one max_retries_exceeded, got %+v", h1.received)
	}
	if len(h2.received) != 1 || h2.received[0].Code != protocol.ErrMaxRetriesExceeded {
		t.Fatalf("expected p2 to receive exactly one max_retries_exceeded, got %+v", h2.received)
	}
}
