package scheduler

import (
	"testing"

	"github.com/google/uuid"
)

func TestNextOrdersByTime(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.Schedule(100, KindAutoAttackTick, "player", a)
	s.Schedule(50, KindBuffTick, "player", b)

	ev, ok := s.Next()
	if !ok || ev.TimeMS != 50 {
		t.Fatalf("expected the earlier time_ms event first, got %+v", ev)
	}
}

func TestNextTiebreaksByTier(t *testing.T) {
	s := New()
	low, high := uuid.MustParse("00000000-0000-0000-0000-000000000001"), uuid.MustParse("00000000-0000-0000-0000-000000000002")
	s.Schedule(100, KindAutoAttackTick, "player", high)
	s.Schedule(100, KindDeathCheck, "player", low)

	ev, ok := s.Next()
	if !ok || ev.Tier != KindDeathCheck {
		t.Fatalf("expected lower tier to pop first at identical time_ms, got %+v", ev)
	}
}

func TestScheduleWithCauseCarriesCauseSeq(t *testing.T) {
	s := New()
	s.ScheduleWithCause(10, KindDeathCheck, "player", uuid.New(), 42)

	ev, ok := s.Next()
	if !ok {
		t.Fatal("expected an event to be available")
	}
	if !ev.HasCause || ev.CauseSeq != 42 {
		t.Fatalf("expected HasCause=true CauseSeq=42, got HasCause=%v CauseSeq=%d", ev.HasCause, ev.CauseSeq)
	}
}

func TestScheduleHasNoCause(t *testing.T) {
	s := New()
	s.Schedule(10, KindAutoAttackTick, "player", uuid.New())

	ev, ok := s.Next()
	if !ok {
		t.Fatal("expected an event to be available")
	}
	if ev.HasCause {
		t.Fatalf("expected HasCause=false for a plain Schedule call, got CauseSeq=%d", ev.CauseSeq)
	}
}

func TestLenTracksHeapSize(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Fatalf("expected empty scheduler, got len=%d", s.Len())
	}
	s.Schedule(0, KindAutoAttackTick, "player", uuid.New())
	if s.Len() != 1 {
		t.Fatalf("expected len=1 after one schedule, got %d", s.Len())
	}
	if _, ok := s.Next(); !ok {
		t.Fatal("expected an event to be available")
	}
	if s.Len() != 0 {
		t.Fatalf("expected len=0 after draining, got %d", s.Len())
	}
}
