package loadbalancer

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestRegisterThenLookup(t *testing.T) {
	r := New()
	sessionID := uuid.New()
	h := GameHandle{SessionID: sessionID, ServerAddress: "addr:1", PodID: "pod-a"}

	if err := r.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Lookup(sessionID)
	if !ok {
		t.Fatal("expected lookup to find registered session")
	}
	if got.ServerAddress != "addr:1" {
		t.Fatalf("expected server_address addr:1, got %q", got.ServerAddress)
	}
}

func TestRegisterRejectsDuplicateSession(t *testing.T) {
	r := New()
	sessionID := uuid.New()
	h := GameHandle{SessionID: sessionID, ServerAddress: "addr:1"}

	if err := r.Register(h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(h); err == nil {
		t.Fatal("expected second register of same session to be rejected")
	}
}

func TestDeregisterRemovesSession(t *testing.T) {
	r := New()
	sessionID := uuid.New()
	if err := r.Register(GameHandle{SessionID: sessionID}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Deregister(sessionID)
	if _, ok := r.Lookup(sessionID); ok {
		t.Fatal("expected session to be gone after deregister")
	}
}

func TestLookupOfUnknownSessionMisses(t *testing.T) {
	r := New()
	if _, ok := r.Lookup(uuid.New()); ok {
		t.Fatal("expected lookup miss for unregistered session")
	}
}

func TestLookupCoalescedAgreesWithConcurrentCallers(t *testing.T) {
	r := New()
	sessionID := uuid.New()
	if err := r.Register(GameHandle{SessionID: sessionID, ServerAddress: "addr:9"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := r.LookupCoalesced(sessionID)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d: expected coalesced lookup to find registered session", i)
		}
	}
}
