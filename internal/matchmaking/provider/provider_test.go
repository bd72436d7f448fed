package provider

import (
	"context"
	"testing"
)

func TestMockSucceedsAfterFailFirstN(t *testing.T) {
	m := NewMock(2, "addr:7")
	ctx := context.Background()

	r1 := m.Allocate(ctx, "sess-1", []string{"p1", "p2"})
	if r1.Kind != ResultTransient {
		t.Fatalf("expected attempt 1 transient, got %s", r1.Kind)
	}
	r2 := m.Allocate(ctx, "sess-1", []string{"p1", "p2"})
	if r2.Kind != ResultTransient {
		t.Fatalf("expected attempt 2 transient, got %s", r2.Kind)
	}
	r3 := m.Allocate(ctx, "sess-1", []string{"p1", "p2"})
	if r3.Kind != ResultSuccess || r3.ServerAddress != "addr:7" {
		t.Fatalf("expected attempt 3 success with addr:7, got %+v", r3)
	}
}

func TestMockDefaultsServerAddress(t *testing.T) {
	m := NewMock(0, "")
	r := m.Allocate(context.Background(), "sess-1", []string{"p1", "p2"})
	if r.ServerAddress != "addr:1" {
		t.Fatalf("expected default addr:1, got %q", r.ServerAddress)
	}
}

func TestMockRespectsCanceledContext(t *testing.T) {
	m := NewMock(0, "addr:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := m.Allocate(ctx, "sess-1", []string{"p1", "p2"})
	if r.Kind != ResultTransient {
		t.Fatalf("expected canceled context to yield transient failure, got %s", r.Kind)
	}
}
