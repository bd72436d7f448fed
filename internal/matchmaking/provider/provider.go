// Package provider defines the dedicated-server provisioning contract the
// Allocation Coordinator calls after winning an allocation token, plus a
// mock implementation for tests and local development.
package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ResultKind tags the provider's outcome for a single provisioning attempt.
type ResultKind string

const (
	ResultSuccess   ResultKind = "success"
	ResultTransient ResultKind = "transient_failure"
)

// Result is what the coordinator inspects to decide publish-vs-retry.
type Result struct {
	Kind          ResultKind
	ServerAddress string
	// Err carries context for a transient failure; nil on success.
	Err error
}

// Provider requests a dedicated game-server instance for sessionID hosting
// the given players. Implementations must respect ctx's deadline and
// return ResultTransient (never panic or block past it) on timeout.
type Provider interface {
	Allocate(ctx context.Context, sessionID string, playerIDs []string) Result
}

// Mock is a deterministic, in-memory Provider for tests: it can be
// configured to fail the first N calls transiently before succeeding, to
// exercise the coordinator's retry path without a real backend.
type Mock struct {
	FailFirstN    int
	ServerAddress string

	calls atomic.Int64
}

func NewMock(failFirstN int, serverAddress string) *Mock {
	return &Mock{FailFirstN: failFirstN, ServerAddress: serverAddress}
}

func (m *Mock) Allocate(ctx context.Context, sessionID string, playerIDs []string) Result {
	n := m.calls.Add(1)
	select {
	case <-ctx.Done():
		return Result{Kind: ResultTransient, Err: ctx.Err()}
	default:
	}
	if int(n) <= m.FailFirstN {
		return Result{Kind: ResultTransient, Err: fmt.Errorf("mock provider: simulated transient failure %d", n)}
	}
	addr := m.ServerAddress
	if addr == "" {
		addr = "addr:1"
	}
	return Result{Kind: ResultSuccess, ServerAddress: addr}
}

// CallCount reports how many times Allocate has been invoked, for tests.
func (m *Mock) CallCount() int64 {
	return m.calls.Load()
}
