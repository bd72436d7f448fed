// Package subscription implements the Subscription Registry: an in-process
// map from player_id to the session handle that can deliver a server message
// to that player's WebSocket. It is the only place a Matchmaker or
// Allocation Coordinator reaches to talk to a specific client; nothing holds
// a direct reference back to a session.
package subscription

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/matchmaking/protocol"
)

// Handle is whatever a Session Actor exposes for delivery; *session.Session
// implements it by writing the message straight to its socket in the
// calling goroutine. There is no mailbox and no try-send.
type Handle interface {
	Deliver(msg protocol.ServerMessage) bool
}

// Registry routes server-originated messages to sessions by player id.
type Registry struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]Handle
}

func New() *Registry {
	return &Registry{byID: make(map[uuid.UUID]Handle)}
}

// Register binds playerID to handle. A second Register for an id already
// present is rejected: allowing it would let a stale or rogue connection
// hijack another session's delivery path.
func (r *Registry) Register(playerID uuid.UUID, handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[playerID]; exists {
		return fmt.Errorf("subscription: player %s already registered", playerID)
	}
	r.byID[playerID] = handle
	return nil
}

// Deregister removes playerID's handle, if registered for exactly this
// handle. A mismatched handle (a newer registration already replaced it)
// is left untouched.
func (r *Registry) Deregister(playerID uuid.UUID, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byID[playerID]; ok && current == handle {
		delete(r.byID, playerID)
	}
}

// Forward delivers msg to playerID's session. Forwarding to an unknown or
// disconnected player is a benign no-op: the player may have dropped
// already and the caller (matchmaker, coordinator) should not treat this
// as an error.
func (r *Registry) Forward(playerID uuid.UUID, msg protocol.ServerMessage) {
	r.mu.RLock()
	handle, ok := r.byID[playerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if !handle.Deliver(msg) {
		r.mu.Lock()
		if current, ok := r.byID[playerID]; ok && current == handle {
			delete(r.byID, playerID)
		}
		r.mu.Unlock()
	}
}

// Len reports the number of registered sessions, for metrics/tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
