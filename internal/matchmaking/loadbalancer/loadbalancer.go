// Package loadbalancer implements the Load Balancer Registry: an in-process
// map from session_id to the handle of its live dedicated game server. It
// mirrors the Subscription Registry's shape but keys on
// session rather than player, since a game actor serves both players of a
// match at once.
package loadbalancer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// GameHandle is a live dedicated-server assignment a pod can route
// spectator/administrative traffic to.
type GameHandle struct {
	SessionID     uuid.UUID
	ServerAddress string
	PodID         string
}

// Registry maps session_id to its current GameHandle.
type Registry struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]GameHandle

	lookupGroup singleflight.Group
}

func New() *Registry {
	return &Registry{byID: make(map[uuid.UUID]GameHandle)}
}

// Register records a freshly-allocated game session. A second Register for
// the same session_id (two coordinators both believing they won the
// allocation token) is a bug in the caller, not a condition this registry
// silently repairs.
func (r *Registry) Register(handle GameHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[handle.SessionID]; exists {
		return fmt.Errorf("loadbalancer: session %s already registered", handle.SessionID)
	}
	r.byID[handle.SessionID] = handle
	return nil
}

// Deregister removes a completed or torn-down session.
func (r *Registry) Deregister(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sessionID)
}

// Lookup returns the handle for sessionID, if one was registered with this
// Registry; registrations made in other processes are not visible.
func (r *Registry) Lookup(sessionID uuid.UUID) (GameHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[sessionID]
	return h, ok
}

// LookupCoalesced is Lookup with concurrent callers for the same sessionID
// collapsed onto a single map read: a watchdog timer and a duplicate
// watchdog racing on the same session (e.g. two ticks matching overlapping
// candidates before a stale queue entry is cleaned up) observe the registry
// together instead of each taking the read lock independently.
func (r *Registry) LookupCoalesced(sessionID uuid.UUID) (GameHandle, bool) {
	v, _, _ := r.lookupGroup.Do(sessionID.String(), func() (interface{}, error) {
		h, ok := r.Lookup(sessionID)
		return lookupResult{handle: h, ok: ok}, nil
	})
	res := v.(lookupResult)
	return res.handle, res.ok
}

type lookupResult struct {
	handle GameHandle
	ok     bool
}

// Len reports the number of live sessions tracked, for metrics/tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
