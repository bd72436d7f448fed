// Package matchmaker implements the per-mode Matchmaker: a periodic tick
// that atomically pops candidates from the shared queue, pairs them, and
// hands each pair to the Allocation Coordinator.
package matchmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/queue"
	"github.com/nexus-arena/core/internal/matchmaking/session"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

// Queue is the subset of queue.Queue a Matchmaker depends on.
type Queue interface {
	Enqueue(ctx context.Context, mode, playerID string, score int64, metadata string) (addedFlag bool, size int64, err error)
	Dequeue(ctx context.Context, mode, playerID string) (removed bool, size int64, metadata string, err error)
	PopCandidates(ctx context.Context, mode string, batchSize int) ([]queue.Candidate, error)
	Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (sizeBefore, added, sizeAfter int64, err error)
}

// Breaker is the subset of circuitbreaker.Breaker a Matchmaker depends on.
type Breaker interface {
	Check() error
	IsOpen() bool
	RecordSuccess()
	RecordFailure()
}

// Coordinator is the subset of allocation.Coordinator a Matchmaker depends
// on to hand off a matched pair.
type Coordinator interface {
	Allocate(ctx context.Context, mode string, p1, p2 protocol.PlayerCandidate) error
}

// Config carries the per-mode settings from §6's environment inputs.
type Config struct {
	Mode            string
	PodID           string
	RequiredPlayers int
	TickInterval    time.Duration
}

// Matchmaker ticks periodically for exactly one game mode.
type Matchmaker struct {
	cfg     Config
	q       Queue
	breaker Breaker
	coord   Coordinator
	emitter *events.Emitter
	sub     *subscription.Registry
	logger  *zap.SugaredLogger

	matching atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config, q Queue, breaker Breaker, coord Coordinator, emitter *events.Emitter, sub *subscription.Registry, logger *zap.Logger) *Matchmaker {
	if cfg.RequiredPlayers <= 0 {
		cfg.RequiredPlayers = 2
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Matchmaker{
		cfg:     cfg,
		q:       q,
		breaker: breaker,
		coord:   coord,
		emitter: emitter,
		sub:     sub,
		logger:  logger.Sugar(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Enqueue implements the session.Matchmaker contract: merge the server's
// pod_id into the opaque metadata blob and atomically add the player.
func (m *Matchmaker) Enqueue(playerID uuid.UUID, metadata string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	merged := injectPodID(metadata, m.cfg.PodID)
	added, size, err := m.q.Enqueue(ctx, m.cfg.Mode, playerID.String(), time.Now().UnixMilli(), merged)
	if err != nil {
		m.breaker.RecordFailure()
		return fmt.Errorf("matchmaker: enqueue: %w", err)
	}
	m.breaker.RecordSuccess()
	if !added {
		return session.ErrAlreadyInQueue
	}
	m.emitter.Emit(events.Event{
		Kind:     events.KindQueueSizeChanged,
		GameMode: m.cfg.Mode,
		Payload:  map[string]any{"size": size},
	})
	return nil
}

// Dequeue implements the session.Matchmaker contract.
func (m *Matchmaker) Dequeue(playerID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	removed, size, _, err := m.q.Dequeue(ctx, m.cfg.Mode, playerID.String())
	if err != nil {
		m.breaker.RecordFailure()
		return fmt.Errorf("matchmaker: dequeue: %w", err)
	}
	m.breaker.RecordSuccess()
	if !removed {
		return session.ErrNotInQueue
	}
	m.emitter.Emit(events.Event{
		Kind:     events.KindQueueSizeChanged,
		GameMode: m.cfg.Mode,
		Payload:  map[string]any{"size": size},
	})
	return nil
}

// Start launches the tick loop in a background goroutine.
func (m *Matchmaker) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the tick loop to exit, re-enqueuing any chunk it is
// mid-processing, and blocks until it has done so.
func (m *Matchmaker) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Matchmaker) run(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick implements spec §4.9 steps 1-6.
func (m *Matchmaker) tick(ctx context.Context) {
	if !m.matching.CompareAndSwap(false, true) {
		m.logger.Debugw("matchmaker tick skipped: already matching", "mode", m.cfg.Mode)
		return
	}
	defer m.matching.Store(false)

	if m.breaker.IsOpen() {
		return
	}

	raw, err := m.q.PopCandidates(ctx, m.cfg.Mode, m.cfg.RequiredPlayers*2)
	if err != nil {
		m.breaker.RecordFailure()
		m.logger.Errorw("pop_candidates failed", "mode", m.cfg.Mode, "error", err)
		return
	}
	m.breaker.RecordSuccess()
	if len(raw) == 0 {
		return
	}

	valid := m.screen(ctx, raw)
	m.pairAndAllocate(ctx, valid)
}

// screen parses each popped candidate, quarantining ones with malformed
// metadata (spec §4.9 step 4, §7 Poisoned data).
func (m *Matchmaker) screen(ctx context.Context, raw []queue.Candidate) []protocol.PlayerCandidate {
	valid := make([]protocol.PlayerCandidate, 0, len(raw))
	for _, c := range raw {
		playerID, err := uuid.Parse(c.PlayerID)
		if err != nil || !json.Valid([]byte(c.Metadata)) {
			m.poison(ctx, c)
			continue
		}
		valid = append(valid, protocol.PlayerCandidate{
			PlayerID: playerID,
			Score:    c.Score,
			Metadata: json.RawMessage(c.Metadata),
		})
	}
	return valid
}

func (m *Matchmaker) poison(ctx context.Context, c queue.Candidate) {
	m.emitter.Emit(events.Event{
		Kind:     events.KindPoisonedCandidate,
		GameMode: m.cfg.Mode,
		Payload:  map[string]any{"player_id": c.PlayerID},
	})
	playerID, err := uuid.Parse(c.PlayerID)
	if err != nil {
		return
	}
	m.sub.Forward(playerID, protocol.Dequeued())
	m.sub.Forward(playerID, protocol.Error(protocol.ErrInvalidMessageFormat, "unparseable matchmaking metadata"))
}

// pairAndAllocate chunks valid candidates into pairs, re-enqueuing any odd
// leftover, and hands each pair to the Allocation Coordinator. It checks
// for a shutdown signal between chunks so a stop mid-batch re-enqueues the
// remainder instead of dropping it.
func (m *Matchmaker) pairAndAllocate(ctx context.Context, valid []protocol.PlayerCandidate) {
	i := 0
	for ; i+1 < len(valid); i += 2 {
		select {
		case <-m.stopCh:
			m.requeueRemainder(ctx, valid[i:])
			return
		default:
		}
		p1, p2 := valid[i], valid[i+1]
		if err := m.coord.Allocate(ctx, m.cfg.Mode, p1, p2); err != nil {
			m.logger.Errorw("allocation failed", "mode", m.cfg.Mode, "error", err)
		}
	}
	if i < len(valid) {
		m.requeueRemainder(ctx, valid[i:])
	}
}

func (m *Matchmaker) requeueRemainder(ctx context.Context, leftover []protocol.PlayerCandidate) {
	if len(leftover) == 0 {
		return
	}
	ids := make([]string, len(leftover))
	for i, c := range leftover {
		ids[i] = c.PlayerID.String()
	}
	if _, _, _, err := m.q.Requeue(ctx, m.cfg.Mode, time.Now().UnixMilli(), ids); err != nil {
		m.logger.Errorw("requeue leftover candidates failed", "mode", m.cfg.Mode, "error", err)
	}
}

func injectPodID(metadata, podID string) string {
	var fields map[string]any
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &fields); err != nil {
			fields = nil
			if json.Valid([]byte(metadata)) {
				fields = map[string]any{"original": json.RawMessage(metadata)}
			}
		}
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["pod_id"] = podID
	out, err := json.Marshal(fields)
	if err != nil {
		return metadata
	}
	return string(out)
}
