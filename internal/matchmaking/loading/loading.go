// Package loading implements the optional LoadingSession stage: a
// post-match-found readiness handshake gated by a mode's
// RequireLoading setting. Modes that don't require it never touch
// this package; the Allocation Coordinator publishes MatchFound directly.
package loading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

// Queue is the subset of queue.Queue the loading stage needs to requeue
// survivors after a TTL expiry.
type Queue interface {
	Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (sizeBefore, added, sizeAfter int64, err error)
}

// Session is one LoadingSession: a set of players who must all ack ready
// before the match actually starts.
type Session struct {
	SessionID uuid.UUID
	GameMode  string
	Players   []uuid.UUID
	TTL       time.Duration
}

// Manager owns the loading:<session_id> hash lifecycle.
type Manager struct {
	rdb     *redis.Client
	q       Queue
	sub     *subscription.Registry
	emitter *events.Emitter
	logger  *zap.SugaredLogger
}

func New(rdb *redis.Client, q Queue, sub *subscription.Registry, emitter *events.Emitter, logger *zap.Logger) *Manager {
	return &Manager{rdb: rdb, q: q, sub: sub, emitter: emitter, logger: logger.Sugar()}
}

func loadingKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("loading:%s", sessionID)
}

// Begin creates the ready-set hash, starts the TTL watchdog, and returns
// immediately; onAllReady is invoked (from the watchdog goroutine) on the
// first 200ms poll that finds every player acked.
func (m *Manager) Begin(ctx context.Context, sess Session, onAllReady func()) error {
	key := loadingKey(sess.SessionID)
	fields := make(map[string]any, len(sess.Players))
	for _, p := range sess.Players {
		fields[p.String()] = "0"
	}
	if err := m.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("loading: begin: %w", err)
	}
	if err := m.rdb.Expire(ctx, key, sess.TTL).Err(); err != nil {
		return fmt.Errorf("loading: set ttl: %w", err)
	}

	go m.watch(sess, onAllReady)
	return nil
}

// Ack records that playerID has finished loading. Returns true once every
// player in the session has acked.
func (m *Manager) Ack(ctx context.Context, sessionID uuid.UUID, playerID uuid.UUID) (allReady bool, err error) {
	key := loadingKey(sessionID)
	if err := m.rdb.HSet(ctx, key, playerID.String(), "1").Err(); err != nil {
		return false, fmt.Errorf("loading: ack: %w", err)
	}
	ready, err := m.allReady(ctx, key)
	if err != nil {
		return false, err
	}
	return ready, nil
}

func (m *Manager) allReady(ctx context.Context, key string) (bool, error) {
	vals, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("loading: read ready set: %w", err)
	}
	if len(vals) == 0 {
		return false, nil
	}
	for _, v := range vals {
		if v != "1" {
			return false, nil
		}
	}
	return true, nil
}

// watch polls the ready set until TTL elapses or everyone acks. A real
// deployment would use a keyspace-notification or a per-session timer
// channel; polling keeps this package's dependency surface to go-redis
// alone, matching the rest of the store access in this pipeline.
func (m *Manager) watch(sess Session, onAllReady func()) {
	ctx := context.Background()
	deadline := time.Now().Add(sess.TTL)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	key := loadingKey(sess.SessionID)
	for time.Now().Before(deadline) {
		<-ticker.C
		ready, err := m.allReady(ctx, key)
		if err != nil {
			m.logger.Errorw("loading: poll ready set failed", "session_id", sess.SessionID, "error", err)
			continue
		}
		if ready {
			m.rdb.Del(ctx, key)
			onAllReady()
			return
		}
	}
	m.expire(ctx, sess)
}

// expire tears down a session that never reached full readiness: survivors
// (players who did ack) are re-queued for another chance at matching;
// stragglers are notified of the timeout.
func (m *Manager) expire(ctx context.Context, sess Session) {
	key := loadingKey(sess.SessionID)
	vals, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		m.logger.Errorw("loading: read ready set on expiry failed", "session_id", sess.SessionID, "error", err)
		vals = map[string]string{}
	}
	m.rdb.Del(ctx, key)

	var survivors []string
	for _, p := range sess.Players {
		if vals[p.String()] == "1" {
			survivors = append(survivors, p.String())
		} else {
			m.sub.Forward(p, protocol.Error(protocol.ErrMatchmakingTimeout, "loading acknowledgment timed out"))
		}
	}
	if len(survivors) > 0 {
		if _, _, _, err := m.q.Requeue(ctx, sess.GameMode, time.Now().UnixMilli(), survivors); err != nil {
			m.logger.Errorw("loading: requeue survivors failed", "session_id", sess.SessionID, "error", err)
		}
		for _, id := range survivors {
			if parsed, err := uuid.Parse(id); err == nil {
				m.sub.Forward(parsed, protocol.Error(protocol.ErrMatchmakingTimeout, "opponent failed to load in time, requeued"))
			}
		}
	}
	m.emitter.Emit(events.Event{
		Kind:     events.KindDedicatedSessionFailed,
		GameMode: sess.GameMode,
		Payload: map[string]any{
			"session_id": sess.SessionID.String(),
			"reason":     "loading_ttl_expired",
			"survivors":  survivors,
		},
	})
}
