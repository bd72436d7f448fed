// Package allocation implements the Allocation Coordinator: for a matched
// pair of players it claims an exclusive token over a session_id, calls the
// dedicated-server provider, and on success publishes match-found to both
// players directly and cross-pod. Transient provider failures are retried
// up to a bounded count before the pair is failed out entirely.
package allocation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/loadbalancer"
	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/provider"
	"github.com/nexus-arena/core/internal/matchmaking/queue"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

// sessionNamespace fixes the UUIDv5 namespace used to derive a session_id
// deterministically from a matched pair, so a re-enqueued pair that gets
// re-matched retains the same retry/alloc keys instead of resetting its
// retry counter every tick.
var sessionNamespace = uuid.MustParse("7d6a9f2a-7e41-4f1d-9a2b-2f9b9a9f6a10")

func deriveSessionID(mode string, a, b uuid.UUID) uuid.UUID {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return uuid.NewSHA1(sessionNamespace, []byte(fmt.Sprintf("%s:%s:%s", mode, ids[0], ids[1])))
}

// Config carries the timing knobs spec'd in §6 (environment inputs).
type Config struct {
	TokenTTL          time.Duration
	ProviderTimeout   time.Duration
	MaxRetries        int
	WatchdogDelay     time.Duration
	RetryCounterTTL   time.Duration
}

// Queue is the subset of queue.Queue the coordinator needs to requeue a
// pair after a transient failure.
type Queue interface {
	Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (sizeBefore, added, sizeAfter int64, err error)
}

// Coordinator drives one allocation attempt per matched pair.
type Coordinator struct {
	rdb      *redis.Client
	q        Queue
	sub      *subscription.Registry
	lb       *loadbalancer.Registry
	emitter  *events.Emitter
	provider provider.Provider
	logger   *zap.SugaredLogger
	cfg      Config

	// AfterSuccess, when set, runs after MatchFound has been published for
	// a session. A mode wired to require a post-match loading handshake
	// (internal/matchmaking/loading) sets this to begin that session; modes
	// that don't require it leave it nil and MatchFound is the end of the
	// coordinator's involvement, per §4.11.
	AfterSuccess func(sessionID uuid.UUID, mode string, players []uuid.UUID)
}

func New(rdb *redis.Client, q Queue, sub *subscription.Registry, lb *loadbalancer.Registry, emitter *events.Emitter, prov provider.Provider, logger *zap.Logger, cfg Config) *Coordinator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Second
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 5 * time.Second
	}
	if cfg.RetryCounterTTL <= 0 {
		cfg.RetryCounterTTL = 5 * time.Minute
	}
	return &Coordinator{rdb: rdb, q: q, sub: sub, lb: lb, emitter: emitter, provider: prov, logger: logger.Sugar(), cfg: cfg}
}

// Allocate runs the full allocation flow for a matched pair (spec §4.11).
func (c *Coordinator) Allocate(ctx context.Context, mode string, p1, p2 protocol.PlayerCandidate) error {
	sessionID := deriveSessionID(mode, p1.PlayerID, p2.PlayerID)
	allocKey := fmt.Sprintf("alloc:%s", sessionID)

	won, err := c.rdb.SetNX(ctx, allocKey, "held", c.cfg.TokenTTL).Result()
	if err != nil {
		return fmt.Errorf("allocation: acquire token: %w", err)
	}
	if !won {
		c.scheduleWatchdog(sessionID)
		return nil
	}

	providerCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	result := c.provider.Allocate(providerCtx, sessionID.String(), []string{p1.PlayerID.String(), p2.PlayerID.String()})
	cancel()

	switch result.Kind {
	case provider.ResultSuccess:
		return c.handleSuccess(ctx, sessionID, allocKey, mode, p1, p2, result.ServerAddress)
	default:
		return c.handleTransientFailure(ctx, sessionID, allocKey, mode, p1, p2, result.Err)
	}
}

func (c *Coordinator) handleSuccess(ctx context.Context, sessionID uuid.UUID, allocKey, mode string, p1, p2 protocol.PlayerCandidate, serverAddress string) error {
	if err := c.lb.Register(loadbalancer.GameHandle{SessionID: sessionID, ServerAddress: serverAddress}); err != nil {
		c.logger.Warnw("loadbalancer register failed", "session_id", sessionID, "error", err)
	}

	msgFor := func(winner string, self, opponent protocol.PlayerCandidate) protocol.ServerMessage {
		return protocol.MatchFound(sessionID, winner, opponent.PlayerID.String(), serverAddress)
	}
	c.sub.Forward(p1.PlayerID, msgFor("", p1, p2))
	c.sub.Forward(p2.PlayerID, msgFor("", p2, p1))
	c.publishCrossPod(ctx, p1.PlayerID, msgFor("", p1, p2))
	c.publishCrossPod(ctx, p2.PlayerID, msgFor("", p2, p1))

	c.rdb.Del(ctx, allocKey, fmt.Sprintf("retry:%s", sessionID))
	c.emitter.Emit(events.Event{
		Kind:     events.KindSessionCreated,
		GameMode: mode,
		Payload: map[string]any{
			"session_id":     sessionID.String(),
			"server_address": serverAddress,
			"player_ids":     []string{p1.PlayerID.String(), p2.PlayerID.String()},
		},
	})
	if c.AfterSuccess != nil {
		c.AfterSuccess(sessionID, mode, []uuid.UUID{p1.PlayerID, p2.PlayerID})
	}
	return nil
}

func (c *Coordinator) handleTransientFailure(ctx context.Context, sessionID uuid.UUID, allocKey, mode string, p1, p2 protocol.PlayerCandidate, cause error) error {
	retryKey := fmt.Sprintf("retry:%s", sessionID)
	count, err := c.rdb.Incr(ctx, retryKey).Result()
	if err != nil {
		return fmt.Errorf("allocation: increment retry counter: %w", err)
	}
	c.rdb.Expire(ctx, retryKey, c.cfg.RetryCounterTTL)

	if int(count) <= c.cfg.MaxRetries {
		now := time.Now().UnixMilli()
		if _, _, _, err := c.q.Requeue(ctx, mode, now, []string{p1.PlayerID.String(), p2.PlayerID.String()}); err != nil {
			c.logger.Errorw("requeue after transient allocation failure failed", "session_id", sessionID, "error", err)
		}
		c.rdb.Del(ctx, allocKey)
		c.emitter.Emit(events.Event{
			Kind:     events.KindPlayersRequeued,
			GameMode: mode,
			Payload: map[string]any{
				"session_id": sessionID.String(),
				"attempt":    count,
				"cause":      errString(cause),
			},
		})
		return nil
	}

	return c.finalFailureCleanup(ctx, sessionID, allocKey, retryKey, mode, p1, p2)
}

// finalFailureCleanup runs when a pair has exhausted max_retries: spec §4.11
// step 4.
func (c *Coordinator) finalFailureCleanup(ctx context.Context, sessionID uuid.UUID, allocKey, retryKey, mode string, p1, p2 protocol.PlayerCandidate) error {
	c.emitter.Emit(events.Event{
		Kind:     events.KindDedicatedSessionFailed,
		GameMode: mode,
		Payload: map[string]any{
			"session_id": sessionID.String(),
			"player_ids": []string{p1.PlayerID.String(), p2.PlayerID.String()},
		},
	})

	loadingKey := fmt.Sprintf("loading:%s", sessionID)
	c.rdb.Del(ctx, loadingKey, allocKey, retryKey)

	errMsg := protocol.Error(protocol.ErrMaxRetriesExceeded, "dedicated server allocation failed after max retries")
	c.sub.Forward(p1.PlayerID, errMsg)
	c.sub.Forward(p2.PlayerID, errMsg)
	return nil
}

// scheduleWatchdog mirrors §4.11's Busy branch: after a delay, check
// whether the winning coordinator already completed the allocation. It
// never issues a second dedicated-server request itself.
func (c *Coordinator) scheduleWatchdog(sessionID uuid.UUID) {
	time.AfterFunc(c.cfg.WatchdogDelay, func() {
		if _, ok := c.lb.LookupCoalesced(sessionID); !ok {
			c.logger.Warnw("allocation watchdog: session still unresolved after delay", "session_id", sessionID)
		}
	})
}

func (c *Coordinator) publishCrossPod(ctx context.Context, playerID uuid.UUID, msg protocol.ServerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorw("marshal cross-pod match_found failed", "player_id", playerID, "error", err)
		return
	}
	channel := fmt.Sprintf("notifications:%s", playerID)
	if err := c.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		c.logger.Errorw("publish cross-pod match_found failed", "player_id", playerID, "channel", channel, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
