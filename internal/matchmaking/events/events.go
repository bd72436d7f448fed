// Package events implements the State Event Emitter: a bounded, best-effort
// publisher of observability events (queue_size_changed, players_requeued,
// session_created/failed, ...) onto the shared store's pub/sub channels.
// Publishing never blocks matchmaking: a full internal queue drops the
// event and counts it rather than stalling the caller.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind enumerates the typed state events the pipeline publishes.
type Kind string

const (
	KindQueueSizeChanged      Kind = "queue_size_changed"
	KindPlayersRequeued       Kind = "players_requeued"
	KindSessionCreated        Kind = "session_created"
	KindDedicatedSessionFailed Kind = "dedicated_session_failed"
	KindPoisonedCandidate     Kind = "poisoned_candidate"
)

// Event is one observability record; Payload is marshaled as-is onto the
// pub/sub channel.
type Event struct {
	Kind      Kind
	GameMode  string
	Payload   any
	Timestamp time.Time
}

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_state_events_published_total",
		Help: "Total state events published by kind.",
	}, []string{"kind"})

	dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_state_events_dropped_total",
		Help: "Total state events dropped because the emitter queue was full.",
	}, []string{"kind"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaking_state_event_queue_depth",
		Help: "Current depth of the state event emitter's internal queue.",
	})
)

// Emitter owns one bounded queue and a pool of goroutines publishing to
// Redis pub/sub under the `events:*` channel family.
type Emitter struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
	queue  chan Event

	workerCount int
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

type Config struct {
	QueueSize   int
	WorkerCount int
}

func New(rdb *redis.Client, logger *zap.Logger, cfg Config) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	return &Emitter{
		rdb:         rdb,
		logger:      logger.Sugar(),
		queue:       make(chan Event, cfg.QueueSize),
		workerCount: cfg.WorkerCount,
	}
}

// Start launches the publishing goroutines. Calling Start twice is a bug;
// callers own lifecycle exactly once per Emitter.
func (e *Emitter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.publishLoop(ctx)
	}
	go e.reportQueueDepth(ctx)
}

// Stop cancels the workers and returns once all of them have exited. Events
// still queued are not published, and a publish already in progress runs
// with the canceled context.
func (e *Emitter) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	close(e.queue)
	e.wg.Wait()
}

// Emit best-effort enqueues ev for publishing. It never blocks: a full queue
// drops the event and increments the dropped counter.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.queue <- ev:
	default:
		dropped.WithLabelValues(string(ev.Kind)).Inc()
		e.logger.Warnw("state event dropped, emitter queue full", "kind", ev.Kind, "game_mode", ev.GameMode)
	}
}

func (e *Emitter) publishLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-e.queue:
			if !ok {
				return
			}
			e.publish(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(struct {
		Kind      Kind      `json:"kind"`
		GameMode  string    `json:"game_mode"`
		Payload   any       `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
	}{Kind: ev.Kind, GameMode: ev.GameMode, Payload: ev.Payload, Timestamp: ev.Timestamp})
	if err != nil {
		e.logger.Errorw("failed to marshal state event", "kind", ev.Kind, "error", err)
		return
	}

	channel := fmt.Sprintf("events:%s", ev.Kind)
	if err := e.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		e.logger.Errorw("failed to publish state event", "kind", ev.Kind, "channel", channel, "error", err)
		return
	}
	published.WithLabelValues(string(ev.Kind)).Inc()
}

func (e *Emitter) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			queueDepth.Set(float64(len(e.queue)))
		case <-ctx.Done():
			return
		}
	}
}
